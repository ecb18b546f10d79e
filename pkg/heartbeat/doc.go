// Package heartbeat bounds how long a dead socket stays registered.
//
// The monitor sweeps all open sessions on a fixed interval. A session that
// failed to answer the previous tick's ping is terminated; the rest get
// their liveness flag cleared and a fresh transport ping. Sessions prove
// liveness by setting the flag from their pong handler.
package heartbeat
