// Package wsproto implements the per-connection protocol state machine.
//
// Each open socket gets a Session that walks the connected -> authenticated
// -> terminated lifecycle. Inbound JSON frames drive transitions through
// HandleMessage; the session answers on the same socket and mutates the
// connection registry as a side effect. Authentication failure is the only
// transition that closes the socket. All other errors are reported in-band.
//
// The session also carries the liveness flag the heartbeat monitor uses:
// the monitor clears the flag and sends a transport ping, and the pong
// handler sets it again through MarkAlive.
//
// Transport concerns (upgrading, read loops, deadlines) stay outside this
// package behind the Socket interface, so the protocol logic is testable
// without a network connection.
package wsproto
