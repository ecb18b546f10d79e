// Package registry tracks live connections, their owning API keys, and the
// channel subscription index used for fanout.
//
// The registry maintains a bidirectional invariant: a connection's
// subscription set and the channel->connections index always agree. Both
// sides of every mutation happen under one mutex, so no reader can observe
// a channel entry pointing at a connection that is no longer registered or
// vice versa.
//
// Reads used for delivery (ConnectionsForChannel) return snapshots with weak
// consistency: the set may change immediately after it is taken, and callers
// must tolerate one failed delivery attempt to a just-removed connection.
package registry
