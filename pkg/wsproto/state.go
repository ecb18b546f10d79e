package wsproto

// State is the protocol lifecycle position of one connection.
type State int

const (
	// StateConnected is the initial state: socket open, not yet authenticated.
	StateConnected State = iota
	// StateAuthenticated allows subscription management and delivery.
	StateAuthenticated
	// StateTerminated is final: the socket is closed and the connection
	// removed from the registry.
	StateTerminated
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
