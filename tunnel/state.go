package tunnel

// State identifies where a session is in its lifecycle.
type State uint8

const (
	// StateConnecting means the socket is established but nothing has been
	// exchanged yet.
	StateConnecting State = iota

	// StateHandshaking means the optional key agreement is in flight.
	StateHandshaking

	// StateActive means the session is carrying traffic.
	StateActive

	// StateClosing means shutdown has begun: pending writes flush, no new
	// operations are accepted.
	StateClosing

	// StateClosed is terminal; socket resources are released.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
