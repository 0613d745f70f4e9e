package connection

// State is the connection lifecycle state. Exactly one holds at any instant.
type State uint8

const (
	// StateDisconnected is the initial state and the state after a requested disconnect.
	StateDisconnected State = iota

	// StateConnecting indicates a session is being opened.
	StateConnecting

	// StateConnected indicates the session reported itself open.
	StateConnected

	// StateReconnecting indicates a reconnect attempt is scheduled.
	StateReconnecting
)

// String returns the lower-case state name used in logs and JSON.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so states serialise by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseState converts a state name back to a State.
// Unknown names report false.
func ParseState(name string) (State, bool) {
	switch name {
	case "disconnected":
		return StateDisconnected, true
	case "connecting":
		return StateConnecting, true
	case "connected":
		return StateConnected, true
	case "reconnecting":
		return StateReconnecting, true
	default:
		return StateDisconnected, false
	}
}
