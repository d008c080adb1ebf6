package session

import "fmt"

// State is the session lifecycle state. Transitions are strictly
// sequential; a single command mutex guarantees no concurrent transition
// is in flight for the same session.
type State int

const (
	Idle State = iota
	Connecting
	Configuring
	// Configured means the transport is open and the device accepted its
	// configuration; IsConnected() is true but no samples flow yet.
	Configured
	Streaming
	Stopping
	Disconnected
	// Failed is terminal for the current connect and behaves like
	// Disconnected for the purpose of allowing a fresh Connect.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Configuring:
		return "configuring"
	case Configured:
		return "configured"
	case Streaming:
		return "streaming"
	case Stopping:
		return "stopping"
	case Disconnected:
		return "disconnected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// canConnect reports whether a fresh Connect (or Configure) is legal.
func (s State) canConnect() bool {
	return s == Idle || s == Disconnected || s == Failed
}

// StateError reports a command issued in a state where it is not legal.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed while %s", e.Op, e.State)
}

// Is matches StateError templates by operation name.
func (e *StateError) Is(target error) bool {
	t, ok := target.(*StateError)
	if !ok {
		return false
	}
	return t.Op == "" || t.Op == e.Op
}
