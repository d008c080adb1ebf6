package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when the transport was closed locally.
	ErrClosed = errors.New("transport closed")
	// ErrStreamEnd is returned when the remote end went away. Fatal for a
	// streaming session.
	ErrStreamEnd = errors.New("end of stream")
	// ErrUnsupported is returned by backends not available on this platform.
	ErrUnsupported = errors.New("transport not supported on this platform")
	// ErrNotOpen is returned by Send/Receive before a successful Open.
	ErrNotOpen = errors.New("transport not open")
)

// OpenError reports a failed Open, naming the stage that failed so the
// caller can surface "BLE service discovery timeout" rather than a raw
// error chain.
type OpenError struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%s open failed at %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// Is allows errors.Is comparison against a stage-only template.
func (e *OpenError) Is(target error) bool {
	t, ok := target.(*OpenError)
	if !ok {
		return false
	}
	return (t.Kind == "" || t.Kind == e.Kind) && (t.Stage == "" || t.Stage == e.Stage)
}
