// Package transport defines the capability interface shared by the four
// physical channel implementations (serial, classic Bluetooth socket, BLE
// GATT, WebSocket bridge). The session orchestrator drives all of them
// through this interface; transport selection happens at construction time.
package transport

import "context"

// Kind names a transport backend.
type Kind string

const (
	KindSerial    Kind = "serial"
	KindBluetooth Kind = "bluetooth"
	KindBLE       Kind = "ble"
	KindBridge    Kind = "bridge"
)

// Framing describes how payloads arrive from Receive.
type Framing int

const (
	// FramingStream delivers arbitrary byte chunks; frame boundaries are
	// the codec's problem.
	FramingStream Framing = iota
	// FramingMessage delivers one complete message per Receive call.
	FramingMessage
)

// Profile describes the transport's semantics so the handshake sequencer
// can pick the right step variants.
type Profile struct {
	Framing Framing
	// AckBased transports confirm commands; handshake steps wait on
	// acknowledgements. On non-ack transports the same steps degrade to
	// send-and-settle.
	AckBased bool
}

// Transport is one open physical channel. The underlying socket/stream is
// exclusively owned by the implementation: only its own read loop calls
// Receive and only Send writes to it. Open/Close manage that channel only;
// device-level state is the orchestrator's business.
type Transport interface {
	// Open establishes the channel. Failures are reported as *OpenError
	// naming the stage that failed.
	Open(ctx context.Context) error

	// Close tears the channel down and unblocks a pending Receive. Safe to
	// call more than once.
	Close() error

	// Send writes one command payload. Serialized internally.
	Send(p []byte) error

	// Receive blocks until the next payload, the context is cancelled, or
	// the channel dies. A dead channel is reported as ErrStreamEnd; a
	// locally closed one as ErrClosed.
	Receive(ctx context.Context) ([]byte, error)

	// Drain discards buffered inbound data. Used by the handshake to get
	// rid of stale bytes before reconfiguring the device.
	Drain() error

	IsOpen() bool
	Kind() Kind
	Profile() Profile
}
