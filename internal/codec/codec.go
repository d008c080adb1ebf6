// Package codec translates between transport payloads and the session's
// internal shapes: RawSample for data frames and ControlMessage for
// command acknowledgements. Each transport pairs with one codec: the
// bridge speaks JSON envelopes, the byte-stream transports delegate
// framing to the vendor decoding collaborator.
package codec

import (
	"errors"

	"github.com/srg/wearlink/internal/sensor"
)

// ErrMalformedFrame marks an undecodable payload. Recoverable: the read
// loop counts it, drops the payload and keeps going.
var ErrMalformedFrame = errors.New("malformed frame")

// Command is a transport-agnostic device command. The codec turns it into
// wire bytes: a JSON envelope on the bridge, vendor command bytes on the
// byte-stream transports.
type Command struct {
	Name string
	Args map[string]any
}

// ControlMessage is an acknowledgement or error envelope. Token correlates
// it with the command that triggered it; an empty token targets the oldest
// pending acknowledgement.
type ControlMessage struct {
	Token  string
	OK     bool
	Reason string
}

// Event is one decoded unit: exactly one of Sample or Control is set.
type Event struct {
	Sample  *sensor.RawSample
	Control *ControlMessage
}

// Codec decodes inbound payloads and encodes outbound commands.
type Codec interface {
	// Decode translates one transport payload into zero or more events.
	// Stream codecs may buffer a partial frame and return nothing.
	// Undecodable input returns ErrMalformedFrame (possibly wrapped).
	Decode(p []byte) ([]Event, error)

	// EncodeCommand produces the wire form of cmd.
	EncodeCommand(cmd Command) ([]byte, error)

	// Reset drops any buffered partial frame. Called when the handshake
	// drains the transport.
	Reset()
}

// FrameDecoder is the vendor decoding collaborator for byte-stream
// transports. Decode inspects buffered bytes, cuts as many complete
// frames as it can, and reports how many bytes it consumed. The internal
// packet layout is the vendor's business; consumed bytes that yield no
// event are simply discarded.
type FrameDecoder interface {
	Decode(buf []byte) (consumed int, events []Event, err error)
}

// CommandEncoder is the vendor command-encoding collaborator for
// byte-stream transports.
type CommandEncoder interface {
	EncodeCommand(name string, args map[string]any) ([]byte, error)
}
