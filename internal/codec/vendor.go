package codec

import (
	"fmt"

	"github.com/smallnest/ringbuffer"
)

const streamBufferSize = 64 * 1024

// StreamCodec adapts the vendor decoding collaborator to the Codec
// interface for byte-stream transports. Transport reads arrive in
// arbitrary chunks; a ring buffer carries the partial frame between
// Decode calls and the vendor decoder cuts complete frames out of it.
type StreamCodec struct {
	dec     FrameDecoder
	enc     CommandEncoder
	ring    *ringbuffer.RingBuffer
	scratch []byte
}

func NewStreamCodec(dec FrameDecoder, enc CommandEncoder) *StreamCodec {
	return &StreamCodec{
		dec:     dec,
		enc:     enc,
		ring:    ringbuffer.New(streamBufferSize),
		scratch: make([]byte, 0, 4096),
	}
}

func (c *StreamCodec) EncodeCommand(cmd Command) ([]byte, error) {
	return c.enc.EncodeCommand(cmd.Name, cmd.Args)
}

// Reset drops the buffered partial frame; paired with the handshake's
// transport drain so both sides of the reassembly state clear together.
func (c *StreamCodec) Reset() {
	c.ring.Reset()
}

func (c *StreamCodec) Decode(p []byte) ([]Event, error) {
	if c.ring.Free() < len(p) {
		// Backlog means nobody consumed frames for a long time; favor
		// fresh data over stale.
		c.ring.Reset()
	}
	if _, err := c.ring.Write(p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	n := c.ring.Length()
	if cap(c.scratch) < n {
		c.scratch = make([]byte, 0, n)
	}
	buf := c.scratch[:n]
	if _, err := c.ring.Read(buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	consumed, events, err := c.dec.Decode(buf)
	if consumed < 0 || consumed > len(buf) {
		consumed = len(buf)
	}
	// Unconsumed tail is the start of an incomplete frame; keep it.
	if consumed < len(buf) {
		if _, werr := c.ring.Write(buf[consumed:]); werr != nil {
			c.ring.Reset()
		}
	}
	if err != nil {
		return events, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return events, nil
}
