// Package wsbridge implements the relay-bridge transport: JSON envelopes
// over a WebSocket, used when the host has no local radio access. One text
// frame per Receive; the codec package owns the envelope schema.
package wsbridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/transport"
)

// Options configures the bridge transport.
type Options struct {
	// URL of the bridge endpoint, e.g. ws://host:8765/device.
	URL string
	// HandshakeTimeout bounds the WebSocket dial.
	HandshakeTimeout time.Duration
}

// Transport is a message-oriented, ack-based channel. A single reader
// (the session read loop) calls Receive; Send is serialized by a write
// mutex per gorilla's concurrency contract.
type Transport struct {
	opts   Options
	logger *logrus.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	open    bool
	writeMu sync.Mutex
}

func New(opts Options, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	return &Transport{opts: opts, logger: logger}
}

func (t *Transport) Kind() transport.Kind { return transport.KindBridge }

func (t *Transport) Profile() transport.Profile {
	return transport.Profile{Framing: transport.FramingMessage, AckBased: true}
}

func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		return nil
	}
	if t.opts.URL == "" {
		return &transport.OpenError{Kind: t.Kind(), Stage: "url", Err: fmt.Errorf("no bridge URL configured")}
	}
	dialer := websocket.Dialer{HandshakeTimeout: t.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, t.opts.URL, nil)
	if err != nil {
		return &transport.OpenError{Kind: t.Kind(), Stage: "dial", Err: err}
	}
	t.conn = conn
	t.open = true
	t.logger.WithField("url", t.opts.URL).Info("Bridge connected")
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return nil
	}
	t.open = false
	conn := t.conn
	t.conn = nil

	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return conn.Close() // unblocks a pending ReadMessage
}

func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *Transport) Send(p []byte) error {
	t.mu.Lock()
	conn := t.conn
	open := t.open
	t.mu.Unlock()
	if !open {
		return transport.ErrNotOpen
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return fmt.Errorf("bridge write: %w", err)
	}
	return nil
}

func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	open := t.open
	t.mu.Unlock()
	if !open {
		return nil, transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		if !t.IsOpen() {
			return nil, transport.ErrClosed
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
			return nil, transport.ErrStreamEnd
		}
		return nil, fmt.Errorf("bridge read: %w", err)
	}
	return data, nil
}

// Drain is a no-op: the bridge is message-oriented and holds no stale byte
// backlog; draining semantics live on the device side of the relay.
func (t *Transport) Drain() error {
	if !t.IsOpen() {
		return transport.ErrNotOpen
	}
	return nil
}
