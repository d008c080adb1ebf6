// Package serialport implements the serial/USB transport on top of
// go.bug.st/serial.
package serialport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/srg/wearlink/internal/transport"
)

// Options configures the serial transport.
type Options struct {
	Port string // e.g. /dev/ttyUSB0, COM3
	Baud int
}

// Transport is a raw byte-stream channel over a serial port. Framing and
// command encoding are fully delegated to the vendor codec; Receive hands
// back whatever chunk the port produced.
type Transport struct {
	opts   Options
	logger *logrus.Logger

	mu      sync.Mutex // guards port/open and serializes Send
	port    serial.Port
	open    bool
	readBuf []byte
}

func New(opts Options, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Baud == 0 {
		opts.Baud = 115200
	}
	return &Transport{opts: opts, logger: logger, readBuf: make([]byte, 4096)}
}

func (t *Transport) Kind() transport.Kind { return transport.KindSerial }

func (t *Transport) Profile() transport.Profile {
	return transport.Profile{Framing: transport.FramingStream, AckBased: true}
}

func (t *Transport) Open(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		return nil
	}
	if t.opts.Port == "" {
		return &transport.OpenError{Kind: t.Kind(), Stage: "port", Err: fmt.Errorf("no serial port configured")}
	}
	port, err := serial.Open(t.opts.Port, &serial.Mode{BaudRate: t.opts.Baud})
	if err != nil {
		return &transport.OpenError{Kind: t.Kind(), Stage: "open", Err: err}
	}
	t.port = port
	t.open = true
	t.logger.WithFields(logrus.Fields{
		"port": t.opts.Port,
		"baud": t.opts.Baud,
	}).Info("Serial port opened")
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return nil
	}
	t.open = false
	err := t.port.Close() // unblocks a pending Read
	t.port = nil
	return err
}

func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *Transport) Send(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return transport.ErrNotOpen
	}
	_, err := t.port.Write(p)
	if err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}

// Receive blocks on the port read. A zero-length read or EOF means the
// device side of the link is gone and is reported as ErrStreamEnd.
func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	port := t.port
	open := t.open
	t.mu.Unlock()
	if !open {
		return nil, transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, err := port.Read(t.readBuf)
	if err != nil {
		if !t.IsOpen() {
			return nil, transport.ErrClosed
		}
		if err == io.EOF {
			return nil, transport.ErrStreamEnd
		}
		return nil, fmt.Errorf("serial read: %w", err)
	}
	if n == 0 {
		return nil, transport.ErrStreamEnd
	}
	out := make([]byte, n)
	copy(out, t.readBuf[:n])
	return out, nil
}

// Drain flushes the OS input buffer so the handshake starts from a clean
// byte stream.
func (t *Transport) Drain() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return transport.ErrNotOpen
	}
	return t.port.ResetInputBuffer()
}
