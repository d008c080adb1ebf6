//go:build linux

package btsocket

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/srg/wearlink/internal/transport"
)

// Transport is a classic Bluetooth RFCOMM byte stream. Like the serial
// transport it carries raw vendor bytes; framing belongs to the codec.
type Transport struct {
	opts   Options
	logger *logrus.Logger

	mu      sync.Mutex
	fd      int
	open    bool
	readBuf []byte
}

func New(opts Options, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Channel == 0 {
		opts.Channel = 1
	}
	return &Transport{opts: opts, logger: logger, fd: -1, readBuf: make([]byte, 4096)}
}

func (t *Transport) Kind() transport.Kind { return transport.KindBluetooth }

func (t *Transport) Profile() transport.Profile {
	return transport.Profile{Framing: transport.FramingStream, AckBased: true}
}

func (t *Transport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		return nil
	}
	addr, err := parseMAC(t.opts.Address)
	if err != nil {
		return &transport.OpenError{Kind: t.Kind(), Stage: "address", Err: err}
	}
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM, unix.BTPROTO_RFCOMM)
	if err != nil {
		return &transport.OpenError{Kind: t.Kind(), Stage: "socket", Err: err}
	}
	sa := &unix.SockaddrRFCOMM{Addr: addr, Channel: t.opts.Channel}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return &transport.OpenError{Kind: t.Kind(), Stage: "connect", Err: err}
	}
	if err := ctx.Err(); err != nil {
		unix.Close(fd)
		return &transport.OpenError{Kind: t.Kind(), Stage: "connect", Err: err}
	}
	t.fd = fd
	t.open = true
	t.logger.WithFields(logrus.Fields{
		"address": t.opts.Address,
		"channel": t.opts.Channel,
	}).Info("RFCOMM socket connected")
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return nil
	}
	t.open = false
	fd := t.fd
	t.fd = -1
	// Shutdown first so a blocked Read returns instead of lingering.
	unix.Shutdown(fd, unix.SHUT_RDWR)
	return unix.Close(fd)
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
	if _, err := unix.Write(t.fd, p); err != nil {
		return fmt.Errorf("rfcomm write: %w", err)
	}
	return nil
}

func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	fd := t.fd
	open := t.open
	t.mu.Unlock()
	if !open {
		return nil, transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, err := unix.Read(fd, t.readBuf)
	if err != nil {
		if !t.IsOpen() {
			return nil, transport.ErrClosed
		}
		return nil, fmt.Errorf("rfcomm read: %w", err)
	}
	if n <= 0 {
		if !t.IsOpen() {
			return nil, transport.ErrClosed
		}
		return nil, transport.ErrStreamEnd
	}
	out := make([]byte, n)
	copy(out, t.readBuf[:n])
	return out, nil
}

// Drain reads whatever is immediately available and throws it away.
func (t *Transport) Drain() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return transport.ErrNotOpen
	}
	buf := make([]byte, 1024)
	for {
		n, _, err := unix.Recvfrom(t.fd, buf, unix.MSG_DONTWAIT)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil
		}
		if err != nil {
			return fmt.Errorf("rfcomm drain: %w", err)
		}
		if n <= 0 {
			return nil
		}
	}
}
