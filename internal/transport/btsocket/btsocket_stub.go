//go:build !linux

package btsocket

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/transport"
)

// Transport is the RFCOMM stub for platforms without user-space RFCOMM
// sockets. Every operation reports ErrUnsupported; callers fall back to
// BLE or the bridge.
type Transport struct {
	opts Options
}

func New(opts Options, _ *logrus.Logger) *Transport {
	return &Transport{opts: opts}
}

func (t *Transport) Kind() transport.Kind { return transport.KindBluetooth }

func (t *Transport) Profile() transport.Profile {
	return transport.Profile{Framing: transport.FramingStream, AckBased: true}
}

func (t *Transport) Open(context.Context) error {
	return &transport.OpenError{Kind: t.Kind(), Stage: "platform", Err: transport.ErrUnsupported}
}

func (t *Transport) Close() error                          { return nil }
func (t *Transport) IsOpen() bool                          { return false }
func (t *Transport) Send([]byte) error                     { return transport.ErrUnsupported }
func (t *Transport) Receive(context.Context) ([]byte, error) {
	return nil, transport.ErrUnsupported
}
func (t *Transport) Drain() error { return transport.ErrUnsupported }
