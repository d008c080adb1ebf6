// Package wearlink is the public entry point: it assembles a device
// session from configuration, selecting the transport backend at
// construction time.
package wearlink

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/wearlink/internal/codec"
	"github.com/srg/wearlink/internal/config"
	"github.com/srg/wearlink/internal/sensor"
	"github.com/srg/wearlink/internal/session"
	"github.com/srg/wearlink/internal/transport"
	"github.com/srg/wearlink/internal/transport/btsocket"
	"github.com/srg/wearlink/internal/transport/gatt"
	"github.com/srg/wearlink/internal/transport/serialport"
	"github.com/srg/wearlink/internal/transport/wsbridge"
)

// Re-exported types so library consumers do not import internal packages.
type (
	Config        = config.Config
	Configuration = sensor.Configuration
	Sample        = sensor.UnifiedSample
	Channel       = sensor.Channel
	Session       = session.Session
	State         = session.State
	Stats         = session.Stats
)

// Vendor bundles the byte-protocol collaborators for the stream
// transports (serial, classic Bluetooth, BLE). Leave zero to fall back to
// the built-in newline-delimited JSON framing used by bench rigs.
type Vendor struct {
	Decoder  codec.FrameDecoder
	Commands codec.CommandEncoder
}

// NewSession builds a session over the transport named in cfg.
func NewSession(id string, cfg *Config, vendor Vendor, logger *logrus.Logger) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.New()
	}

	var (
		tr   transport.Transport
		addr = cfg.Address
	)
	switch cfg.Transport {
	case "serial":
		tr = serialport.New(serialport.Options{Port: cfg.Address, Baud: cfg.Baud}, logger)
	case "bluetooth":
		tr = btsocket.New(btsocket.Options{Address: cfg.Address, Channel: cfg.RFCOMMChannel}, logger)
	case "ble":
		tr = gatt.New(gatt.Options{Address: cfg.Address}, logger)
	case "bridge":
		tr = wsbridge.New(wsbridge.Options{URL: cfg.URL}, logger)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	var cod codec.Codec
	if tr.Profile().Framing == transport.FramingMessage {
		cod = codec.NewBridgeCodec()
	} else {
		dec, enc := vendor.Decoder, vendor.Commands
		if dec == nil || enc == nil {
			jl := codec.NewJSONLines()
			if dec == nil {
				dec = jl
			}
			if enc == nil {
				enc = jl
			}
		}
		cod = codec.NewStreamCodec(dec, enc)
	}

	return session.New(id, addr, tr, cod, logger), nil
}
