//go:build !darwin && !linux

package gatt

import (
	"github.com/go-ble/ble"

	"github.com/srg/wearlink/internal/transport"
)

// DeviceFactory creates the platform ble.Device. No radio backend exists
// on this platform; use the WebSocket bridge instead.
var DeviceFactory = func() (ble.Device, error) {
	return nil, transport.ErrUnsupported
}
