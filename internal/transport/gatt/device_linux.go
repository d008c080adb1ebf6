//go:build linux

package gatt

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// DeviceFactory creates the platform ble.Device. A package variable so
// tests can substitute a fake radio.
var DeviceFactory = func() (ble.Device, error) {
	return linux.NewDevice()
}
