// Package btsocket implements the classic Bluetooth RFCOMM socket
// transport. Only Linux exposes RFCOMM sockets to user space; other
// platforms get a stub that reports ErrUnsupported.
package btsocket

import "fmt"

// Options configures the RFCOMM transport.
type Options struct {
	// Address is the device MAC, "AA:BB:CC:DD:EE:FF".
	Address string
	// Channel is the RFCOMM channel, almost always 1 for SPP devices.
	Channel uint8
}

// parseMAC converts a colon-separated MAC into the byte order the kernel
// RFCOMM sockaddr expects (least significant byte first).
func parseMAC(s string) ([6]byte, error) {
	var out [6]byte
	var b [6]int
	n, err := fmt.Sscanf(s, "%02x:%02x:%02x:%02x:%02x:%02x",
		&b[0], &b[1], &b[2], &b[3], &b[4], &b[5])
	if err != nil || n != 6 {
		return out, fmt.Errorf("invalid bluetooth address %q", s)
	}
	for i := 0; i < 6; i++ {
		out[i] = byte(b[5-i])
	}
	return out, nil
}
