package main

import (
	"errors"

	"github.com/srg/bplink/internal/device"
)

// FormatUserError rewrites known failure modes into actionable messages for
// terminal users. Unknown errors pass through unchanged.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off. Enable it and try again."
	case errors.Is(err, device.ErrNotConnected):
		return "The monitor dropped the connection. Move it closer and retry."
	default:
		return err.Error()
	}
}
