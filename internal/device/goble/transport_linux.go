//go:build linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// Transport creates the platform BLE transport. Variable so tests can inject
// a fake.
var Transport = func() (ble.Device, error) {
	return linux.NewDevice()
}
