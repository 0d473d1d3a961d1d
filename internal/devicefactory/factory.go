// Package devicefactory holds the construction points for BLE transport
// objects. They are variables so tests can substitute fakes without touching
// the hardware stack.
package devicefactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/bplink/internal/device"
	"github.com/srg/bplink/internal/device/goble"
)

// NewScanningDevice creates the BLE scanning transport.
var NewScanningDevice = func() (device.ScanningDevice, error) {
	return goble.NewScanningDevice()
}

// NewLink creates a fresh link to the given peripheral address. One link per
// session; links are never reused across sessions.
var NewLink = func(address string, logger *logrus.Logger) device.Link {
	return goble.NewLink(address, logger)
}
