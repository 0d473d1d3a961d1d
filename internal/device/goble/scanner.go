package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/srg/bplink/internal/device"
)

// bleScanner wraps ble.Device to implement device.ScanningDevice.
type bleScanner struct {
	dev ble.Device
}

// Scan adapts the raw ble.Device.Scan handler to device.Advertisement.
func (s *bleScanner) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	bleHandler := func(adv ble.Advertisement) {
		handler(NewAdvertisement(adv))
	}
	if err := s.dev.Scan(ctx, allowDup, bleHandler); err != nil {
		return device.NormalizeError(err)
	}
	return nil
}

// NewScanningDevice creates a device.ScanningDevice backed by the platform
// BLE transport.
func NewScanningDevice() (device.ScanningDevice, error) {
	dev, err := Transport()
	if err != nil {
		return nil, device.NormalizeError(err)
	}
	return &bleScanner{dev: dev}, nil
}
