//go:build darwin

package goble

import (
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// Transport creates the platform BLE transport. Variable so tests can inject
// a fake.
var Transport = func() (ble.Device, error) {
	dev, err := darwin.NewDevice()
	if err != nil {
		// CoreBluetooth reports a powered-off adapter as an invalid
		// central manager state; surface something actionable.
		if strings.Contains(err.Error(), "central manager has invalid state") {
			return nil, fmt.Errorf("bluetooth is turned off or not ready: %w", err)
		}
		return nil, err
	}
	return dev, nil
}
