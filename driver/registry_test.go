package driver_test

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/bplink/driver"
	"github.com/srg/bplink/internal/device"
	"github.com/srg/bplink/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopDriver struct{ model string }

func (d *nopDriver) Model() string                 { return d.model }
func (d *nopDriver) UsesLockUnlockHandshake() bool { return false }
func (d *nopDriver) WriteUnlockKey(context.Context) error {
	return nil
}
func (d *nopDriver) StartTransmission(context.Context) error { return nil }
func (d *nopDriver) EndTransmission(context.Context) error   { return nil }
func (d *nopDriver) GetRecords(context.Context, driver.ReadOptions) ([]records.UserSlotGroup, error) {
	return nil, nil
}

func factoryFor(model string) driver.Factory {
	return func(device.Link, *logrus.Logger) (driver.Driver, error) {
		return &nopDriver{model: model}, nil
	}
}

func TestRegistry(t *testing.T) {
	driver.Register("TEST-REG-A1", factoryFor("TEST-REG-A1"))
	driver.Register("test-reg-b2", factoryFor("TEST-REG-B2"))

	t.Run("builds registered models case-insensitively", func(t *testing.T) {
		d, err := driver.New("test-reg-a1", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "TEST-REG-A1", d.Model())
	})

	t.Run("rejects unknown models with the registered list", func(t *testing.T) {
		_, err := driver.New("NOPE-1", nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown device model "NOPE-1"`)
		assert.Contains(t, err.Error(), "TEST-REG-A1")
	})

	t.Run("lists models in registration order", func(t *testing.T) {
		models := driver.Models()
		idxA, idxB := -1, -1
		for i, m := range models {
			switch m {
			case "TEST-REG-A1":
				idxA = i
			case "TEST-REG-B2":
				idxB = i
			}
		}
		require.GreaterOrEqual(t, idxA, 0)
		require.GreaterOrEqual(t, idxB, 0)
		assert.Less(t, idxA, idxB)
	})

	t.Run("panics on duplicate registration", func(t *testing.T) {
		assert.Panics(t, func() {
			driver.Register("TEST-REG-A1", factoryFor("TEST-REG-A1"))
		})
	})

	t.Run("panics on empty model or nil factory", func(t *testing.T) {
		assert.Panics(t, func() { driver.Register("", factoryFor("")) })
		assert.Panics(t, func() { driver.Register("TEST-REG-C3", nil) })
	})
}
