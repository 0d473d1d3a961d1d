package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bplink/internal/device"
	"github.com/srg/bplink/internal/devicefactory"
	"github.com/srg/bplink/internal/testutils"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func withFakeTransport(t *testing.T, fake *testutils.FakeScanningDevice) {
	t.Helper()
	orig := devicefactory.NewScanningDevice
	devicefactory.NewScanningDevice = func() (device.ScanningDevice, error) {
		return fake, nil
	}
	t.Cleanup(func() { devicefactory.NewScanningDevice = orig })
}

func advFor(name, addr string, rssi int) testutils.FakeAdvertisement {
	return testutils.FakeAdvertisement{
		Name:       name,
		Address:    addr,
		Rssi:       rssi,
		TxPower:    127,
		CanConnect: true,
	}
}

func TestScanCollectsDevices(t *testing.T) {
	withFakeTransport(t, &testutils.FakeScanningDevice{
		Advertisements: []device.Advertisement{
			advFor("HEM-7142T1", "00:5f:bf:88:a1:c2", -60),
			advFor("", "11:22:33:44:55:66", -80),
			// Second frame for a known device updates, not duplicates.
			advFor("HEM-7142T1", "00:5F:BF:88:A1:C2", -55),
		},
	})

	s, err := NewScanner(quietLogger())
	require.NoError(t, err)

	entries, err := s.Scan(context.Background(), &ScanOptions{Duration: 50 * time.Millisecond}, nil)
	require.NoError(t, err)

	require.Len(t, entries, 2)
	entry, ok := entries["00:5F:BF:88:A1:C2"]
	require.True(t, ok)
	assert.Equal(t, "HEM-7142T1", entry.Device.Name())
	assert.Equal(t, -55, entry.Device.RSSI())
	assert.False(t, entry.LastSeen.IsZero())
}

func TestScanAppliesFilters(t *testing.T) {
	withFakeTransport(t, &testutils.FakeScanningDevice{
		Advertisements: []device.Advertisement{
			advFor("HEM-7142T1", "00:5F:BF:88:A1:C2", -60),
			advFor("Headphones", "11:22:33:44:55:66", -40),
			advFor("Watch", "77:88:99:AA:BB:CC", -50),
		},
	})

	s, err := NewScanner(quietLogger())
	require.NoError(t, err)

	entries, err := s.Scan(context.Background(), &ScanOptions{
		Duration:  50 * time.Millisecond,
		AllowList: []string{"00:5f:bf:88:a1:c2", "77:88:99:aa:bb:cc"},
		BlockList: []string{"77:88:99:AA:BB:CC"},
	}, nil)
	require.NoError(t, err)

	require.Len(t, entries, 1)
	_, ok := entries["00:5F:BF:88:A1:C2"]
	assert.True(t, ok)
}

func TestScanFiltersByServiceUUID(t *testing.T) {
	monitor := advFor("HEM-7142T1", "00:5F:BF:88:A1:C2", -60)
	monitor.ServiceUUID = []string{"ecbe3980-c9a2-11e1-b1bd-0002a5d5c51b"}
	withFakeTransport(t, &testutils.FakeScanningDevice{
		Advertisements: []device.Advertisement{
			monitor,
			advFor("Headphones", "11:22:33:44:55:66", -40),
		},
	})

	s, err := NewScanner(quietLogger())
	require.NoError(t, err)

	entries, err := s.Scan(context.Background(), &ScanOptions{
		Duration:     50 * time.Millisecond,
		ServiceUUIDs: []string{"ECBE3980-C9A2-11E1-B1BD-0002A5D5C51B"},
	}, nil)
	require.NoError(t, err)

	require.Len(t, entries, 1)
	_, ok := entries["00:5F:BF:88:A1:C2"]
	assert.True(t, ok)
}

func TestScanTransportError(t *testing.T) {
	withFakeTransport(t, &testutils.FakeScanningDevice{Err: testutils.ErrScripted("radio")})

	s, err := NewScanner(quietLogger())
	require.NoError(t, err)

	_, err = s.Scan(context.Background(), &ScanOptions{Duration: 50 * time.Millisecond}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan failed")
}

func TestFindByAddressStopsEarly(t *testing.T) {
	fake := &testutils.FakeScanningDevice{
		Advertisements: []device.Advertisement{
			advFor("HEM-7142T1", "00:5F:BF:88:A1:C2", -60),
		},
	}
	withFakeTransport(t, fake)

	s, err := NewScanner(quietLogger())
	require.NoError(t, err)

	start := time.Now()
	info, found, err := s.FindByAddress(context.Background(), "00:5f:bf:88:a1:c2", 10*time.Second)
	require.NoError(t, err)

	require.True(t, found)
	assert.Equal(t, "HEM-7142T1", info.Name())
	assert.Equal(t, "00:5F:BF:88:A1:C2", info.Address())
	// The target was in the first frame, so the scan must not run out the
	// full timeout.
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFindByAddressNotFound(t *testing.T) {
	withFakeTransport(t, &testutils.FakeScanningDevice{
		Advertisements: []device.Advertisement{
			advFor("Headphones", "11:22:33:44:55:66", -40),
		},
	})

	s, err := NewScanner(quietLogger())
	require.NoError(t, err)

	info, found, err := s.FindByAddress(context.Background(), "00:5F:BF:88:A1:C2", 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, info)
}

func TestFindByAddressRejectsEmpty(t *testing.T) {
	s, err := NewScanner(quietLogger())
	require.NoError(t, err)

	_, _, err = s.FindByAddress(context.Background(), "  ", time.Second)
	require.Error(t, err)
}

func TestScanEmitsEvents(t *testing.T) {
	withFakeTransport(t, &testutils.FakeScanningDevice{
		Advertisements: []device.Advertisement{
			advFor("HEM-7142T1", "00:5F:BF:88:A1:C2", -60),
			advFor("HEM-7142T1", "00:5F:BF:88:A1:C2", -58),
		},
	})

	s, err := NewScanner(quietLogger())
	require.NoError(t, err)

	_, err = s.Scan(context.Background(), &ScanOptions{Duration: 50 * time.Millisecond}, nil)
	require.NoError(t, err)

	first := <-s.Events()
	assert.Equal(t, EventNew, first.Type)
	second := <-s.Events()
	assert.Equal(t, EventUpdated, second.Type)
}
