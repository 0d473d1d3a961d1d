// Package testutils provides hand-built fakes for the BLE transport and the
// vendor protocol driver, plus text/JSON assertion helpers. Fakes record the
// calls they receive so tests can verify orchestration order and cleanup.
package testutils

import (
	"context"
	"fmt"
	"time"

	"github.com/srg/bplink/driver"
	"github.com/srg/bplink/internal/device"
	"github.com/srg/bplink/records"
)

// StaticDeviceInfo is a fixed device.DeviceInfo for tests.
type StaticDeviceInfo struct {
	DeviceName string
	Addr       string
	Rssi       int
}

func (d StaticDeviceInfo) Name() string                 { return d.DeviceName }
func (d StaticDeviceInfo) Address() string              { return d.Addr }
func (d StaticDeviceInfo) RSSI() int                    { return d.Rssi }
func (d StaticDeviceInfo) IsConnectable() bool          { return true }
func (d StaticDeviceInfo) AdvertisedServices() []string { return nil }

// FakeDiscoverer resolves addresses from a fixed table.
type FakeDiscoverer struct {
	Known map[string]device.DeviceInfo
	Err   error

	Lookups []string
}

func (d *FakeDiscoverer) FindByAddress(_ context.Context, address string, _ time.Duration) (device.DeviceInfo, bool, error) {
	d.Lookups = append(d.Lookups, address)
	if d.Err != nil {
		return nil, false, d.Err
	}
	info, ok := d.Known[device.NormalizeAddress(address)]
	return info, ok, nil
}

// FakeLink scripts link behavior and counts the calls it receives.
type FakeLink struct {
	Addr string

	ConnectErr    error
	PairErr       error
	DisconnectErr error

	// DropAfterPair simulates a link that pairs at the transport layer
	// but then reports not-connected.
	DropAfterPair bool

	Connects    int
	Pairs       int
	Disconnects int
	PairedLevel device.SecurityLevel

	connected bool
}

func (l *FakeLink) Address() string { return l.Addr }

func (l *FakeLink) Connect(context.Context) error {
	l.Connects++
	if l.ConnectErr != nil {
		return l.ConnectErr
	}
	l.connected = true
	return nil
}

func (l *FakeLink) Pair(level device.SecurityLevel) error {
	l.Pairs++
	l.PairedLevel = level
	if l.PairErr != nil {
		return l.PairErr
	}
	if l.DropAfterPair {
		l.connected = false
	}
	return nil
}

func (l *FakeLink) IsConnected() bool { return l.connected }

func (l *FakeLink) Disconnect() error {
	l.Disconnects++
	l.connected = false
	return l.DisconnectErr
}

// FakeDriver serves canned record groups and supports failure injection at
// every protocol step. Calls records the step names in invocation order.
type FakeDriver struct {
	ModelName  string
	LockUnlock bool
	Groups     []records.UserSlotGroup

	UnlockErr error
	StartErr  error
	ReadErr   error
	EndErr    error

	// ReadGate, when non-nil, blocks GetRecords until the gate is closed
	// or the context ends. ReadEntered, when non-nil, receives a signal as
	// the read begins, so tests can park a session inside the driver.
	ReadGate    chan struct{}
	ReadEntered chan struct{}

	Calls    []string
	LastOpts driver.ReadOptions
}

func (d *FakeDriver) Model() string {
	if d.ModelName == "" {
		return "FAKE-BP-1"
	}
	return d.ModelName
}

func (d *FakeDriver) UsesLockUnlockHandshake() bool { return d.LockUnlock }

func (d *FakeDriver) WriteUnlockKey(context.Context) error {
	d.Calls = append(d.Calls, "unlock")
	return d.UnlockErr
}

func (d *FakeDriver) StartTransmission(context.Context) error {
	d.Calls = append(d.Calls, "start")
	return d.StartErr
}

func (d *FakeDriver) EndTransmission(context.Context) error {
	d.Calls = append(d.Calls, "end")
	return d.EndErr
}

func (d *FakeDriver) GetRecords(ctx context.Context, opts driver.ReadOptions) ([]records.UserSlotGroup, error) {
	d.Calls = append(d.Calls, "read")
	d.LastOpts = opts
	if d.ReadEntered != nil {
		d.ReadEntered <- struct{}{}
	}
	if d.ReadGate != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.ReadGate:
		}
	}
	if d.ReadErr != nil {
		return nil, d.ReadErr
	}
	return d.Groups, nil
}

// FakeAdvertisement is a scripted advertisement frame.
type FakeAdvertisement struct {
	Name        string
	Address     string
	Rssi        int
	TxPower     int
	CanConnect  bool
	ServiceUUID []string
	ManufData   []byte
	SvcData     []device.ServiceData
}

func (a FakeAdvertisement) LocalName() string                { return a.Name }
func (a FakeAdvertisement) Addr() string                     { return a.Address }
func (a FakeAdvertisement) RSSI() int                        { return a.Rssi }
func (a FakeAdvertisement) TxPowerLevel() int                { return a.TxPower }
func (a FakeAdvertisement) Connectable() bool                { return a.CanConnect }
func (a FakeAdvertisement) Services() []string               { return a.ServiceUUID }
func (a FakeAdvertisement) ManufacturerData() []byte         { return a.ManufData }
func (a FakeAdvertisement) ServiceData() []device.ServiceData { return a.SvcData }

// FakeScanningDevice replays advertisements into the scan handler, then
// blocks until the scan context ends, like a real radio would.
type FakeScanningDevice struct {
	Advertisements []device.Advertisement
	Err            error

	Scans int
}

func (s *FakeScanningDevice) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	s.Scans++
	if s.Err != nil {
		return s.Err
	}
	for _, adv := range s.Advertisements {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		handler(adv)
	}
	<-ctx.Done()
	return ctx.Err()
}

// ErrScripted builds a distinguishable injected failure.
func ErrScripted(step string) error {
	return fmt.Errorf("scripted %s failure", step)
}
