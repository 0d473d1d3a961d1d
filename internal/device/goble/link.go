// Package goble adapts the go-ble library to the device abstractions. It is
// a thin transport layer; nothing in here knows about the vendor protocol.
package goble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bplink/internal/device"
	"github.com/srg/bplink/internal/groutine"
)

// Link implements device.Link and device.DataChannel on top of a go-ble
// client connection.
type Link struct {
	address   string
	logger    *logrus.Logger
	client    ble.Client
	level     device.SecurityLevel
	connected atomic.Bool

	mu    sync.RWMutex
	chars map[string]*ble.Characteristic
}

// NewLink creates an unconnected link to the given peripheral address.
func NewLink(address string, logger *logrus.Logger) *Link {
	if logger == nil {
		logger = logrus.New()
	}
	return &Link{address: device.NormalizeAddress(address), logger: logger}
}

func (l *Link) Address() string { return l.address }

func (l *Link) Connect(ctx context.Context) error {
	if l.connected.Load() {
		return device.ErrAlreadyConnected
	}

	transport, err := Transport()
	if err != nil {
		return device.NormalizeError(err)
	}

	client, err := transport.Dial(ctx, ble.NewAddr(l.address))
	if err != nil {
		return device.NormalizeError(err)
	}

	// Discover the full profile up front so drivers can address
	// characteristics by UUID without further round trips.
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		_ = client.CancelConnection()
		return fmt.Errorf("failed to discover profile: %w", device.NormalizeError(err))
	}

	chars := make(map[string]*ble.Characteristic)
	for _, svc := range profile.Services {
		for _, char := range svc.Characteristics {
			chars[device.NormalizeUUID(char.UUID.String())] = char
		}
	}

	l.mu.Lock()
	l.chars = chars
	l.mu.Unlock()

	l.client = client
	l.connected.Store(true)

	// Flip the flag when the peripheral drops the link on its own, so
	// IsConnected reflects reality and cleanup paths skip the disconnect.
	groutine.Go(ctx, "link-monitor-"+l.address, func(context.Context) {
		<-client.Disconnected()
		l.connected.Store(false)
		l.logger.WithField("address", l.address).Debug("peripheral dropped the link")
	})

	l.logger.WithField("address", l.address).Info("BLE link established")
	return nil
}

// Pair requests the given protection level for the link. The SMP exchange
// itself is driven lazily by the platform stack on first secured attribute
// access; here we record the requested level and verify link state.
func (l *Link) Pair(level device.SecurityLevel) error {
	if !l.connected.Load() {
		return device.ErrNotConnected
	}
	l.level = level
	l.logger.WithFields(logrus.Fields{
		"address": l.address,
		"level":   int(level),
	}).Debug("pairing level requested")
	return nil
}

func (l *Link) IsConnected() bool { return l.connected.Load() }

func (l *Link) Disconnect() error {
	if !l.connected.Swap(false) || l.client == nil {
		return nil
	}
	if err := l.client.CancelConnection(); err != nil {
		return device.NormalizeError(err)
	}
	l.logger.WithField("address", l.address).Info("BLE link closed")
	return nil
}

// characteristic resolves a UUID against the discovered profile.
func (l *Link) characteristic(charUUID string) (*ble.Characteristic, error) {
	if !l.connected.Load() {
		return nil, device.ErrNotConnected
	}
	l.mu.RLock()
	char, ok := l.chars[device.NormalizeUUID(charUUID)]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("characteristic %s not found on %s", charUUID, l.address)
	}
	return char, nil
}

func (l *Link) WriteCharacteristic(_ context.Context, charUUID string, data []byte) error {
	char, err := l.characteristic(charUUID)
	if err != nil {
		return err
	}
	if err := l.client.WriteCharacteristic(char, data, false); err != nil {
		return device.NormalizeError(err)
	}
	return nil
}

func (l *Link) ReadCharacteristic(_ context.Context, charUUID string) ([]byte, error) {
	char, err := l.characteristic(charUUID)
	if err != nil {
		return nil, err
	}
	data, err := l.client.ReadCharacteristic(char)
	if err != nil {
		return nil, device.NormalizeError(err)
	}
	return data, nil
}

func (l *Link) Subscribe(charUUID string, handler func(data []byte)) error {
	char, err := l.characteristic(charUUID)
	if err != nil {
		return err
	}
	if err := l.client.Subscribe(char, false, handler); err != nil {
		return device.NormalizeError(err)
	}
	return nil
}

func (l *Link) Unsubscribe(charUUID string) error {
	char, err := l.characteristic(charUUID)
	if err != nil {
		return err
	}
	if err := l.client.Unsubscribe(char, false); err != nil {
		return device.NormalizeError(err)
	}
	return nil
}
