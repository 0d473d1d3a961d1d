// Package scanner handles BLE device discovery: timed scans with address
// filters, and targeted lookup of a single peripheral by address.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/bplink/internal/device"
	"github.com/srg/bplink/internal/devicefactory"
	"github.com/srg/bplink/internal/ringchan"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

// DeviceEvent is emitted for every processed advertisement.
type DeviceEvent struct {
	Type       DeviceEventType
	DeviceInfo device.DeviceInfo
	Timestamp  time.Time
}

// DeviceEntry pairs a discovered peripheral with the time it was last seen.
type DeviceEntry struct {
	Device   device.DeviceInfo
	LastSeen time.Time
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	AllowList       []string
	BlockList       []string

	// ServiceUUIDs keeps only peripherals advertising at least one of
	// these services.
	ServiceUUIDs []string

	// onDiscovered fires for every newly inserted peripheral. Used by
	// FindByAddress to cut a targeted scan short.
	onDiscovered func(address string)
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// Scanner performs BLE discovery runs. One discovery run at a time.
type Scanner struct {
	devices *hashmap.Map[string, *device.Peripheral]
	events  *ringchan.RingChannel[DeviceEvent]
	logger  *logrus.Logger

	scanOptions *ScanOptions
}

// NewScanner creates a new BLE scanner
func NewScanner(logger *logrus.Logger) (*Scanner, error) {
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		events: ringchan.New[DeviceEvent](100),
		logger: logger,
	}, nil
}

// Scan performs BLE discovery with the provided options and returns the
// peripherals seen, keyed by normalized address.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) (map[string]DeviceEntry, error) {
	s.devices = hashmap.New[string, *device.Peripheral]()

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan")
	progressCallback("Scanning")

	transport, err := devicefactory.NewScanningDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE scanning device: %w", err)
	}

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.scanOptions = opts
	defer func() {
		s.scanOptions = nil
	}()
	err = transport.Scan(scanCtx, opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	entries := make(map[string]DeviceEntry, s.devices.Len())
	s.devices.Range(func(key string, p *device.Peripheral) bool {
		entries[key] = DeviceEntry{Device: p, LastSeen: p.LastSeen()}
		return true
	})

	return entries, nil
}

// FindByAddress scans until the peripheral with the given address is seen or
// the timeout elapses. found is false when the scan completed without the
// address showing up; that is not an error.
func (s *Scanner) FindByAddress(ctx context.Context, address string, timeout time.Duration) (info device.DeviceInfo, found bool, err error) {
	target := device.NormalizeAddress(address)
	if target == "" {
		return nil, false, fmt.Errorf("empty device address")
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := &ScanOptions{
		Duration:        timeout,
		DuplicateFilter: true,
		AllowList:       []string{target},
		onDiscovered: func(address string) {
			if address == target {
				cancel()
			}
		},
	}

	entries, err := s.Scan(scanCtx, opts, nil)
	if err != nil {
		return nil, false, err
	}

	if entry, ok := entries[target]; ok {
		return entry.Device, true, nil
	}
	return nil, false, nil
}

// handleAdvertisement updates an existing peripheral or adds a new one.
func (s *Scanner) handleAdvertisement(adv device.Advertisement) {
	addr := device.NormalizeAddress(adv.Addr())

	p, existing := s.devices.Get(addr)
	if !existing {
		if !s.shouldIncludeDevice(adv, s.scanOptions) {
			return
		}
		p, existing = s.devices.GetOrInsert(addr, device.NewPeripheral(adv))
	}

	event := DeviceEvent{
		DeviceInfo: p,
		Timestamp:  time.Now(),
	}

	if existing {
		p.Update(adv)
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":  p.Name(),
			"address": p.Address(),
			"rssi":    p.RSSI(),
		}).Info("Discovered new device")
		event.Type = EventNew
		if s.scanOptions != nil && s.scanOptions.onDiscovered != nil {
			s.scanOptions.onDiscovered(addr)
		}
	}

	s.events.ForceSend(event)
}

// shouldIncludeDevice applies the allow/block filters
func (s *Scanner) shouldIncludeDevice(adv device.Advertisement, opts *ScanOptions) bool {
	if opts == nil {
		return true
	}
	addr := device.NormalizeAddress(adv.Addr())

	for _, blocked := range opts.BlockList {
		if addr == device.NormalizeAddress(blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if addr == device.NormalizeAddress(a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(opts.ServiceUUIDs) > 0 {
		advertised := make(map[string]struct{}, len(adv.Services()))
		for _, uuid := range adv.Services() {
			advertised[device.NormalizeUUID(uuid)] = struct{}{}
		}
		match := false
		for _, uuid := range opts.ServiceUUIDs {
			if _, ok := advertised[device.NormalizeUUID(uuid)]; ok {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	return true
}

// Events returns a read-only channel of device events
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}
