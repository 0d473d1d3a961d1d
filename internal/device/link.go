// Package device defines the transport-facing abstractions the session
// orchestrator consumes: an exclusive link to one BLE peripheral, the scan
// surface that discovers peripherals, and structured connection errors.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SecurityLevel is the pairing protection level requested for a link.
type SecurityLevel int

const (
	SecurityNone   SecurityLevel = iota
	SecurityLow                  // unauthenticated pairing, no MITM protection
	SecurityMedium               // encrypted link, what blood-pressure monitors require
	SecurityHigh                 // authenticated pairing
)

// Link is an exclusive, connection-oriented session to one BLE peripheral.
// Implementations are not safe for concurrent use; the orchestrator opens at
// most one link at a time and never reuses one across sessions.
type Link interface {
	Address() string
	Connect(ctx context.Context) error
	Pair(level SecurityLevel) error
	IsConnected() bool
	Disconnect() error
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// ErrBluetoothOff indicates the host adapter is powered down.
var ErrBluetoothOff = errors.New("bluetooth is turned off")

// NormalizeError maps known BLE library error strings to structured
// ConnectionError types so callers get consistent handling even if the
// upstream library changes messages slightly. The original error stays
// wrapped for context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "central manager has invalid state"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// DataChannel is the attribute-level surface a protocol driver needs on top
// of an open link. Characteristic UUIDs are accepted in any format and
// normalized internally.
type DataChannel interface {
	WriteCharacteristic(ctx context.Context, charUUID string, data []byte) error
	ReadCharacteristic(ctx context.Context, charUUID string) ([]byte, error)
	Subscribe(charUUID string, handler func(data []byte)) error
	Unsubscribe(charUUID string) error
}

// ScanningDevice represents a BLE transport capable of scanning for
// advertisements.
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// Advertisement is one received BLE advertisement frame.
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	TxPowerLevel() int
	Connectable() bool
	Services() []string
	ManufacturerData() []byte
	ServiceData() []ServiceData
}

// ServiceData is one advertised service-data entry.
type ServiceData struct {
	UUID string
	Data []byte
}

// DeviceInfo is the read-only view of a discovered peripheral.
type DeviceInfo interface {
	Name() string
	Address() string
	RSSI() int
	IsConnectable() bool
	AdvertisedServices() []string
}

// NormalizeUUID converts a UUID string to the internal format used for
// comparisons: lowercase, no dashes.
func NormalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}

// NormalizeAddress canonicalizes a peripheral MAC address for map keys and
// comparisons.
func NormalizeAddress(addr string) string {
	return strings.ToUpper(strings.TrimSpace(addr))
}
