// Package driver defines the vendor protocol surface a device model must
// implement to take part in a session, and a registry of known models. The
// byte-level frame encoding (unlock keys, checksums, characteristic UUIDs)
// lives entirely behind this interface.
package driver

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/srg/bplink/internal/device"
	"github.com/srg/bplink/records"
)

// ReadOptions control one record-retrieval pass.
type ReadOptions struct {
	// UseUnreadCounter limits the read to records the device marks unread.
	UseUnreadCounter bool
	// SyncTime rewrites the device clock from the host during the exchange.
	SyncTime bool
}

// Driver speaks one device model's vendor protocol over an open link.
// Drivers are request-scoped: one driver per session, never shared.
type Driver interface {
	Model() string

	// UsesLockUnlockHandshake reports whether this model requires the
	// unlock-key exchange before its first transmission. Declared
	// statically so the orchestrator never has to probe.
	UsesLockUnlockHandshake() bool
	WriteUnlockKey(ctx context.Context) error

	StartTransmission(ctx context.Context) error
	EndTransmission(ctx context.Context) error

	// GetRecords retrieves the stored measurements, one group per
	// on-device user slot. Slot order does not imply recency.
	GetRecords(ctx context.Context, opts ReadOptions) ([]records.UserSlotGroup, error)
}

// Factory builds a driver bound to an open link.
type Factory func(link device.Link, logger *logrus.Logger) (Driver, error)
