// Package session drives the lifecycle of one exchange with a blood-pressure
// monitor: scan, connect, pair, transmit, read, disconnect. Every failure
// maps to a typed outcome and the link is cleaned up on every exit path.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bplink/driver"
	"github.com/srg/bplink/internal/device"
	"github.com/srg/bplink/records"
)

// Params select the work one session performs.
type Params struct {
	Address string

	// PairingOnly validates the secured handshake with an empty
	// transmission bracket and reads no records.
	PairingOnly bool

	// UnreadOnly asks the device for records it marks unread.
	UnreadOnly bool

	// SyncClock rewrites the device clock from the host during the read.
	SyncClock bool

	// Policy selects reconciliation for record-reading sessions. Zero
	// value means PolicyBulkDrift. Ignored when PairingOnly is set.
	Policy records.Policy
}

// Discoverer finds an advertising peripheral by address.
type Discoverer interface {
	FindByAddress(ctx context.Context, address string, timeout time.Duration) (device.DeviceInfo, bool, error)
}

// Config wires a Runner. Discoverer, NewLink and NewDriver are required.
type Config struct {
	Discoverer Discoverer
	NewLink    func(address string, logger *logrus.Logger) device.Link
	NewDriver  func(link device.Link, logger *logrus.Logger) (driver.Driver, error)

	// ScanTimeout bounds the discovery step. Defaults to 10s.
	ScanTimeout time.Duration

	// Now is the reconciliation clock. Defaults to time.Now.
	Now func() time.Time

	Logger *logrus.Logger
}

// Runner executes sessions one at a time. The BLE radio is an exclusive,
// hardware-backed resource and neither the transport nor the drivers are
// safe for concurrent sessions, so Run serializes: a second caller blocks
// until the running session finishes. Link and driver are constructed fresh
// for every call; nothing persists between sessions.
type Runner struct {
	mu sync.Mutex

	discoverer Discoverer
	newLink    func(address string, logger *logrus.Logger) device.Link
	newDriver  func(link device.Link, logger *logrus.Logger) (driver.Driver, error)

	scanTimeout time.Duration
	now         func() time.Time
	logger      *logrus.Logger
}

// NewRunner creates a Runner from cfg, applying defaults.
func NewRunner(cfg Config) *Runner {
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Runner{
		discoverer:  cfg.Discoverer,
		newLink:     cfg.NewLink,
		newDriver:   cfg.NewDriver,
		scanTimeout: cfg.ScanTimeout,
		now:         cfg.Now,
		logger:      cfg.Logger,
	}
}

// Run executes one full session. It never returns an error: every failure,
// including collaborator panics-as-errors and caller cancellation, becomes a
// typed Outcome. No retries happen here; a failed session is retried by the
// caller as a new session.
func (r *Runner) Run(ctx context.Context, p Params) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.logger.WithField("address", p.Address)

	info, found, err := r.discoverer.FindByAddress(ctx, p.Address, r.scanTimeout)
	if err != nil {
		log.WithError(err).Error("scan failed")
		return Outcome{Status: StatusProtocolError, Address: p.Address, Detail: err.Error()}
	}
	if !found {
		log.Warn("device not found during scan")
		return Outcome{Status: StatusDeviceNotFound, Address: p.Address}
	}

	outcome := Outcome{Address: info.Address(), DeviceName: info.Name()}

	link := r.newLink(info.Address(), r.logger)
	if err := link.Connect(ctx); err != nil {
		log.WithError(err).Error("connect failed")
		return protocolError(outcome, err)
	}

	// Single cleanup path: from here on, every return — success, typed
	// failure, or cancellation — disconnects the link iff it is still
	// connected.
	defer func() {
		if link.IsConnected() {
			if err := link.Disconnect(); err != nil {
				log.WithError(err).Error("failed to disconnect link")
			}
		}
	}()

	if err := link.Pair(device.SecurityMedium); err != nil {
		log.WithError(err).Error("pairing failed")
		return protocolError(outcome, err)
	}
	if !link.IsConnected() {
		log.Error("link not connected after pairing")
		outcome.Status = StatusConnectionFailed
		return outcome
	}

	drv, err := r.newDriver(link, r.logger)
	if err != nil {
		log.WithError(err).Error("driver construction failed")
		return protocolError(outcome, err)
	}

	if p.PairingOnly {
		return r.pairOnly(ctx, drv, outcome, log)
	}
	return r.readRecords(ctx, drv, p, outcome, log)
}

// pairOnly optionally writes a fresh unlock key, then validates the
// handshake with an empty start/end transmission bracket.
func (r *Runner) pairOnly(ctx context.Context, drv driver.Driver, outcome Outcome, log *logrus.Entry) Outcome {
	if drv.UsesLockUnlockHandshake() {
		if err := drv.WriteUnlockKey(ctx); err != nil {
			return protocolError(outcome, err)
		}
	}
	if err := drv.StartTransmission(ctx); err != nil {
		return protocolError(outcome, err)
	}
	if err := drv.EndTransmission(ctx); err != nil {
		return protocolError(outcome, err)
	}

	log.Info("pairing successful")
	outcome.Status = StatusPaired
	return outcome
}

func (r *Runner) readRecords(ctx context.Context, drv driver.Driver, p Params, outcome Outcome, log *logrus.Entry) Outcome {
	if err := drv.StartTransmission(ctx); err != nil {
		return protocolError(outcome, err)
	}

	groups, err := drv.GetRecords(ctx, driver.ReadOptions{
		UseUnreadCounter: p.UnreadOnly,
		SyncTime:         p.SyncClock,
	})
	if err != nil {
		return protocolError(outcome, err)
	}

	if err := drv.EndTransmission(ctx); err != nil {
		return protocolError(outcome, err)
	}

	recs := records.Normalize(groups, r.now)
	if len(recs) == 0 {
		log.Info("device returned no records")
		outcome.Status = StatusNoRecords
		return outcome
	}
	outcome.ClockFallbacks = records.CountClockFallbacks(recs)

	switch p.Policy {
	case records.PolicyLatestToday:
		latest, _ := records.Latest(recs)
		latest = records.AnchorLatestToToday(latest, r.now())
		latest.ID = records.RecordID(latest.Datetime, latest.Sys, latest.Dia, latest.Bpm)
		outcome.Latest = &latest

	case records.PolicyLatestUntouched:
		latest, _ := records.Latest(recs)
		latest.ID = records.RecordID(latest.Datetime, latest.Sys, latest.Dia, latest.Bpm)
		outcome.Latest = &latest

	default: // records.PolicyBulkDrift
		recs = records.CorrectBulkDrift(recs, r.now())
		records.StampIDs(recs)
		records.SortDescending(recs)
		outcome.Records = recs
	}

	outcome.Status = StatusRecordsRead
	log.WithField("count", len(recs)).Info("records read")
	return outcome
}

func protocolError(outcome Outcome, err error) Outcome {
	outcome.Status = StatusProtocolError
	outcome.Detail = err.Error()
	return outcome
}
