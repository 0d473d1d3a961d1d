package omron

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/bplink/driver"
	"github.com/srg/bplink/internal/device"
	"github.com/srg/bplink/records"
)

// recordSize is the EEPROM footprint of one measurement on every supported
// model.
const recordSize = 16

// slot describes one on-device user memory bank.
type slot struct {
	startAddr  uint16
	maxRecords int
}

// spec is the static description of one device model.
type spec struct {
	model      string
	lockUnlock bool
	slots      []slot

	// unreadCounterAddr holds one unread-count byte per user slot.
	unreadCounterAddr uint16
	// clockAddr holds the device clock as six bytes: year-2000, month,
	// day, hour, minute, second.
	clockAddr uint16
}

var hem7142t1 = spec{
	model:             "HEM-7142T1",
	lockUnlock:        true,
	slots:             []slot{{startAddr: 0x02AC, maxRecords: 30}},
	unreadCounterAddr: 0x0010,
	clockAddr:         0x0054,
}

var hem7361t = spec{
	model:      "HEM-7361T",
	lockUnlock: true,
	slots: []slot{
		{startAddr: 0x0098, maxRecords: 100},
		{startAddr: 0x06E8, maxRecords: 100},
	},
	unreadCounterAddr: 0x0012,
	clockAddr:         0x0054,
}

func init() {
	driver.Register(hem7142t1.model, factoryFor(hem7142t1))
	driver.Register(hem7361t.model, factoryFor(hem7361t))
}

// defaultUnlockKey is what factory-fresh devices accept before a key was
// programmed.
var defaultUnlockKey = make([]byte, 16)

// Unlock characteristic command bytes.
const (
	unlockWithKey  = 0x01
	programNewKey  = 0x02
	unlockAccepted = 0x80
)

// omronDriver implements driver.Driver for one model spec.
type omronDriver struct {
	spec   spec
	conn   *frameConn
	logger *logrus.Logger

	key []byte
	now func() time.Time
}

// factoryFor builds the registry factory for one model.
func factoryFor(s spec) driver.Factory {
	return func(link device.Link, logger *logrus.Logger) (driver.Driver, error) {
		ch, ok := link.(device.DataChannel)
		if !ok {
			return nil, fmt.Errorf("link to %s does not expose characteristic access", link.Address())
		}
		if logger == nil {
			logger = logrus.New()
		}
		conn, err := newFrameConn(ch, logger)
		if err != nil {
			return nil, err
		}
		return &omronDriver{
			spec:   s,
			conn:   conn,
			logger: logger,
			key:    defaultUnlockKey,
			now:    time.Now,
		}, nil
	}
}

func (d *omronDriver) Model() string { return d.spec.model }

func (d *omronDriver) UsesLockUnlockHandshake() bool { return d.spec.lockUnlock }

// WriteUnlockKey programs a fresh random key into the device. Run during
// pairing; subsequent sessions unlock with the programmed key.
func (d *omronDriver) WriteUnlockKey(ctx context.Context) error {
	id := uuid.New()
	key := id[:]

	cmd := append([]byte{programNewKey}, key...)
	if err := d.conn.ch.WriteCharacteristic(ctx, unlockUUID, cmd); err != nil {
		return fmt.Errorf("failed to write new unlock key: %w", err)
	}
	resp, err := d.conn.ch.ReadCharacteristic(ctx, unlockUUID)
	if err != nil {
		return fmt.Errorf("failed to confirm unlock key: %w", err)
	}
	if len(resp) == 0 || resp[0] != unlockAccepted {
		return fmt.Errorf("device rejected the new unlock key")
	}

	d.key = key
	d.logger.WithField("model", d.spec.model).Info("programmed new unlock key")
	return nil
}

// unlock opens the device memory with the current key. Models without the
// lock-unlock handshake skip this.
func (d *omronDriver) unlock(ctx context.Context) error {
	cmd := append([]byte{unlockWithKey}, d.key...)
	if err := d.conn.ch.WriteCharacteristic(ctx, unlockUUID, cmd); err != nil {
		return fmt.Errorf("failed to write unlock key: %w", err)
	}
	resp, err := d.conn.ch.ReadCharacteristic(ctx, unlockUUID)
	if err != nil {
		return fmt.Errorf("failed to read unlock status: %w", err)
	}
	if len(resp) == 0 || resp[0] != unlockAccepted {
		return fmt.Errorf("device refused the unlock key")
	}
	return nil
}

func (d *omronDriver) StartTransmission(ctx context.Context) error {
	if d.spec.lockUnlock {
		if err := d.unlock(ctx); err != nil {
			return err
		}
	}
	if _, err := d.conn.roundTrip(ctx, []byte{opStartTransmission}); err != nil {
		return fmt.Errorf("failed to start transmission: %w", err)
	}
	return nil
}

func (d *omronDriver) EndTransmission(ctx context.Context) error {
	_, err := d.conn.roundTrip(ctx, []byte{opEndTransmission})
	d.conn.close()
	if err != nil {
		return fmt.Errorf("failed to end transmission: %w", err)
	}
	return nil
}

func (d *omronDriver) GetRecords(ctx context.Context, opts driver.ReadOptions) ([]records.UserSlotGroup, error) {
	if opts.SyncTime {
		if err := d.syncClock(ctx); err != nil {
			return nil, err
		}
	}

	unread, err := d.unreadCounts(ctx, opts.UseUnreadCounter)
	if err != nil {
		return nil, err
	}

	groups := make([]records.UserSlotGroup, 0, len(d.spec.slots))
	for i, sl := range d.spec.slots {
		data, err := d.conn.readBlock(ctx, sl.startAddr, sl.maxRecords*recordSize)
		if err != nil {
			return nil, fmt.Errorf("failed to read user slot %d: %w", i+1, err)
		}

		group := decodeSlot(data)
		if opts.UseUnreadCounter && unread[i] < len(group) {
			// The device appends; unread records are the newest ones.
			group = group[len(group)-unread[i]:]
		}
		groups = append(groups, group)
	}

	if opts.UseUnreadCounter {
		if err := d.resetUnreadCounts(ctx); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// syncClock rewrites the device clock from the host.
func (d *omronDriver) syncClock(ctx context.Context) error {
	now := d.now()
	payload := []byte{
		byte(now.Year() - 2000),
		byte(now.Month()),
		byte(now.Day()),
		byte(now.Hour()),
		byte(now.Minute()),
		byte(now.Second()),
	}
	if err := d.conn.writeBlock(ctx, d.spec.clockAddr, payload); err != nil {
		return fmt.Errorf("failed to sync device clock: %w", err)
	}
	d.logger.WithField("model", d.spec.model).Info("device clock synchronized")
	return nil
}

// unreadCounts reads one counter byte per user slot. Returns full-slot counts
// when the caller wants every record.
func (d *omronDriver) unreadCounts(ctx context.Context, wanted bool) ([]int, error) {
	counts := make([]int, len(d.spec.slots))
	if !wanted {
		for i, sl := range d.spec.slots {
			counts[i] = sl.maxRecords
		}
		return counts, nil
	}

	data, err := d.conn.readBlock(ctx, d.spec.unreadCounterAddr, len(d.spec.slots))
	if err != nil {
		return nil, fmt.Errorf("failed to read unread counters: %w", err)
	}
	for i := range counts {
		counts[i] = int(data[i])
	}
	return counts, nil
}

func (d *omronDriver) resetUnreadCounts(ctx context.Context) error {
	zeros := make([]byte, len(d.spec.slots))
	if err := d.conn.writeBlock(ctx, d.spec.unreadCounterAddr, zeros); err != nil {
		return fmt.Errorf("failed to reset unread counters: %w", err)
	}
	return nil
}

// decodeSlot parses a raw slot dump, skipping erased entries.
func decodeSlot(data []byte) records.UserSlotGroup {
	group := records.UserSlotGroup{}
	for off := 0; off+recordSize <= len(data); off += recordSize {
		entry := data[off : off+recordSize]
		if isErased(entry) {
			continue
		}
		group = append(group, decodeRecord(entry))
	}
	return group
}

// isErased reports an all-0xFF (never written) or all-zero entry.
func isErased(entry []byte) bool {
	return bytes.Equal(entry, erasedFF[:len(entry)]) || bytes.Equal(entry, erasedZero[:len(entry)])
}

var (
	erasedFF   = bytes.Repeat([]byte{0xFF}, recordSize)
	erasedZero = make([]byte, recordSize)
)

// decodeRecord unpacks one 16-byte measurement.
//
//	[0]    diastolic, mmHg
//	[1]    systolic minus 25, mmHg
//	[2]    pulse, bpm
//	[3]    flag bits: 0 irregular heartbeat, 1 body movement
//	[4:10] timestamp: year-2000, month, day, hour, minute, second
func decodeRecord(entry []byte) records.RawRecord {
	ts := fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d",
		2000+int(entry[4]), entry[5], entry[6], entry[7], entry[8], entry[9])

	return records.RawRecord{
		Datetime: ts,
		Sys:      int(entry[1]) + 25,
		Dia:      int(entry[0]),
		Bpm:      int(entry[2]),
		Extra: map[string]any{
			"ihb": entry[3]&0x01 != 0,
			"mov": entry[3]&0x02 != 0,
		},
	}
}
