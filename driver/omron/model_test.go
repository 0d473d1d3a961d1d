package omron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bplink/driver"
	"github.com/srg/bplink/internal/device"
)

// fakeDeviceLink glues the fake channel onto the link interface the factory
// expects.
type fakeDeviceLink struct {
	*fakeChannel
}

func (fakeDeviceLink) Address() string                  { return "00:5F:BF:88:A1:C2" }
func (fakeDeviceLink) Connect(context.Context) error    { return nil }
func (fakeDeviceLink) Pair(device.SecurityLevel) error  { return nil }
func (fakeDeviceLink) IsConnected() bool                { return true }
func (fakeDeviceLink) Disconnect() error                { return nil }

// encodeRecord packs one measurement into its EEPROM form.
func encodeRecord(sys, dia, bpm int, flags byte, ts time.Time) []byte {
	entry := make([]byte, recordSize)
	entry[0] = byte(dia)
	entry[1] = byte(sys - 25)
	entry[2] = byte(bpm)
	entry[3] = flags
	entry[4] = byte(ts.Year() - 2000)
	entry[5] = byte(ts.Month())
	entry[6] = byte(ts.Day())
	entry[7] = byte(ts.Hour())
	entry[8] = byte(ts.Minute())
	entry[9] = byte(ts.Second())
	return entry
}

// deviceFixture scripts a HEM-7142T1 with an EEPROM image behind the frame
// protocol.
type deviceFixture struct {
	eeprom []byte
	writes []struct {
		addr uint16
		data []byte
	}
}

func newDeviceFixture() *deviceFixture {
	f := &deviceFixture{eeprom: make([]byte, 0x0800)}
	for i := range f.eeprom {
		f.eeprom[i] = 0xFF
	}
	return f
}

func (f *deviceFixture) store(addr uint16, data []byte) {
	copy(f.eeprom[addr:], data)
}

func (f *deviceFixture) respond(body []byte) []byte {
	switch body[0] {
	case opStartTransmission, opEndTransmission:
		return []byte{body[0] | opResponseFlag}
	case opReadBlock:
		addr := int(body[1])<<8 | int(body[2])
		size := int(body[3])
		return append([]byte{body[0] | opResponseFlag}, f.eeprom[addr:addr+size]...)
	case opWriteBlock:
		addr := uint16(body[1])<<8 | uint16(body[2])
		size := int(body[3])
		data := append([]byte(nil), body[4:4+size]...)
		f.store(addr, data)
		f.writes = append(f.writes, struct {
			addr uint16
			data []byte
		}{addr, data})
		return []byte{body[0] | opResponseFlag}
	default:
		return []byte{0x00}
	}
}

func newTestDriver(t *testing.T, fixture *deviceFixture) (*omronDriver, *fakeChannel) {
	t.Helper()
	ch := newFakeChannel(t, fixture.respond)
	ch.values[device.NormalizeUUID(unlockUUID)] = []byte{unlockAccepted}

	drv, err := factoryFor(hem7142t1)(fakeDeviceLink{ch}, quietLogger())
	require.NoError(t, err)

	od := drv.(*omronDriver)
	od.now = func() time.Time {
		return time.Date(2025, 6, 1, 9, 30, 0, 0, time.Local)
	}
	return od, ch
}

func TestDriverIdentity(t *testing.T) {
	drv, _ := newTestDriver(t, newDeviceFixture())
	assert.Equal(t, "HEM-7142T1", drv.Model())
	assert.True(t, drv.UsesLockUnlockHandshake())
}

func TestRegistryKnowsSupportedModels(t *testing.T) {
	models := driver.Models()
	assert.Contains(t, models, "HEM-7142T1")
	assert.Contains(t, models, "HEM-7361T")
}

func TestStartTransmissionUnlocksFirst(t *testing.T) {
	drv, ch := newTestDriver(t, newDeviceFixture())

	require.NoError(t, drv.StartTransmission(context.Background()))

	unlockWrites := ch.writes[device.NormalizeUUID(unlockUUID)]
	require.Len(t, unlockWrites, 1)
	assert.Equal(t, byte(unlockWithKey), unlockWrites[0][0])
	assert.Equal(t, defaultUnlockKey, unlockWrites[0][1:])
}

func TestStartTransmissionFailsOnRefusedKey(t *testing.T) {
	drv, ch := newTestDriver(t, newDeviceFixture())
	ch.values[device.NormalizeUUID(unlockUUID)] = []byte{0x00}

	err := drv.StartTransmission(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}

func TestWriteUnlockKeyProgramsFreshKey(t *testing.T) {
	drv, ch := newTestDriver(t, newDeviceFixture())

	require.NoError(t, drv.WriteUnlockKey(context.Background()))

	writes := ch.writes[device.NormalizeUUID(unlockUUID)]
	require.Len(t, writes, 1)
	assert.Equal(t, byte(programNewKey), writes[0][0])
	require.Len(t, writes[0], 17)
	assert.NotEqual(t, defaultUnlockKey, writes[0][1:], "a fresh key must not be the factory default")

	// Subsequent unlocks use the programmed key.
	require.NoError(t, drv.StartTransmission(context.Background()))
	writes = ch.writes[device.NormalizeUUID(unlockUUID)]
	require.Len(t, writes, 2)
	assert.Equal(t, writes[0][1:], writes[1][1:])
}

func TestGetRecordsDecodesSlot(t *testing.T) {
	fixture := newDeviceFixture()
	older := time.Date(2021, 3, 1, 8, 15, 0, 0, time.Local)
	newer := time.Date(2021, 3, 2, 21, 40, 30, 0, time.Local)
	start := hem7142t1.slots[0].startAddr
	fixture.store(start, encodeRecord(131, 84, 70, 0x01, older))
	fixture.store(start+recordSize, encodeRecord(120, 80, 62, 0x02, newer))

	drv, _ := newTestDriver(t, fixture)

	groups, err := drv.GetRecords(context.Background(), driver.ReadOptions{})
	require.NoError(t, err)

	require.Len(t, groups, 1)
	require.Len(t, groups[0], 2, "erased entries must be skipped")

	first := groups[0][0]
	assert.Equal(t, "2021-03-01 08:15:00", first.Datetime)
	assert.Equal(t, 131, first.Sys)
	assert.Equal(t, 84, first.Dia)
	assert.Equal(t, 70, first.Bpm)
	assert.Equal(t, true, first.Extra["ihb"])
	assert.Equal(t, false, first.Extra["mov"])

	second := groups[0][1]
	assert.Equal(t, "2021-03-02 21:40:30", second.Datetime)
	assert.Equal(t, false, second.Extra["ihb"])
	assert.Equal(t, true, second.Extra["mov"])
}

func TestGetRecordsUnreadOnly(t *testing.T) {
	fixture := newDeviceFixture()
	start := hem7142t1.slots[0].startAddr
	for i := 0; i < 3; i++ {
		ts := time.Date(2021, 3, 1+i, 8, 0, 0, 0, time.Local)
		fixture.store(start+uint16(i*recordSize), encodeRecord(120+i, 80, 60, 0, ts))
	}
	// One unread record.
	fixture.store(hem7142t1.unreadCounterAddr, []byte{1})

	drv, _ := newTestDriver(t, fixture)

	groups, err := drv.GetRecords(context.Background(), driver.ReadOptions{UseUnreadCounter: true})
	require.NoError(t, err)

	require.Len(t, groups, 1)
	require.Len(t, groups[0], 1)
	assert.Equal(t, 122, groups[0][0].Sys, "unread records are the newest ones")

	// The counter was reset on the device.
	assert.Equal(t, []byte{0}, fixture.eeprom[hem7142t1.unreadCounterAddr:hem7142t1.unreadCounterAddr+1])
}

func TestGetRecordsSyncsClock(t *testing.T) {
	fixture := newDeviceFixture()
	drv, _ := newTestDriver(t, fixture)

	_, err := drv.GetRecords(context.Background(), driver.ReadOptions{SyncTime: true})
	require.NoError(t, err)

	require.NotEmpty(t, fixture.writes)
	clockWrite := fixture.writes[0]
	assert.Equal(t, hem7142t1.clockAddr, clockWrite.addr)
	assert.Equal(t, []byte{25, 6, 1, 9, 30, 0}, clockWrite.data)
}

func TestEndTransmissionDropsSubscriptions(t *testing.T) {
	drv, ch := newTestDriver(t, newDeviceFixture())

	require.NoError(t, drv.EndTransmission(context.Background()))
	assert.Empty(t, ch.handlers)
}

func TestDecodeSlotSkipsErasedEntries(t *testing.T) {
	data := make([]byte, 3*recordSize)
	for i := range data {
		data[i] = 0xFF
	}
	copy(data[recordSize:], encodeRecord(118, 76, 55, 0, time.Date(2024, 12, 24, 7, 0, 0, 0, time.Local)))

	group := decodeSlot(data)
	require.Len(t, group, 1)
	assert.Equal(t, 118, group[0].Sys)
}
