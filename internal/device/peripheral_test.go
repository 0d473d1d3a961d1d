package device

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdv struct {
	name        string
	addr        string
	rssi        int
	txPower     int
	connectable bool
	services    []string
	manufData   []byte
	serviceData []ServiceData
}

func (a stubAdv) LocalName() string          { return a.name }
func (a stubAdv) Addr() string               { return a.addr }
func (a stubAdv) RSSI() int                  { return a.rssi }
func (a stubAdv) TxPowerLevel() int          { return a.txPower }
func (a stubAdv) Connectable() bool          { return a.connectable }
func (a stubAdv) Services() []string         { return a.services }
func (a stubAdv) ManufacturerData() []byte   { return a.manufData }
func (a stubAdv) ServiceData() []ServiceData { return a.serviceData }

func TestNewPeripheralFromAdvertisement(t *testing.T) {
	p := NewPeripheral(stubAdv{
		name:        "HEM-7142T1",
		addr:        "00:5f:bf:88:a1:c2",
		rssi:        -61,
		txPower:     4,
		connectable: true,
		services:    []string{"00001810-0000-1000-8000-00805F9B34FB"},
	})

	assert.Equal(t, "HEM-7142T1", p.Name())
	assert.Equal(t, "00:5F:BF:88:A1:C2", p.Address())
	assert.Equal(t, -61, p.RSSI())
	assert.True(t, p.IsConnectable())
	assert.Equal(t, []string{"0000181000001000800000805f9b34fb"}, p.AdvertisedServices())
	assert.False(t, p.LastSeen().IsZero())
}

func TestPeripheralNameFallsBackToAddress(t *testing.T) {
	p := NewPeripheral(stubAdv{addr: "aa:bb:cc:dd:ee:ff", txPower: 127})
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", p.Name())
}

func TestPeripheralUpdateKeepsKnownName(t *testing.T) {
	p := NewPeripheral(stubAdv{name: "HEM-7142T1", addr: "aa:bb:cc:dd:ee:ff", rssi: -70, txPower: 127})

	// Later frames often omit the local name; the known one must survive.
	p.Update(stubAdv{addr: "aa:bb:cc:dd:ee:ff", rssi: -55, txPower: 127})

	assert.Equal(t, "HEM-7142T1", p.Name())
	assert.Equal(t, -55, p.RSSI())
}

func TestPeripheralMarshalJSON(t *testing.T) {
	p := NewPeripheral(stubAdv{
		name:        "HEM-7142T1",
		addr:        "aa:bb:cc:dd:ee:ff",
		rssi:        -61,
		txPower:     127,
		connectable: true,
	})

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "HEM-7142T1", out["name"])
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", out["mac_address"])
	assert.Equal(t, float64(-61), out["rssi"])
	assert.Nil(t, out["tx_power"], "tx power 127 means absent")
	assert.Equal(t, true, out["connectable"])
}
