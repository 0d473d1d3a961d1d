package device

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Peripheral is the mutable record of a peripheral seen during scanning.
// Advertisements for the same address update it in place.
type Peripheral struct {
	mu sync.RWMutex

	name        string
	address     string
	rssi        int
	txPower     *int
	connectable bool
	services    []string
	manufData   []byte
	serviceData map[string][]byte
	lastSeen    time.Time
}

// NewPeripheral builds a Peripheral from its first advertisement.
func NewPeripheral(adv Advertisement) *Peripheral {
	p := &Peripheral{
		address:     NormalizeAddress(adv.Addr()),
		serviceData: make(map[string][]byte),
	}
	p.apply(adv)
	return p
}

// Update merges a fresh advertisement into the peripheral.
func (p *Peripheral) Update(adv Advertisement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.apply(adv)
}

func (p *Peripheral) apply(adv Advertisement) {
	if name := adv.LocalName(); name != "" {
		p.name = name
	}
	p.rssi = adv.RSSI()
	p.connectable = adv.Connectable()
	if data := adv.ManufacturerData(); len(data) > 0 {
		p.manufData = data
	}

	services := make([]string, 0, len(adv.Services()))
	for _, uuid := range adv.Services() {
		services = append(services, NormalizeUUID(uuid))
	}
	sort.Strings(services)
	p.services = services

	for _, sd := range adv.ServiceData() {
		p.serviceData[NormalizeUUID(sd.UUID)] = sd.Data
	}

	// 127 means TX power not present in the advertisement
	if tx := adv.TxPowerLevel(); tx != 127 {
		p.txPower = &tx
	}

	p.lastSeen = time.Now()
}

// Name returns the advertised local name, falling back to the address for
// peripherals that never advertised one.
func (p *Peripheral) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.name == "" {
		return p.address
	}
	return p.name
}

func (p *Peripheral) Address() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.address
}

func (p *Peripheral) RSSI() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rssi
}

func (p *Peripheral) IsConnectable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connectable
}

func (p *Peripheral) AdvertisedServices() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.services))
	copy(out, p.services)
	return out
}

func (p *Peripheral) LastSeen() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSeen
}

// MarshalJSON renders the scan-facing view of the peripheral.
func (p *Peripheral) MarshalJSON() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	name := p.name
	if name == "" {
		name = p.address
	}
	return json.Marshal(struct {
		Name        string   `json:"name"`
		Address     string   `json:"mac_address"`
		RSSI        int      `json:"rssi"`
		TxPower     *int     `json:"tx_power"`
		Connectable bool     `json:"connectable"`
		Services    []string `json:"services"`
	}{
		Name:        name,
		Address:     p.address,
		RSSI:        p.rssi,
		TxPower:     p.txPower,
		Connectable: p.connectable,
		Services:    p.services,
	})
}
