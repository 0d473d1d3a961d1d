package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/bplink/internal/device"
)

// advertisement wraps ble.Advertisement to implement device.Advertisement.
type advertisement struct {
	adv ble.Advertisement
}

// NewAdvertisement wraps a raw go-ble advertisement.
func NewAdvertisement(adv ble.Advertisement) device.Advertisement {
	return &advertisement{adv: adv}
}

func (a *advertisement) LocalName() string        { return a.adv.LocalName() }
func (a *advertisement) Addr() string             { return a.adv.Addr().String() }
func (a *advertisement) RSSI() int                { return a.adv.RSSI() }
func (a *advertisement) TxPowerLevel() int        { return a.adv.TxPowerLevel() }
func (a *advertisement) Connectable() bool        { return a.adv.Connectable() }
func (a *advertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }

func (a *advertisement) Services() []string {
	services := a.adv.Services()
	out := make([]string, len(services))
	for i, svc := range services {
		out[i] = svc.String()
	}
	return out
}

func (a *advertisement) ServiceData() []device.ServiceData {
	serviceData := a.adv.ServiceData()
	out := make([]device.ServiceData, len(serviceData))
	for i, sd := range serviceData {
		out[i] = device.ServiceData{UUID: sd.UUID.String(), Data: sd.Data}
	}
	return out
}
