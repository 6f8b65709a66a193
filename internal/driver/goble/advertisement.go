package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blues/internal/central"
)

// txPowerUnknown is what go-ble reports when the advertisement carries no TX power
const txPowerUnknown = 127

// advertisement is the part of ble.Advertisement the driver reads
type advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	Services() []ble.UUID
	TxPowerLevel() int
	Connectable() bool
	RSSI() int
	Addr() ble.Addr
}

// toAdvertisement converts a go-ble advertising report
func toAdvertisement(a advertisement) central.Advertisement {
	adv := central.Advertisement{
		LocalName:   a.LocalName(),
		RSSI:        a.RSSI(),
		Connectable: a.Connectable(),
	}
	if addr := a.Addr(); addr != nil {
		adv.ID = addr.String()
	}
	if mfg := a.ManufacturerData(); len(mfg) > 0 {
		adv.ManufacturerData = append([]byte(nil), mfg...)
	}
	if tx := a.TxPowerLevel(); tx != txPowerUnknown {
		adv.TxPower = &tx
	}

	uuids := a.Services()
	if len(uuids) > 0 {
		adv.Services = make([]string, 0, len(uuids))
		for _, u := range uuids {
			adv.Services = append(adv.Services, u.String())
		}
	}
	return adv
}

// toProperties converts go-ble characteristic properties
func toProperties(p ble.Property) central.Properties {
	var ps central.Properties
	for _, m := range []struct {
		ble  ble.Property
		prop central.Property
	}{
		{ble.CharBroadcast, central.PropBroadcast},
		{ble.CharRead, central.PropRead},
		{ble.CharWriteNR, central.PropWriteWithoutResponse},
		{ble.CharWrite, central.PropWrite},
		{ble.CharNotify, central.PropNotify},
		{ble.CharIndicate, central.PropIndicate},
	} {
		if p&m.ble != 0 {
			ps |= central.Properties(m.prop)
		}
	}
	return ps
}
