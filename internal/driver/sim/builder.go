package sim

import (
	"encoding/hex"
	"time"
)

// Builder assembles a Profile with a fluent API. Peripheral scoped calls apply to the
// last peripheral added, and WithCharacteristic to its last service.
//
//	profile := sim.NewBuilder().
//	    WithPeripheral("AA:BB", "HeartRate").
//	    WithService("180d").
//	    WithCharacteristic("2a37", "read,notify", []byte{80}).
//	    Build()
type Builder struct {
	profile Profile
}

// NewBuilder creates an empty builder with a powered on radio
func NewBuilder() *Builder {
	return &Builder{}
}

// WithRadio sets the radio state by name, e.g. "powered_off"
func (b *Builder) WithRadio(state string) *Builder {
	b.profile.Radio = state
	return b
}

// WithScanInterval sets how often duplicates are re-advertised
func (b *Builder) WithScanInterval(d time.Duration) *Builder {
	b.profile.ScanInterval = d
	return b
}

// WithPeripheral adds a peripheral
func (b *Builder) WithPeripheral(id, name string) *Builder {
	b.profile.Peripherals = append(b.profile.Peripherals, PeripheralProfile{
		ID:   id,
		Name: name,
		RSSI: -60,
	})
	return b
}

func (b *Builder) last() *PeripheralProfile {
	if len(b.profile.Peripherals) == 0 {
		panic("sim.Builder: no peripheral added yet, call WithPeripheral first")
	}
	return &b.profile.Peripherals[len(b.profile.Peripherals)-1]
}

// WithRSSI sets the advertised signal strength
func (b *Builder) WithRSSI(rssi int) *Builder {
	b.last().RSSI = rssi
	return b
}

// WithAdvertisedServices overrides the advertised service list
func (b *Builder) WithAdvertisedServices(uuids ...string) *Builder {
	p := b.last()
	p.Advertise = append(p.Advertise, uuids...)
	return b
}

// WithManufacturerData sets the advertised manufacturer data
func (b *Builder) WithManufacturerData(data []byte) *Builder {
	b.last().ManufacturerData = hex.EncodeToString(data)
	return b
}

// WithTxPower sets the advertised transmit power
func (b *Builder) WithTxPower(tx int) *Builder {
	b.last().TxPower = &tx
	return b
}

// NonConnectable marks the peripheral as advertising only
func (b *Builder) NonConnectable() *Builder {
	b.last().NonConnectable = true
	return b
}

// WithConnectDelay delays connection establishment
func (b *Builder) WithConnectDelay(d time.Duration) *Builder {
	b.last().ConnectDelay = d
	return b
}

// WithReadDelay delays every characteristic read
func (b *Builder) WithReadDelay(d time.Duration) *Builder {
	b.last().ReadDelay = d
	return b
}

// FailingConnects makes the first n connects fail
func (b *Builder) FailingConnects(n int) *Builder {
	b.last().FailConnects = n
	return b
}

// Unresponsive makes every connect hang until the caller gives up
func (b *Builder) Unresponsive() *Builder {
	b.last().Unresponsive = true
	return b
}

// IgnoringContext makes delays ignore cancellation, like a stuck radio stack
func (b *Builder) IgnoringContext() *Builder {
	b.last().IgnoreContext = true
	return b
}

// WithService adds a GATT service to the last peripheral
func (b *Builder) WithService(uuid string) *Builder {
	p := b.last()
	p.Services = append(p.Services, ServiceProfile{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last service
func (b *Builder) WithCharacteristic(uuid, properties string, value []byte) *Builder {
	p := b.last()
	if len(p.Services) == 0 {
		panic("sim.Builder: no service added yet, call WithService first")
	}
	svc := &p.Services[len(p.Services)-1]
	svc.Characteristics = append(svc.Characteristics, CharacteristicProfile{
		UUID:       uuid,
		Properties: properties,
		Hex:        hex.EncodeToString(value),
	})
	return b
}

// WithNotifications scripts payloads pushed to a subscriber of the last
// characteristic, one per interval
func (b *Builder) WithNotifications(interval time.Duration, payloads ...[]byte) *Builder {
	p := b.last()
	if len(p.Services) == 0 || len(p.Services[len(p.Services)-1].Characteristics) == 0 {
		panic("sim.Builder: no characteristic added yet, call WithCharacteristic first")
	}
	svc := &p.Services[len(p.Services)-1]
	c := &svc.Characteristics[len(svc.Characteristics)-1]
	c.NotifyInterval = interval
	for _, payload := range payloads {
		c.Notifications = append(c.Notifications, hex.EncodeToString(payload))
	}
	return b
}

// Build returns a copy of the assembled profile
func (b *Builder) Build() *Profile {
	p := b.profile
	p.Peripherals = append([]PeripheralProfile(nil), b.profile.Peripherals...)
	return &p
}
