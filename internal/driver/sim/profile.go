// Package sim implements central.Driver as an in-memory radio. Peripherals, their GATT
// databases and their failure modes come from a Profile, loaded from YAML or built
// in code with Builder.
package sim

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/srg/blues/internal/central"
	"gopkg.in/yaml.v3"
)

// CharacteristicProfile describes a simulated characteristic.
// Value is used as text unless Hex is set. Notifications are hex payloads pushed to
// a subscriber one per NotifyInterval, starting when the subscription is made.
type CharacteristicProfile struct {
	UUID       string `yaml:"uuid"`
	Properties string `yaml:"properties,omitempty"` // e.g. "read,write,notify"
	Value      string `yaml:"value,omitempty"`
	Hex        string `yaml:"hex,omitempty"`

	Notifications  []string      `yaml:"notifications,omitempty"`
	NotifyInterval time.Duration `yaml:"notify_interval,omitempty"`
}

// ServiceProfile describes a simulated GATT service
type ServiceProfile struct {
	UUID            string                  `yaml:"uuid"`
	Characteristics []CharacteristicProfile `yaml:"characteristics,omitempty"`
}

// PeripheralProfile describes one simulated peripheral and how it misbehaves
type PeripheralProfile struct {
	ID               string   `yaml:"id"`
	Name             string   `yaml:"name,omitempty"`
	RSSI             int      `yaml:"rssi,omitempty"`
	NonConnectable   bool     `yaml:"non_connectable,omitempty"`
	Advertise        []string `yaml:"advertise,omitempty"`         // advertised services, default: all GATT services
	ManufacturerData string   `yaml:"manufacturer_data,omitempty"` // hex
	TxPower          *int     `yaml:"tx_power,omitempty"`

	ConnectDelay time.Duration `yaml:"connect_delay,omitempty"`
	ReadDelay    time.Duration `yaml:"read_delay,omitempty"`
	FailConnects int           `yaml:"fail_connects,omitempty"` // refuse this many connects first
	Unresponsive bool          `yaml:"unresponsive,omitempty"`  // never answers a connect
	// IgnoreContext makes delays run to completion even when the caller gave up
	IgnoreContext bool `yaml:"ignore_context,omitempty"`

	Services []ServiceProfile `yaml:"services,omitempty"`
}

// Profile is a complete simulated radio environment
type Profile struct {
	Radio        string              `yaml:"radio,omitempty"` // powered_on (default), powered_off, unauthorized, unsupported
	ScanInterval time.Duration       `yaml:"scan_interval,omitempty"`
	Peripherals  []PeripheralProfile `yaml:"peripherals"`
}

// LoadProfile reads a YAML profile from path
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read simulation profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes and validates a YAML profile
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse simulation profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks identifiers, UUIDs, properties and hex payloads
func (p *Profile) Validate() error {
	if _, err := parseRadioState(p.Radio); err != nil {
		return err
	}

	seen := make(map[string]bool, len(p.Peripherals))
	for i, per := range p.Peripherals {
		if per.ID == "" {
			return fmt.Errorf("peripheral at index %d has no id", i)
		}
		key := strings.ToLower(per.ID)
		if seen[key] {
			return fmt.Errorf("duplicate peripheral id %q", per.ID)
		}
		seen[key] = true

		if _, err := hex.DecodeString(per.ManufacturerData); err != nil {
			return fmt.Errorf("peripheral %q: invalid manufacturer_data: %w", per.ID, err)
		}
		for _, adv := range per.Advertise {
			if central.NormalizeUUID(adv) == "" {
				return fmt.Errorf("peripheral %q: invalid advertised service %q", per.ID, adv)
			}
		}

		for _, svc := range per.Services {
			if central.NormalizeUUID(svc.UUID) == "" {
				return fmt.Errorf("peripheral %q: invalid service uuid %q", per.ID, svc.UUID)
			}
			for _, c := range svc.Characteristics {
				if central.NormalizeUUID(c.UUID) == "" {
					return fmt.Errorf("peripheral %q: invalid characteristic uuid %q", per.ID, c.UUID)
				}
				if _, err := central.ParseProperties(c.Properties); err != nil {
					return fmt.Errorf("peripheral %q characteristic %s: %w", per.ID, c.UUID, err)
				}
				if _, err := c.initialValue(); err != nil {
					return fmt.Errorf("peripheral %q characteristic %s: %w", per.ID, c.UUID, err)
				}
				if _, err := c.script(); err != nil {
					return fmt.Errorf("peripheral %q characteristic %s: %w", per.ID, c.UUID, err)
				}
			}
		}
	}
	return nil
}

func (c CharacteristicProfile) initialValue() ([]byte, error) {
	if c.Hex != "" {
		v, err := hex.DecodeString(strings.ReplaceAll(c.Hex, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("invalid hex value: %w", err)
		}
		return v, nil
	}
	return []byte(c.Value), nil
}

// script decodes the scripted notification payloads
func (c CharacteristicProfile) script() ([][]byte, error) {
	if c.NotifyInterval < 0 {
		return nil, fmt.Errorf("notify_interval must not be negative, got %s", c.NotifyInterval)
	}
	out := make([][]byte, 0, len(c.Notifications))
	for i, h := range c.Notifications {
		v, err := hex.DecodeString(strings.ReplaceAll(h, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("invalid hex in notification %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseRadioState(s string) (central.RadioState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "powered_on", "on":
		return central.RadioPoweredOn, nil
	case "powered_off", "off":
		return central.RadioPoweredOff, nil
	case "unauthorized":
		return central.RadioUnauthorized, nil
	case "unsupported":
		return central.RadioUnsupported, nil
	default:
		return central.RadioUnknown, fmt.Errorf("unknown radio state %q", s)
	}
}
