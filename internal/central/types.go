package central

import (
	"fmt"
	"strings"
	"time"
)

// ConnectionState is the state of a peripheral's connection session
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Disconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// RadioState reports whether the local radio can be used
type RadioState int

const (
	RadioUnknown RadioState = iota
	RadioPoweredOff
	RadioUnauthorized
	RadioUnsupported
	RadioPoweredOn
)

func (s RadioState) String() string {
	switch s {
	case RadioPoweredOff:
		return "powered_off"
	case RadioUnauthorized:
		return "unauthorized"
	case RadioUnsupported:
		return "unsupported"
	case RadioPoweredOn:
		return "powered_on"
	default:
		return "unknown"
	}
}

// Property is a single characteristic capability flag
type Property uint8

const (
	PropBroadcast Property = 1 << iota
	PropRead
	PropWriteWithoutResponse
	PropWrite
	PropNotify
	PropIndicate
)

// Properties is the set of capabilities a characteristic advertises
type Properties uint8

var propertyNames = []struct {
	prop Property
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteWithoutResponse, "write-without-response"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
}

// Has reports whether p is set
func (ps Properties) Has(p Property) bool {
	return ps&Properties(p) != 0
}

// CanNotify reports whether the characteristic supports notify or indicate
func (ps Properties) CanNotify() bool {
	return ps.Has(PropNotify) || ps.Has(PropIndicate)
}

// CanWrite reports whether the characteristic accepts either kind of write
func (ps Properties) CanWrite() bool {
	return ps.Has(PropWrite) || ps.Has(PropWriteWithoutResponse)
}

func (ps Properties) String() string {
	names := make([]string, 0, len(propertyNames))
	for _, pn := range propertyNames {
		if ps.Has(pn.prop) {
			names = append(names, pn.name)
		}
	}
	return strings.Join(names, ",")
}

// ParseProperties parses a comma separated property list such as "read,write,notify".
// "write-nr" and "writenr" are accepted as aliases of write-without-response.
func ParseProperties(s string) (Properties, error) {
	var ps Properties
	for _, raw := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		switch name {
		case "write-nr", "writenr", "write_without_response":
			name = "write-without-response"
		}
		found := false
		for _, pn := range propertyNames {
			if pn.name == name {
				ps |= Properties(pn.prop)
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown characteristic property %q", raw)
		}
	}
	return ps, nil
}

// Peripheral is a snapshot of a discovered peripheral
type Peripheral struct {
	ID                 string
	Name               string
	RSSI               int
	State              ConnectionState
	Connectable        bool
	AdvertisedServices []string
	ManufacturerData   []byte
	TxPower            *int
	LastSeen           time.Time
}

// DisplayName returns the advertised name, or the identifier when none was seen
func (p Peripheral) DisplayName() string {
	if p.Name == "" {
		return p.ID
	}
	return p.Name
}

// Characteristic describes a GATT characteristic of a connected peripheral
type Characteristic struct {
	ServiceUUID string
	UUID        string
	KnownName   string
	Properties  Properties
}

// Service describes a GATT service and its characteristics
type Service struct {
	UUID            string
	KnownName       string
	Characteristics []Characteristic
}

// Characteristic looks up a characteristic of the service by UUID
func (s Service) Characteristic(uuid string) (Characteristic, bool) {
	normalized := NormalizeUUID(uuid)
	for _, c := range s.Characteristics {
		if c.UUID == normalized {
			return c, true
		}
	}
	return Characteristic{}, false
}

// Advertisement is a single advertising report delivered by a Driver
type Advertisement struct {
	ID               string
	LocalName        string
	RSSI             int
	Connectable      bool
	Services         []string
	ManufacturerData []byte
	TxPower          *int
}

// ScanFilter selects which advertisements produce discoveries
type ScanFilter struct {
	Services        []string      // at least one must be advertised, empty = any
	AllowList       []string      // only these identifiers, empty = any
	BlockList       []string      // never these identifiers
	NamePrefix      string        // case-insensitive local name prefix
	MinRSSI         int           // 0 = no threshold
	AllowDuplicates bool          // report every advertisement, not only the first
	Duration        time.Duration // 0 = until StopScan
}

// Accepts reports whether adv passes the filter
func (f *ScanFilter) Accepts(adv Advertisement) bool {
	if f == nil {
		return true
	}

	for _, blocked := range f.BlockList {
		if strings.EqualFold(blocked, adv.ID) {
			return false
		}
	}

	if len(f.AllowList) > 0 {
		allowed := false
		for _, a := range f.AllowList {
			if strings.EqualFold(a, adv.ID) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if f.MinRSSI != 0 && adv.RSSI < f.MinRSSI {
		return false
	}

	if f.NamePrefix != "" && !strings.HasPrefix(strings.ToLower(adv.LocalName), strings.ToLower(f.NamePrefix)) {
		return false
	}

	if len(f.Services) > 0 {
		for _, required := range f.Services {
			want := NormalizeUUID(required)
			for _, svc := range adv.Services {
				if NormalizeUUID(svc) == want {
					return true
				}
			}
		}
		return false
	}

	return true
}
