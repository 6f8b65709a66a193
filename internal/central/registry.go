package central

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
)

// canonicalID is the registry key of a peripheral identifier.
// Addresses and platform UUIDs compare case-insensitively.
func canonicalID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// peripheralEntry is the registry's mutable record of one peripheral
type peripheralEntry struct {
	mu      sync.RWMutex
	p       Peripheral
	scanGen uint64 // scan session that last reported this peripheral
}

func newPeripheralEntry(adv Advertisement) *peripheralEntry {
	e := &peripheralEntry{p: Peripheral{ID: adv.ID}}
	e.update(adv)
	return e
}

// update refreshes the record from a new advertisement
func (e *peripheralEntry) update(adv Advertisement) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.p.RSSI = adv.RSSI
	e.p.Connectable = adv.Connectable
	e.p.LastSeen = time.Now()

	if adv.LocalName != "" {
		e.p.Name = adv.LocalName
	}
	if len(adv.ManufacturerData) > 0 {
		e.p.ManufacturerData = append([]byte(nil), adv.ManufacturerData...)
	}
	if adv.TxPower != nil {
		tx := *adv.TxPower
		e.p.TxPower = &tx
	}

	// Merge advertised services, keeping them sorted and unique
	for _, svc := range adv.Services {
		normalized := NormalizeUUID(svc)
		if normalized == "" || containsString(e.p.AdvertisedServices, normalized) {
			continue
		}
		e.p.AdvertisedServices = append(e.p.AdvertisedServices, normalized)
	}
	sort.Strings(e.p.AdvertisedServices)
}

func (e *peripheralEntry) setState(state ConnectionState) {
	e.mu.Lock()
	e.p.State = state
	e.mu.Unlock()
}

// snapshot returns a copy that shares no memory with the entry
func (e *peripheralEntry) snapshot() Peripheral {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p := e.p
	p.AdvertisedServices = append([]string(nil), e.p.AdvertisedServices...)
	p.ManufacturerData = append([]byte(nil), e.p.ManufacturerData...)
	if e.p.TxPower != nil {
		tx := *e.p.TxPower
		p.TxPower = &tx
	}
	return p
}

// registry holds the peripherals known to the adapter, keyed by canonical ID
type registry struct {
	peripherals *hashmap.Map[string, *peripheralEntry]
}

func newRegistry() *registry {
	return &registry{peripherals: hashmap.New[string, *peripheralEntry]()}
}

func (r *registry) get(key string) (*peripheralEntry, bool) {
	return r.peripherals.Get(key)
}

// upsert returns the entry for adv, creating it when absent
func (r *registry) upsert(adv Advertisement) (entry *peripheralEntry, existed bool) {
	key := canonicalID(adv.ID)
	if entry, ok := r.peripherals.Get(key); ok {
		entry.update(adv)
		return entry, true
	}
	return r.peripherals.GetOrInsert(key, newPeripheralEntry(adv))
}

func (r *registry) remove(key string) {
	r.peripherals.Del(key)
}

// evict removes every peripheral for which keep returns false
func (r *registry) evict(keep func(key string) bool) int {
	var stale []string
	r.peripherals.Range(func(key string, _ *peripheralEntry) bool {
		if !keep(key) {
			stale = append(stale, key)
		}
		return true
	})
	for _, key := range stale {
		r.peripherals.Del(key)
	}
	return len(stale)
}

// list returns snapshots sorted by identifier
func (r *registry) list() []Peripheral {
	result := make([]Peripheral, 0, r.peripherals.Len())
	r.peripherals.Range(func(_ string, e *peripheralEntry) bool {
		result = append(result, e.snapshot())
		return true
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
