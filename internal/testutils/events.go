package testutils

import (
	"sync"
	"time"

	"github.com/srg/blues/internal/central"
)

// EventCollector records every event it receives. It implements central.EventListener
// and the bridge Sink interface.
type EventCollector struct {
	mu     sync.Mutex
	events []central.Event
	notify chan struct{}
}

// NewEventCollector creates an empty collector
func NewEventCollector() *EventCollector {
	return &EventCollector{notify: make(chan struct{}, 1)}
}

// OnEvent implements central.EventListener
func (c *EventCollector) OnEvent(e central.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Send implements bridge.Sink
func (c *EventCollector) Send(e central.Event) {
	c.OnEvent(e)
}

// Events returns a copy of everything received so far
func (c *EventCollector) Events() []central.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]central.Event(nil), c.events...)
}

// Len returns the number of events received so far
func (c *EventCollector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// Reset forgets every recorded event
func (c *EventCollector) Reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

// WaitFor blocks until an event matching pred arrives or timeout elapses.
// Events received before the call count too.
func (c *EventCollector) WaitFor(timeout time.Duration, pred func(central.Event) bool) (central.Event, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		for _, e := range c.Events() {
			if pred(e) {
				return e, true
			}
		}
		select {
		case <-c.notify:
		case <-deadline.C:
			return central.Event{}, false
		}
	}
}

// WaitForCount blocks until at least n events match pred or timeout elapses
func (c *EventCollector) WaitForCount(timeout time.Duration, n int, pred func(central.Event) bool) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if len(c.Filter(pred)) >= n {
			return true
		}
		select {
		case <-c.notify:
		case <-deadline.C:
			return false
		}
	}
}

// Filter returns the recorded events matching pred, in arrival order
func (c *EventCollector) Filter(pred func(central.Event) bool) []central.Event {
	var out []central.Event
	for _, e := range c.Events() {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// States returns the connection states reported for peripheral id, in order
func (c *EventCollector) States(id string) []central.ConnectionState {
	var states []central.ConnectionState
	for _, e := range c.Filter(IsStateChange(id)) {
		states = append(states, e.State)
	}
	return states
}

// IsKind matches events of kind k
func IsKind(k central.EventKind) func(central.Event) bool {
	return func(e central.Event) bool { return e.Kind == k }
}

// IsDiscovery matches a DeviceDiscovered event of peripheral id
func IsDiscovery(id string) func(central.Event) bool {
	return func(e central.Event) bool {
		return e.Kind == central.EventDeviceDiscovered && e.PeripheralID == id
	}
}

// IsStateChange matches ConnectionStateChanged events of peripheral id
func IsStateChange(id string) func(central.Event) bool {
	return func(e central.Event) bool {
		return e.Kind == central.EventConnectionStateChanged && e.PeripheralID == id
	}
}

// IsState matches the transition of peripheral id into state
func IsState(id string, state central.ConnectionState) func(central.Event) bool {
	return func(e central.Event) bool {
		return e.Kind == central.EventConnectionStateChanged && e.PeripheralID == id && e.State == state
	}
}

// IsValue matches CharacteristicValueUpdated events of a characteristic
func IsValue(id, charUUID string) func(central.Event) bool {
	want := central.NormalizeUUID(charUUID)
	return func(e central.Event) bool {
		return e.Kind == central.EventCharacteristicValueUpdated && e.PeripheralID == id && e.CharacteristicUUID == want
	}
}
