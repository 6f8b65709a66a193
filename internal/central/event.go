package central

import (
	"fmt"
	"time"
)

// EventKind tags the variant carried by an Event
type EventKind int

const (
	EventDeviceDiscovered EventKind = iota
	EventConnectionStateChanged
	EventCharacteristicValueUpdated
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventDeviceDiscovered:
		return "DeviceDiscovered"
	case EventConnectionStateChanged:
		return "ConnectionStateChanged"
	case EventCharacteristicValueUpdated:
		return "CharacteristicValueUpdated"
	case EventError:
		return "Error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a single entry of the adapter's ordered event sequence.
// Only the fields belonging to Kind are set.
type Event struct {
	Seq          uint64
	Kind         EventKind
	Time         time.Time
	PeripheralID string

	// EventDeviceDiscovered
	Peripheral   *Peripheral
	Rediscovered bool

	// EventConnectionStateChanged
	State ConnectionState

	// EventCharacteristicValueUpdated
	ServiceUUID        string
	CharacteristicUUID string
	Value              []byte

	// EventError
	Err error
}

// ErrorKind returns the error category of an EventError, or "" for other kinds
func (e Event) ErrorKind() ErrorKind {
	if e.Kind != EventError {
		return ""
	}
	return KindOf(e.Err)
}

func (e Event) String() string {
	switch e.Kind {
	case EventDeviceDiscovered:
		name := e.PeripheralID
		rssi := 0
		if e.Peripheral != nil {
			name = e.Peripheral.DisplayName()
			rssi = e.Peripheral.RSSI
		}
		return fmt.Sprintf("#%d %s %s (%s) rssi=%d", e.Seq, e.Kind, e.PeripheralID, name, rssi)
	case EventConnectionStateChanged:
		return fmt.Sprintf("#%d %s %s -> %s", e.Seq, e.Kind, e.PeripheralID, e.State)
	case EventCharacteristicValueUpdated:
		return fmt.Sprintf("#%d %s %s %s/%s % x", e.Seq, e.Kind, e.PeripheralID, e.ServiceUUID, e.CharacteristicUUID, e.Value)
	case EventError:
		return fmt.Sprintf("#%d %s %s [%s] %v", e.Seq, e.Kind, e.PeripheralID, e.ErrorKind(), e.Err)
	default:
		return fmt.Sprintf("#%d %s", e.Seq, e.Kind)
	}
}

// EventListener receives the adapter's events in emission order.
// OnEvent is called from a single goroutine and must not block for long.
type EventListener interface {
	OnEvent(Event)
}

// EventListenerFunc adapts a function to EventListener
type EventListenerFunc func(Event)

// OnEvent calls f(e)
func (f EventListenerFunc) OnEvent(e Event) {
	f(e)
}
