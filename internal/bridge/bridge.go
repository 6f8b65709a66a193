// Package bridge turns the adapter's event callbacks into a single ordered stream
// consumed by one subscriber at a time.
//
// The Bridge is installed as the adapter's listener. Subscribing replaces the current
// sink (last subscriber wins); the replaced sink is closed and sees no further events.
// Events emitted while nobody is subscribed are dropped and counted.
//
//	b := bridge.New(logger)
//	adapter.SetListener(b)
//	sink := bridge.NewChannelSink(64)
//	b.Subscribe(sink)
//	for e := range sink.C() {
//	    fmt.Println(e)
//	}
package bridge

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/blues/internal/central"
)

// Sink consumes events. Send is called from the adapter's delivery goroutine,
// one event at a time, and must not block for long.
type Sink interface {
	Send(central.Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(central.Event)

// Send calls f(e)
func (f SinkFunc) Send(e central.Event) {
	f(e)
}

// Bridge forwards adapter events to the active sink
type Bridge struct {
	mu        sync.Mutex // guards sink; held for the whole delivery
	sink      Sink
	subs      uint64 // subscription generation, for logs
	dropped   atomic.Uint64
	delivered atomic.Uint64
	logger    *logrus.Logger
}

var _ central.EventListener = (*Bridge)(nil)

// New creates a bridge without a subscriber
func New(logger *logrus.Logger) *Bridge {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bridge{logger: logger}
}

// Subscribe makes s the sole active sink. A previously active sink is closed
// and receives nothing after Subscribe returns. A nil sink is equivalent to Unsubscribe.
func (b *Bridge) Subscribe(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.sink
	b.sink = s
	if s != nil {
		b.subs++
	}
	if prev != nil {
		closeSink(prev)
	}

	b.logger.WithFields(logrus.Fields{
		"subscription": b.subs,
		"replaced":     prev != nil,
		"active":       s != nil,
	}).Debug("Event subscriber changed")
}

// Unsubscribe detaches and closes the active sink. Later events are dropped.
func (b *Bridge) Unsubscribe() {
	b.Subscribe(nil)
}

// HasSubscriber reports whether a sink is attached
func (b *Bridge) HasSubscriber() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sink != nil
}

// Dropped returns the number of events that arrived without a subscriber
func (b *Bridge) Dropped() uint64 {
	return b.dropped.Load()
}

// Delivered returns the number of events handed to a sink
func (b *Bridge) Delivered() uint64 {
	return b.delivered.Load()
}

// OnEvent implements central.EventListener
func (b *Bridge) OnEvent(e central.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sink == nil {
		b.dropped.Add(1)
		b.logger.WithField("event", e.Kind).Trace("Event dropped: no subscriber")
		return
	}
	b.sink.Send(e)
	b.delivered.Add(1)
}

// Close detaches the active sink
func (b *Bridge) Close() {
	b.Unsubscribe()
}

// closeSink releases a replaced sink. Both Close() and io.Closer are honoured.
func closeSink(s Sink) {
	switch c := s.(type) {
	case interface{ Close() }:
		c.Close()
	case io.Closer:
		_ = c.Close()
	}
}
