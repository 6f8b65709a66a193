package central

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// dispatcher turns events raised on arbitrary goroutines into one ordered sequence.
//
// emit never blocks: events are appended to a FIFO under a lock that also assigns
// their sequence numbers, and a single goroutine hands them to the listener in that
// order. Callers may emit while holding their own locks.
type dispatcher struct {
	mu       sync.Mutex
	queue    []Event
	seq      uint64
	listener EventListener
	closed   bool

	wake   chan struct{}
	stop   chan struct{}
	done   chan struct{}
	logger *logrus.Logger
}

func newDispatcher(logger *logrus.Logger) *dispatcher {
	return &dispatcher{
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (d *dispatcher) setListener(l EventListener) {
	d.mu.Lock()
	d.listener = l
	d.mu.Unlock()
}

// emit stamps e and queues it for delivery. Events emitted after close are discarded.
func (d *dispatcher) emit(e Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.seq++
	e.Seq = d.seq
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	d.queue = append(d.queue, e)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// run delivers queued events until close, then drains what is left
func (d *dispatcher) run(_ context.Context) {
	defer close(d.done)
	for {
		select {
		case <-d.wake:
			d.deliver()
		case <-d.stop:
			d.deliver()
			return
		}
	}
}

func (d *dispatcher) deliver() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		e := d.queue[0]
		d.queue[0] = Event{}
		d.queue = d.queue[1:]
		l := d.listener
		d.mu.Unlock()

		if l == nil {
			d.logger.WithFields(logrus.Fields{
				"seq":  e.Seq,
				"kind": e.Kind.String(),
			}).Debug("No listener attached, event discarded")
			continue
		}
		d.safeDeliver(l, e)
	}
}

// safeDeliver keeps a panicking listener from taking the dispatcher down
func (d *dispatcher) safeDeliver(l EventListener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"seq":   e.Seq,
				"kind":  e.Kind.String(),
				"panic": r,
			}).Error("Event listener panicked")
		}
	}()
	l.OnEvent(e)
}

// close stops accepting events and waits until the queued ones were delivered
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.stop)
	<-d.done
}
