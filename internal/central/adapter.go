package central

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blues/internal/groutine"
)

// Adapter is the central manager: it owns the radio session, the peripheral registry
// and one connection session per peripheral.
//
// All GATT commands are serialized on a single worker. Every event, whether it stems
// from a command or from an asynchronous radio callback, goes through one dispatcher
// and reaches the listener in emission order.
type Adapter struct {
	driver Driver
	logger *logrus.Logger
	opts   Options

	registry *registry
	dispatch *dispatcher
	queue    *commandQueue
	workers  groutine.Group

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	sessions   map[string]*session
	scanCancel context.CancelFunc
	scanDone   chan struct{}
	scanGen    uint64
	closed     bool
}

// NewAdapter creates an Adapter on top of driver and starts its workers.
// A nil logger is replaced by a default logrus logger; nil opts take DefaultOptions.
func NewAdapter(driver Driver, logger *logrus.Logger, opts *Options) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := opts.withDefaults()

	a := &Adapter{
		driver:   driver,
		logger:   logger,
		opts:     o,
		registry: newRegistry(),
		dispatch: newDispatcher(logger),
		queue:    newCommandQueue(o.QueueSize, logger),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}

	a.workers.Go(ctx, "ble-event-dispatch", a.dispatch.run)
	a.workers.Go(ctx, "ble-command-worker", a.queue.run)

	logger.WithFields(logrus.Fields{
		"connect_timeout":   o.ConnectTimeout,
		"operation_timeout": o.OperationTimeout,
		"connect_retries":   o.ConnectRetries,
	}).Debug("Central adapter started")

	return a
}

// SetListener attaches the event listener, replacing any previous one.
// A nil listener discards events.
func (a *Adapter) SetListener(l EventListener) {
	a.dispatch.setListener(l)
}

// RadioState reports the driver's radio state
func (a *Adapter) RadioState() RadioState {
	return a.driver.State()
}

// Options returns the effective adapter options
func (a *Adapter) Options() Options {
	return a.opts
}

// Peripherals returns snapshots of all known peripherals sorted by identifier
func (a *Adapter) Peripherals() []Peripheral {
	return a.registry.list()
}

// Peripheral returns a snapshot of one peripheral
func (a *Adapter) Peripheral(id string) (Peripheral, error) {
	entry, ok := a.registry.get(canonicalID(id))
	if !ok {
		return Peripheral{}, &NotFoundError{Resource: "peripheral", IDs: []string{id}}
	}
	return entry.snapshot(), nil
}

// State returns the connection state of a peripheral. Unknown peripherals are
// reported as Disconnected.
func (a *Adapter) State(id string) ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[canonicalID(id)]; ok {
		return s.state
	}
	return Disconnected
}

// Close disconnects every peripheral, stops scanning and the workers, and delivers
// the remaining events. The adapter cannot be used afterwards.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	ids := make([]string, 0, len(a.sessions))
	for key := range a.sessions {
		ids = append(ids, key)
	}
	a.mu.Unlock()

	a.logger.WithField("sessions", len(ids)).Info("Closing central adapter...")

	a.StopScan()

	var errs []error
	for _, id := range ids {
		ctx, cancel := context.WithTimeout(context.Background(), a.opts.OperationTimeout)
		if err := a.Disconnect(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", id, err))
		}
		cancel()
	}

	a.queue.close()
	a.cancel()
	a.dispatch.close()
	a.workers.Wait()

	a.logger.Info("Central adapter closed")
	return errors.Join(errs...)
}

func (a *Adapter) checkRadio() error {
	if state := a.driver.State(); state != RadioPoweredOn {
		return &RadioError{State: state}
	}
	return nil
}

// emitError raises an Error event; peripheralID may be empty for radio level errors
func (a *Adapter) emitError(peripheralID string, err error) {
	a.dispatch.emit(Event{
		Kind:         EventError,
		PeripheralID: peripheralID,
		Err:          err,
	})
}

// opError turns context expiry into a TimeoutError and wraps everything else with op
func (a *Adapter) opError(op string, after time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, After: after}
	}
	if errors.Is(err, ErrClosed) {
		return err
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

// race runs fn on its own goroutine and returns when it finishes or ctx is done,
// whichever comes first. A value produced after ctx expired is handed to abandon.
func race[T any](ctx context.Context, op string, fn func() (T, error), abandon func(T)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)

	groutine.Go(ctx, "ble-call-"+op, func(context.Context) {
		v, err := fn()
		ch <- result{v: v, err: err}
	})

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		if abandon != nil {
			groutine.Go(context.Background(), "ble-abandon-"+op, func(context.Context) {
				if r := <-ch; r.err == nil {
					abandon(r.v)
				}
			})
		}
		var zero T
		return zero, ctx.Err()
	}
}
