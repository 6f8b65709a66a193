package central

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blues/internal/groutine"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// session is the connection session of one peripheral. All fields are guarded by
// Adapter.mu.
type session struct {
	key          string
	peripheralID string
	state        ConnectionState
	link         Link

	cancelConnect context.CancelFunc
	cancelled     bool
	settled       chan struct{} // closed when the current transition completes
	stopMonitor   context.CancelFunc

	services  *orderedmap.OrderedMap[string, *Service] // nil until discovered
	notifying map[string]Characteristic
	toggling  map[string]chan struct{} // SetNotify in flight per characteristic, closed when done
}

func charKey(serviceUUID, charUUID string) string {
	return serviceUUID + "/" + charUUID
}

// transition moves s to state, mirrors it in the registry and emits the change.
// Must be called with a.mu held.
func (a *Adapter) transition(s *session, state ConnectionState) {
	s.state = state
	if entry, ok := a.registry.get(s.key); ok {
		entry.setState(state)
	}
	a.dispatch.emit(Event{
		Kind:         EventConnectionStateChanged,
		PeripheralID: s.peripheralID,
		State:        state,
	})
	a.logger.WithFields(logrus.Fields{
		"peripheral": s.peripheralID,
		"state":      state.String(),
	}).Debug("Connection state changed")
}

// endSession removes s and reports Disconnected. Must be called with a.mu held.
func (a *Adapter) endSession(s *session) {
	if a.sessions[s.key] == s {
		delete(a.sessions, s.key)
	}
	if s.stopMonitor != nil {
		s.stopMonitor()
		s.stopMonitor = nil
	}
	s.services = nil
	s.notifying = nil
	a.transition(s, Disconnected)
}

// Connect connects to a discovered peripheral.
//
// The session goes Connecting, then Connected on success. On failure an Error event
// is emitted and the session returns to Disconnected. Each attempt is bounded by
// Options.ConnectTimeout; Options.ConnectRetries extra attempts are made after
// failures. A Disconnect issued meanwhile cancels the attempt and Connect returns
// ErrConnectCancelled.
func (a *Adapter) Connect(ctx context.Context, id string) error {
	if err := a.checkRadio(); err != nil {
		return err
	}

	key := canonicalID(id)
	entry, ok := a.registry.get(key)
	if !ok {
		return &NotFoundError{Resource: "peripheral", IDs: []string{id}}
	}
	peripheralID := entry.snapshot().ID

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if s, exists := a.sessions[key]; exists {
		state := s.state
		a.mu.Unlock()
		if state == Connected {
			return ErrAlreadyConnected
		}
		return &ConnectionError{Failure: ConnectInProgress, Msg: state.String()}
	}

	connCtx, cancel := context.WithCancel(a.ctx)
	s := &session{
		key:           key,
		peripheralID:  peripheralID,
		cancelConnect: cancel,
		settled:       make(chan struct{}),
	}
	a.sessions[key] = s
	a.transition(s, Connecting)
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"peripheral": peripheralID,
		"timeout":    a.opts.ConnectTimeout,
		"retries":    a.opts.ConnectRetries,
	}).Info("Connecting to peripheral...")

	// The caller giving up cancels the attempt just like a Disconnect would
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	defer cancel()

	link, err := a.dialWithRetry(connCtx, peripheralID)
	return a.finishConnect(ctx, s, link, err)
}

func (a *Adapter) dialWithRetry(ctx context.Context, id string) (Link, error) {
	attempts := 1 + a.opts.ConnectRetries
	for attempt := 1; ; attempt++ {
		link, err := a.dial(ctx, id)
		if err == nil {
			return link, nil
		}
		if ctx.Err() != nil || attempt >= attempts || errors.Is(err, ErrRadioUnavailable) {
			return nil, err
		}

		a.logger.WithFields(logrus.Fields{
			"peripheral": id,
			"attempt":    attempt,
			"error":      err,
		}).Warn("Connection attempt failed, retrying")

		if a.opts.RetryBackoff <= 0 {
			continue
		}
		select {
		case <-time.After(a.opts.RetryBackoff):
		case <-ctx.Done():
			return nil, err
		}
	}
}

// dial runs a single bounded connection attempt on the command worker
func (a *Adapter) dial(ctx context.Context, id string) (Link, error) {
	var link Link
	err := a.queue.submit(ctx, OpConnect, func(cmdCtx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(cmdCtx, a.opts.ConnectTimeout)
		defer cancel()

		l, err := race(attemptCtx, OpConnect, func() (Link, error) {
			return a.driver.Connect(attemptCtx, id)
		}, closeLink)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && cmdCtx.Err() == nil {
				return &TimeoutError{Op: OpConnect, After: a.opts.ConnectTimeout}
			}
			return err
		}
		link = l
		return nil
	})
	return link, err
}

func (a *Adapter) finishConnect(ctx context.Context, s *session, link Link, err error) error {
	a.mu.Lock()

	if s.cancelled || a.closed {
		a.endSession(s)
		close(s.settled)
		a.mu.Unlock()
		closeLink(link)
		a.logger.WithField("peripheral", s.peripheralID).Info("Pending connect cancelled")
		return ErrConnectCancelled
	}

	if err != nil {
		if ctx.Err() != nil {
			// The caller gave up; report it the way the caller's context expired
			err = a.opError(OpConnect, a.opts.ConnectTimeout, ctx.Err())
		} else if !errors.Is(err, ErrTimeout) && !errors.Is(err, ErrRadioUnavailable) {
			err = fmt.Errorf("failed to connect to %q: %w", s.peripheralID, err)
		}
		a.emitError(s.peripheralID, err)
		a.endSession(s)
		close(s.settled)
		a.mu.Unlock()
		closeLink(link)

		a.logger.WithFields(logrus.Fields{
			"peripheral": s.peripheralID,
			"error":      err,
		}).Error("Failed to connect to peripheral")
		return err
	}

	s.link = link
	s.cancelConnect = nil
	s.notifying = make(map[string]Characteristic)
	monitorCtx, stopMonitor := context.WithCancel(a.ctx)
	s.stopMonitor = stopMonitor
	a.transition(s, Connected)
	close(s.settled)
	a.mu.Unlock()

	if lost := link.Disconnected(); lost != nil {
		a.workers.Go(monitorCtx, "ble-link-monitor", func(ctx context.Context) {
			select {
			case <-lost:
				a.handleLinkLost(s)
			case <-ctx.Done():
			}
		})
	}

	a.logger.WithField("peripheral", s.peripheralID).Info("Peripheral connected")
	return nil
}

// handleLinkLost ends a session whose peripheral dropped the link
func (a *Adapter) handleLinkLost(s *session) {
	a.mu.Lock()
	if a.sessions[s.key] != s || s.state != Connected {
		a.mu.Unlock()
		return
	}
	link := s.link
	a.emitError(s.peripheralID, &ConnectionError{Failure: NotConnected, Msg: "link lost"})
	a.endSession(s)
	a.mu.Unlock()

	closeLink(link)
	a.logger.WithField("peripheral", s.peripheralID).Warn("Peripheral dropped the link")
}

// Disconnect closes the session of a peripheral. It is idempotent: an unknown or
// already disconnected peripheral is a no-op that emits nothing. A pending Connect is
// cancelled instead of being allowed to complete.
//
// Closing a connected session emits Disconnecting then Disconnected, and the
// Disconnected transition happens exactly once per session: repeated calls yield the
// Disconnected state without another state-change event.
func (a *Adapter) Disconnect(ctx context.Context, id string) error {
	key := canonicalID(id)

	a.mu.Lock()
	s, ok := a.sessions[key]
	if !ok {
		a.mu.Unlock()
		a.logger.WithField("peripheral", id).Debug("Disconnect called but already disconnected")
		return nil
	}

	switch s.state {
	case Connecting:
		if !s.cancelled {
			s.cancelled = true
			s.cancelConnect()
		}
		settled := s.settled
		a.mu.Unlock()
		return a.waitSettled(ctx, settled)

	case Disconnecting:
		settled := s.settled
		a.mu.Unlock()
		return a.waitSettled(ctx, settled)
	}

	// Connected
	link := s.link
	notifying := make([]Characteristic, 0, len(s.notifying))
	for _, c := range s.notifying {
		notifying = append(notifying, c)
	}
	if s.stopMonitor != nil {
		s.stopMonitor()
		s.stopMonitor = nil
	}
	s.settled = make(chan struct{})
	a.transition(s, Disconnecting)
	a.mu.Unlock()

	a.logger.WithField("peripheral", s.peripheralID).Info("Disconnecting peripheral...")

	opCtx, cancel := context.WithTimeout(ctx, a.opts.OperationTimeout)
	defer cancel()

	err := a.queue.submit(opCtx, OpDisconnect, func(cmdCtx context.Context) error {
		for _, c := range notifying {
			if _, err := race(cmdCtx, OpNotify, func() (struct{}, error) {
				return struct{}{}, link.Unsubscribe(cmdCtx, c)
			}, nil); err != nil {
				a.logger.WithFields(logrus.Fields{
					"peripheral":   s.peripheralID,
					"service_uuid": c.ServiceUUID,
					"char_uuid":    c.UUID,
					"error":        err,
				}).Warn("Failed to unsubscribe during disconnect")
			}
		}
		_, err := race(cmdCtx, OpDisconnect, func() (struct{}, error) {
			return struct{}{}, link.Close()
		}, nil)
		return err
	})
	if errors.Is(err, errNotStarted) || errors.Is(err, ErrClosed) {
		// The worker never got to it; release the link directly
		groutine.Go(context.Background(), "ble-link-close", func(context.Context) {
			closeLink(link)
		})
	}

	a.mu.Lock()
	a.endSession(s)
	close(s.settled)
	a.mu.Unlock()

	if err != nil {
		err = a.opError(OpDisconnect, a.opts.OperationTimeout, err)
		a.logger.WithFields(logrus.Fields{
			"peripheral": s.peripheralID,
			"error":      err,
		}).Warn("Peripheral disconnected with errors")
		return err
	}

	a.logger.WithField("peripheral", s.peripheralID).Info("Peripheral disconnected")
	return nil
}

// waitSettled waits for a concurrent transition of the same session to complete
func (a *Adapter) waitSettled(ctx context.Context, settled <-chan struct{}) error {
	timer := time.NewTimer(a.opts.OperationTimeout)
	defer timer.Stop()

	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return a.opError(OpDisconnect, a.opts.OperationTimeout, ctx.Err())
	case <-timer.C:
		return &TimeoutError{Op: OpDisconnect, After: a.opts.OperationTimeout}
	}
}

// Forget disconnects a peripheral and evicts it from the registry
func (a *Adapter) Forget(ctx context.Context, id string) error {
	err := a.Disconnect(ctx, id)
	a.registry.remove(canonicalID(id))
	a.logger.WithField("peripheral", id).Debug("Peripheral forgotten")
	return err
}

func closeLink(link Link) {
	if link != nil {
		_ = link.Close()
	}
}
