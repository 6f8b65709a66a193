package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/srg/blues/internal/central"
	"github.com/srg/blues/internal/groutine"
)

// link is a simulated connection implementing central.Link
type link struct {
	radio *Radio
	dev   *device

	mu     sync.Mutex
	subs   map[string]func([]byte)
	closed bool

	lost     chan struct{}
	lostOnce sync.Once
}

func (l *link) check() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errLinkClosed
	}
	return nil
}

// DiscoverServices implements central.Link
func (l *link) DiscoverServices(ctx context.Context) ([]central.Service, error) {
	defer l.radio.track()()
	if err := l.check(); err != nil {
		return nil, err
	}

	l.radio.mu.Lock()
	defer l.radio.mu.Unlock()
	out := make([]central.Service, len(l.dev.services))
	for i, svc := range l.dev.services {
		out[i] = svc
		out[i].Characteristics = append([]central.Characteristic(nil), svc.Characteristics...)
	}
	return out, ctx.Err()
}

func (l *link) lookup(c central.Characteristic) (*charState, error) {
	cs, ok := l.dev.chars[charKey(c.ServiceUUID, c.UUID)]
	if !ok {
		return nil, errNoSuchAttribute
	}
	return cs, nil
}

// Read implements central.Link
func (l *link) Read(ctx context.Context, c central.Characteristic) ([]byte, error) {
	defer l.radio.track()()
	if err := l.check(); err != nil {
		return nil, err
	}
	if err := pause(ctx, l.dev.profile.ReadDelay, l.dev.profile.IgnoreContext); err != nil {
		return nil, err
	}

	l.radio.mu.Lock()
	defer l.radio.mu.Unlock()
	cs, err := l.lookup(c)
	if err != nil {
		return nil, err
	}
	if !cs.c.Properties.Has(central.PropRead) {
		return nil, fmt.Errorf("read not permitted on %s", c.UUID)
	}
	return append([]byte(nil), cs.value...), nil
}

// Write implements central.Link
func (l *link) Write(ctx context.Context, c central.Characteristic, data []byte, withResponse bool) error {
	defer l.radio.track()()
	if err := l.check(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.radio.mu.Lock()
	defer l.radio.mu.Unlock()
	cs, err := l.lookup(c)
	if err != nil {
		return err
	}
	if !cs.c.Properties.CanWrite() {
		return fmt.Errorf("write not permitted on %s", c.UUID)
	}
	payload := append([]byte(nil), data...)
	cs.value = payload
	cs.writes = append(cs.writes, payload)
	return nil
}

// Subscribe implements central.Link
func (l *link) Subscribe(ctx context.Context, c central.Characteristic, handler func([]byte)) error {
	defer l.radio.track()()
	if err := ctx.Err(); err != nil {
		return err
	}

	l.radio.mu.Lock()
	cs, err := l.lookup(c)
	if err == nil {
		cs.subscribes++
	}
	l.radio.mu.Unlock()
	if err != nil {
		return err
	}

	key := charKey(c.ServiceUUID, c.UUID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errLinkClosed
	}
	_, resubscribed := l.subs[key]
	l.subs[key] = handler
	if len(cs.script) > 0 && !resubscribed {
		groutine.Go(context.Background(), "sim-notify-"+key, func(context.Context) {
			l.play(key, cs)
		})
	}
	return nil
}

// play pushes the scripted notifications of cs while the subscription lasts
func (l *link) play(key string, cs *charState) {
	ticker := time.NewTicker(cs.interval)
	defer ticker.Stop()

	for _, payload := range cs.script {
		select {
		case <-ticker.C:
		case <-l.lost:
			return
		}
		handler := l.subscriber(key)
		if handler == nil {
			return
		}
		l.radio.mu.Lock()
		cs.value = append([]byte(nil), payload...)
		l.radio.mu.Unlock()
		handler(append([]byte(nil), payload...))
	}
}

// Unsubscribe implements central.Link
func (l *link) Unsubscribe(ctx context.Context, c central.Characteristic) error {
	defer l.radio.track()()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errLinkClosed
	}
	delete(l.subs, charKey(c.ServiceUUID, c.UUID))
	return ctx.Err()
}

func (l *link) subscriber(key string) func([]byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	return l.subs[key]
}

// Disconnected implements central.Link
func (l *link) Disconnected() <-chan struct{} {
	return l.lost
}

// Close implements central.Link
func (l *link) Close() error {
	defer l.radio.track()()

	l.radio.mu.Lock()
	if l.dev.link == l {
		l.dev.link = nil
	}
	l.radio.mu.Unlock()

	l.mu.Lock()
	l.closed = true
	l.subs = make(map[string]func([]byte))
	l.mu.Unlock()
	return nil
}

// drop tears the link down from the peripheral side
func (l *link) drop() {
	l.mu.Lock()
	l.closed = true
	l.subs = make(map[string]func([]byte))
	l.mu.Unlock()
	l.lostOnce.Do(func() { close(l.lost) })
}
