package goble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blues/internal/central"
)

// link is a go-ble connection implementing central.Link
type link struct {
	address string
	client  Client
	logger  *logrus.Logger
	opts    Options

	mu    sync.RWMutex
	chars map[string]*ble.Characteristic // normalized "service/char" -> go-ble handle

	writeMu sync.Mutex // keeps chunks of one payload together
}

func newLink(address string, client Client, logger *logrus.Logger, opts Options) *link {
	return &link{
		address: address,
		client:  client,
		logger:  logger,
		opts:    opts,
		chars:   make(map[string]*ble.Characteristic),
	}
}

func charKey(serviceUUID, charUUID string) string {
	return central.NormalizeUUID(serviceUUID) + "/" + central.NormalizeUUID(charUUID)
}

// DiscoverServices implements central.Link
func (l *link) DiscoverServices(_ context.Context) ([]central.Service, error) {
	profile, err := l.client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	chars := make(map[string]*ble.Characteristic)
	services := make([]central.Service, 0, len(profile.Services))
	for _, bleSvc := range profile.Services {
		svc := central.Service{UUID: central.NormalizeUUID(bleSvc.UUID.String())}
		for _, bleChar := range bleSvc.Characteristics {
			c := central.Characteristic{
				ServiceUUID: svc.UUID,
				UUID:        central.NormalizeUUID(bleChar.UUID.String()),
				Properties:  toProperties(bleChar.Property),
			}
			svc.Characteristics = append(svc.Characteristics, c)
			chars[charKey(c.ServiceUUID, c.UUID)] = bleChar
		}
		services = append(services, svc)
	}

	l.mu.Lock()
	l.chars = chars
	l.mu.Unlock()

	l.logger.WithFields(logrus.Fields{
		"address":         l.address,
		"services":        len(services),
		"characteristics": len(chars),
	}).Debug("Profile discovered successfully")
	return services, nil
}

func (l *link) lookup(c central.Characteristic) (*ble.Characteristic, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	bc, ok := l.chars[charKey(c.ServiceUUID, c.UUID)]
	if !ok {
		return nil, &central.NotFoundError{Resource: "characteristic", IDs: []string{c.ServiceUUID, c.UUID}}
	}
	return bc, nil
}

// Read implements central.Link
func (l *link) Read(_ context.Context, c central.Characteristic) ([]byte, error) {
	bc, err := l.lookup(c)
	if err != nil {
		return nil, err
	}
	data, err := l.client.ReadCharacteristic(bc)
	if err != nil {
		return nil, fmt.Errorf("failed to read characteristic %s: %w", c.UUID, NormalizeError(err))
	}
	return data, nil
}

// Write implements central.Link. Payloads longer than WriteChunkSize are sent
// as consecutive chunks with WriteChunkDelay in between.
func (l *link) Write(ctx context.Context, c central.Characteristic, data []byte, withResponse bool) error {
	bc, err := l.lookup(c)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	chunk := l.opts.WriteChunkSize
	if chunk <= 0 || chunk > len(data) {
		chunk = len(data)
	}

	for sent := 0; ; {
		n := min(chunk, len(data)-sent)
		if err := l.client.WriteCharacteristic(bc, data[sent:sent+n], !withResponse); err != nil {
			return fmt.Errorf("failed to write characteristic %s at offset %d: %w", c.UUID, sent, NormalizeError(err))
		}
		sent += n
		if sent >= len(data) {
			return nil
		}
		if err := sleep(ctx, l.opts.WriteChunkDelay); err != nil {
			return fmt.Errorf("write of characteristic %s interrupted at offset %d: %w", c.UUID, sent, err)
		}
	}
}

// indicate reports whether subscriptions to c must use indications
func indicate(c central.Characteristic) bool {
	return !c.Properties.Has(central.PropNotify) && c.Properties.Has(central.PropIndicate)
}

// Subscribe implements central.Link
func (l *link) Subscribe(_ context.Context, c central.Characteristic, handler func([]byte)) error {
	bc, err := l.lookup(c)
	if err != nil {
		return err
	}
	err = l.client.Subscribe(bc, indicate(c), func(data []byte) {
		handler(append([]byte(nil), data...))
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.UUID, NormalizeError(err))
	}
	l.logger.WithFields(logrus.Fields{
		"serviceUUID": c.ServiceUUID,
		"charUUID":    c.UUID,
	}).Debug("Subscribed to characteristic notifications")
	return nil
}

// Unsubscribe implements central.Link
func (l *link) Unsubscribe(_ context.Context, c central.Characteristic) error {
	bc, err := l.lookup(c)
	if err != nil {
		return err
	}
	if err := l.client.Unsubscribe(bc, indicate(c)); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", c.UUID, NormalizeError(err))
	}
	return nil
}

// Disconnected implements central.Link. Only clients reporting link loss
// (CoreBluetooth, HCI) provide the channel.
func (l *link) Disconnected() <-chan struct{} {
	if dc, ok := l.client.(interface{ Disconnected() <-chan struct{} }); ok {
		return dc.Disconnected()
	}
	return nil
}

// Close implements central.Link
func (l *link) Close() error {
	return NormalizeError(l.client.CancelConnection())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
