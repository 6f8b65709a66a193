package central

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// connectedSession returns the live session and link of a connected peripheral
func (a *Adapter) connectedSession(id string) (*session, Link, error) {
	key := canonicalID(id)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, nil, ErrClosed
	}
	s, ok := a.sessions[key]
	if !ok || s.state != Connected {
		if _, known := a.registry.get(key); !known {
			return nil, nil, &NotFoundError{Resource: "peripheral", IDs: []string{id}}
		}
		return nil, nil, &ConnectionError{Failure: NotConnected, Msg: id}
	}
	return s, s.link, nil
}

// characteristic resolves a discovered characteristic of a connected peripheral.
// Before DiscoverServices every lookup fails with CharacteristicNotFound.
func (a *Adapter) characteristic(id, serviceUUID, charUUID string) (*session, Link, Characteristic, error) {
	s, link, err := a.connectedSession(id)
	if err != nil {
		return nil, nil, Characteristic{}, err
	}

	notFound := &NotFoundError{Resource: "characteristic", IDs: []string{serviceUUID, charUUID}}

	a.mu.Lock()
	defer a.mu.Unlock()

	if s.services == nil {
		return nil, nil, Characteristic{}, notFound
	}
	svc, ok := s.services.Get(NormalizeUUID(serviceUUID))
	if !ok {
		return nil, nil, Characteristic{}, notFound
	}
	c, ok := svc.Characteristic(charUUID)
	if !ok {
		return nil, nil, Characteristic{}, notFound
	}
	return s, link, c, nil
}

// current reports whether s is still the connected session of its peripheral.
// Must be called with a.mu held.
func (a *Adapter) current(s *session) bool {
	return a.sessions[s.key] == s && s.state == Connected
}

// DiscoverServices discovers the GATT services and characteristics of a connected
// peripheral and caches them for later reads, writes and notifications.
func (a *Adapter) DiscoverServices(ctx context.Context, id string) ([]Service, error) {
	s, link, err := a.connectedSession(id)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, a.opts.OperationTimeout)
	defer cancel()

	var discovered []Service
	err = a.queue.submit(opCtx, OpDiscover, func(cmdCtx context.Context) error {
		svcs, err := race(cmdCtx, OpDiscover, func() ([]Service, error) {
			return link.DiscoverServices(cmdCtx)
		}, nil)
		discovered = svcs
		return err
	})
	if err != nil {
		return nil, a.opError(OpDiscover, a.opts.OperationTimeout, err)
	}

	catalog := orderedmap.New[string, *Service]()
	totalChars := 0
	for _, svc := range discovered {
		normalized := normalizeService(svc)
		totalChars += len(normalized.Characteristics)
		catalog.Set(normalized.UUID, &normalized)
	}

	a.mu.Lock()
	if !a.current(s) {
		a.mu.Unlock()
		return nil, &ConnectionError{Failure: NotConnected, Msg: id}
	}
	s.services = catalog
	result := servicesOf(catalog)
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"peripheral":      s.peripheralID,
		"services":        len(result),
		"characteristics": totalChars,
	}).Info("Services discovered")

	return result, nil
}

// Services returns the services found by the last DiscoverServices of a connected
// peripheral, in discovery order
func (a *Adapter) Services(id string) ([]Service, error) {
	s, _, err := a.connectedSession(id)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s.services == nil {
		return nil, nil
	}
	return servicesOf(s.services), nil
}

// ReadCharacteristic reads a characteristic value. A successful read also emits a
// CharacteristicValueUpdated event.
func (a *Adapter) ReadCharacteristic(ctx context.Context, id, serviceUUID, charUUID string) ([]byte, error) {
	s, link, c, err := a.characteristic(id, serviceUUID, charUUID)
	if err != nil {
		return nil, err
	}
	if !c.Properties.Has(PropRead) {
		return nil, fmt.Errorf("characteristic %s does not support read: %w", c.UUID, ErrUnsupported)
	}

	opCtx, cancel := context.WithTimeout(ctx, a.opts.OperationTimeout)
	defer cancel()

	var value []byte
	err = a.queue.submit(opCtx, OpRead, func(cmdCtx context.Context) error {
		data, err := race(cmdCtx, OpRead, func() ([]byte, error) {
			return link.Read(cmdCtx, c)
		}, nil)
		value = append([]byte(nil), data...)
		return err
	})
	if err != nil {
		return nil, a.opError(OpRead, a.opts.OperationTimeout, err)
	}

	a.mu.Lock()
	if a.current(s) {
		a.emitValue(s, c, value)
	}
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"peripheral":   s.peripheralID,
		"service_uuid": c.ServiceUUID,
		"char_uuid":    c.UUID,
		"bytes":        len(value),
	}).Debug("Characteristic read")

	return value, nil
}

// WriteCharacteristic writes data to a characteristic, with or without response
func (a *Adapter) WriteCharacteristic(ctx context.Context, id, serviceUUID, charUUID string, data []byte, withResponse bool) error {
	s, link, c, err := a.characteristic(id, serviceUUID, charUUID)
	if err != nil {
		return err
	}
	if withResponse && !c.Properties.Has(PropWrite) {
		return fmt.Errorf("characteristic %s does not support write: %w", c.UUID, ErrUnsupported)
	}
	if !withResponse && !c.Properties.Has(PropWriteWithoutResponse) {
		return fmt.Errorf("characteristic %s does not support write without response: %w", c.UUID, ErrUnsupported)
	}

	payload := append([]byte(nil), data...)

	opCtx, cancel := context.WithTimeout(ctx, a.opts.OperationTimeout)
	defer cancel()

	err = a.queue.submit(opCtx, OpWrite, func(cmdCtx context.Context) error {
		_, err := race(cmdCtx, OpWrite, func() (struct{}, error) {
			return struct{}{}, link.Write(cmdCtx, c, payload, withResponse)
		}, nil)
		return err
	})
	if err != nil {
		return a.opError(OpWrite, a.opts.OperationTimeout, err)
	}

	a.logger.WithFields(logrus.Fields{
		"peripheral":    s.peripheralID,
		"service_uuid":  c.ServiceUUID,
		"char_uuid":     c.UUID,
		"bytes":         len(payload),
		"with_response": withResponse,
	}).Debug("Characteristic written")
	return nil
}

// SetNotify enables or disables notifications (or indications) of a characteristic.
// Every received value emits a CharacteristicValueUpdated event.
func (a *Adapter) SetNotify(ctx context.Context, id, serviceUUID, charUUID string, enable bool) error {
	s, link, c, err := a.characteristic(id, serviceUUID, charUUID)
	if err != nil {
		return err
	}
	if !c.Properties.CanNotify() {
		return fmt.Errorf("characteristic %s does not support notifications: %w", c.UUID, ErrUnsupported)
	}

	key := charKey(c.ServiceUUID, c.UUID)

	opCtx, cancel := context.WithTimeout(ctx, a.opts.OperationTimeout)
	defer cancel()

	// One change per characteristic at a time; later callers re-check the outcome
	a.mu.Lock()
	for {
		inFlight, busy := s.toggling[key]
		if !busy {
			break
		}
		a.mu.Unlock()
		select {
		case <-inFlight:
		case <-opCtx.Done():
			return a.opError(OpNotify, a.opts.OperationTimeout, opCtx.Err())
		}
		a.mu.Lock()
	}
	if _, active := s.notifying[key]; active == enable {
		a.mu.Unlock()
		return nil
	}
	if s.toggling == nil {
		s.toggling = make(map[string]chan struct{})
	}
	done := make(chan struct{})
	s.toggling[key] = done
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(s.toggling, key)
		a.mu.Unlock()
		close(done)
	}()

	err = a.queue.submit(opCtx, OpNotify, func(cmdCtx context.Context) error {
		_, err := race(cmdCtx, OpNotify, func() (struct{}, error) {
			if enable {
				return struct{}{}, link.Subscribe(cmdCtx, c, func(data []byte) {
					a.handleNotification(s, c, data)
				})
			}
			return struct{}{}, link.Unsubscribe(cmdCtx, c)
		}, nil)
		return err
	})
	if err != nil {
		return a.opError(OpNotify, a.opts.OperationTimeout, err)
	}

	a.mu.Lock()
	if a.current(s) {
		if enable {
			s.notifying[key] = c
		} else {
			delete(s.notifying, key)
		}
	}
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"peripheral":   s.peripheralID,
		"service_uuid": c.ServiceUUID,
		"char_uuid":    c.UUID,
		"enabled":      enable,
	}).Info("Characteristic notifications changed")
	return nil
}

// handleNotification runs on the driver's callback goroutine
func (a *Adapter) handleNotification(s *session, c Characteristic, data []byte) {
	value := append([]byte(nil), data...)

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.current(s) {
		return
	}
	a.emitValue(s, c, value)
}

// emitValue must be called with a.mu held
func (a *Adapter) emitValue(s *session, c Characteristic, value []byte) {
	a.dispatch.emit(Event{
		Kind:               EventCharacteristicValueUpdated,
		PeripheralID:       s.peripheralID,
		ServiceUUID:        c.ServiceUUID,
		CharacteristicUUID: c.UUID,
		Value:              value,
	})
}

// normalizeService returns a copy of svc with normalized UUIDs and known names filled in
func normalizeService(svc Service) Service {
	out := Service{
		UUID:            NormalizeUUID(svc.UUID),
		KnownName:       svc.KnownName,
		Characteristics: make([]Characteristic, 0, len(svc.Characteristics)),
	}
	if out.KnownName == "" {
		out.KnownName = LookupService(out.UUID)
	}
	for _, c := range svc.Characteristics {
		nc := Characteristic{
			ServiceUUID: out.UUID,
			UUID:        NormalizeUUID(c.UUID),
			KnownName:   c.KnownName,
			Properties:  c.Properties,
		}
		if nc.KnownName == "" {
			nc.KnownName = LookupCharacteristic(nc.UUID)
		}
		out.Characteristics = append(out.Characteristics, nc)
	}
	return out
}

// servicesOf copies the catalog into a slice in discovery order
func servicesOf(catalog *orderedmap.OrderedMap[string, *Service]) []Service {
	result := make([]Service, 0, catalog.Len())
	for pair := catalog.Oldest(); pair != nil; pair = pair.Next() {
		svc := *pair.Value
		svc.Characteristics = append([]Characteristic(nil), pair.Value.Characteristics...)
		result = append(result, svc)
	}
	return result
}
