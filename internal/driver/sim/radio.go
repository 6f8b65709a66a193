package sim

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blues/internal/central"
)

// DefaultScanInterval is how often advertisements repeat while duplicates are allowed
const DefaultScanInterval = 100 * time.Millisecond

var (
	errOutOfRange      = errors.New("peripheral not in range")
	errRefused         = errors.New("connection refused by peripheral")
	errNotConnectable  = errors.New("peripheral is not connectable")
	errLinkClosed      = errors.New("link closed")
	errNoSuchAttribute = errors.New("attribute not found")
)

// defaultNotifyInterval paces scripted notifications without an explicit interval
const defaultNotifyInterval = 100 * time.Millisecond

type charState struct {
	c        central.Characteristic
	value    []byte
	writes   [][]byte
	script   [][]byte
	interval time.Duration

	subscribes int
}

// device is the radio side state of one simulated peripheral
type device struct {
	profile      PeripheralProfile
	adv          central.Advertisement
	services     []central.Service
	chars        map[string]*charState
	failConnects int
	attempts     int
	link         *link
}

func charKey(serviceUUID, charUUID string) string {
	return central.NormalizeUUID(serviceUUID) + "/" + central.NormalizeUUID(charUUID)
}

func newDevice(p PeripheralProfile) (*device, error) {
	d := &device{
		profile:      p,
		chars:        make(map[string]*charState),
		failConnects: p.FailConnects,
	}

	mfg, err := hex.DecodeString(p.ManufacturerData)
	if err != nil {
		return nil, fmt.Errorf("peripheral %q: invalid manufacturer_data: %w", p.ID, err)
	}

	var gattServices []string
	for _, sp := range p.Services {
		svc := central.Service{UUID: central.NormalizeUUID(sp.UUID)}
		gattServices = append(gattServices, svc.UUID)
		for _, cp := range sp.Characteristics {
			props, err := central.ParseProperties(cp.Properties)
			if err != nil {
				return nil, fmt.Errorf("peripheral %q characteristic %s: %w", p.ID, cp.UUID, err)
			}
			value, err := cp.initialValue()
			if err != nil {
				return nil, fmt.Errorf("peripheral %q characteristic %s: %w", p.ID, cp.UUID, err)
			}
			script, err := cp.script()
			if err != nil {
				return nil, fmt.Errorf("peripheral %q characteristic %s: %w", p.ID, cp.UUID, err)
			}
			c := central.Characteristic{
				ServiceUUID: svc.UUID,
				UUID:        central.NormalizeUUID(cp.UUID),
				Properties:  props,
			}
			interval := cp.NotifyInterval
			if interval == 0 {
				interval = defaultNotifyInterval
			}
			svc.Characteristics = append(svc.Characteristics, c)
			d.chars[charKey(c.ServiceUUID, c.UUID)] = &charState{c: c, value: value, script: script, interval: interval}
		}
		d.services = append(d.services, svc)
	}

	advertised := p.Advertise
	if len(advertised) == 0 {
		advertised = gattServices
	}
	d.adv = central.Advertisement{
		ID:               p.ID,
		LocalName:        p.Name,
		RSSI:             p.RSSI,
		Connectable:      !p.NonConnectable,
		Services:         append([]string(nil), advertised...),
		ManufacturerData: mfg,
		TxPower:          p.TxPower,
	}
	return d, nil
}

// Radio is a simulated central radio implementing central.Driver.
// Test code steers it with SetState, Advertise, Notify and DropLink.
type Radio struct {
	logger       *logrus.Logger
	scanInterval time.Duration

	mu          sync.Mutex
	state       central.RadioState
	devices     []*device
	byID        map[string]*device
	scanners    map[int]func(central.Advertisement)
	nextScanner int

	active atomic.Int32
	peak   atomic.Int32
}

// New creates a radio from profile. A nil profile yields an empty, powered on radio.
func New(profile *Profile, logger *logrus.Logger) (*Radio, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if profile == nil {
		profile = &Profile{}
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	state, _ := parseRadioState(profile.Radio)
	interval := profile.ScanInterval
	if interval <= 0 {
		interval = DefaultScanInterval
	}

	r := &Radio{
		logger:       logger,
		scanInterval: interval,
		state:        state,
		byID:         make(map[string]*device),
		scanners:     make(map[int]func(central.Advertisement)),
	}
	for _, p := range profile.Peripherals {
		if err := r.AddPeripheral(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// AddPeripheral brings a new peripheral into range
func (r *Radio) AddPeripheral(p PeripheralProfile) error {
	d, err := newDevice(p)
	if err != nil {
		return err
	}

	key := strings.ToLower(p.ID)
	r.mu.Lock()
	if _, exists := r.byID[key]; exists {
		r.mu.Unlock()
		return fmt.Errorf("duplicate peripheral id %q", p.ID)
	}
	r.devices = append(r.devices, d)
	r.byID[key] = d
	r.mu.Unlock()
	return nil
}

// State implements central.Driver
func (r *Radio) State() central.RadioState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SetState changes the radio state. Powering off drops every link.
func (r *Radio) SetState(state central.RadioState) {
	r.mu.Lock()
	r.state = state
	var links []*link
	if state != central.RadioPoweredOn {
		for _, d := range r.devices {
			if d.link != nil {
				links = append(links, d.link)
				d.link = nil
			}
		}
	}
	r.mu.Unlock()

	for _, l := range links {
		l.drop()
	}
	r.logger.WithField("state", state.String()).Debug("Simulated radio state changed")
}

// Scan implements central.Driver. Every peripheral in range is advertised once; with
// allowDup the advertisements repeat every scan interval until ctx is done.
func (r *Radio) Scan(ctx context.Context, allowDup bool, handler func(central.Advertisement)) error {
	r.mu.Lock()
	if r.state != central.RadioPoweredOn {
		state := r.state
		r.mu.Unlock()
		return &central.RadioError{State: state}
	}
	id := r.nextScanner
	r.nextScanner++
	r.scanners[id] = handler
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.scanners, id)
		r.mu.Unlock()
	}()

	r.advertiseAll(handler)
	if !allowDup {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.advertiseAll(handler)
		}
	}
}

func (r *Radio) advertiseAll(handler func(central.Advertisement)) {
	r.mu.Lock()
	advs := make([]central.Advertisement, 0, len(r.devices))
	for _, d := range r.devices {
		advs = append(advs, d.adv)
	}
	r.mu.Unlock()

	for _, adv := range advs {
		handler(adv)
	}
}

// Advertise delivers adv to every running scan
func (r *Radio) Advertise(adv central.Advertisement) {
	r.mu.Lock()
	handlers := make([]func(central.Advertisement), 0, len(r.scanners))
	for _, h := range r.scanners {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(adv)
	}
}

// Connect implements central.Driver
func (r *Radio) Connect(ctx context.Context, id string) (central.Link, error) {
	defer r.track()()

	r.mu.Lock()
	if r.state != central.RadioPoweredOn {
		state := r.state
		r.mu.Unlock()
		return nil, &central.RadioError{State: state}
	}
	d, ok := r.byID[strings.ToLower(id)]
	if !ok {
		r.mu.Unlock()
		return nil, errOutOfRange
	}
	d.attempts++
	p := d.profile
	refuse := d.failConnects > 0
	if refuse {
		d.failConnects--
	}
	r.mu.Unlock()

	if p.NonConnectable {
		return nil, errNotConnectable
	}
	if p.Unresponsive {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := pause(ctx, p.ConnectDelay, p.IgnoreContext); err != nil {
		return nil, err
	}
	if refuse {
		return nil, errRefused
	}

	l := &link{radio: r, dev: d, subs: make(map[string]func([]byte)), lost: make(chan struct{})}

	r.mu.Lock()
	old := d.link
	d.link = l
	r.mu.Unlock()
	if old != nil {
		old.drop()
	}

	r.logger.WithField("peripheral", p.ID).Debug("Simulated link established")
	return l, nil
}

// Notify pushes a value from a peripheral to its subscribed link
func (r *Radio) Notify(id, serviceUUID, charUUID string, data []byte) error {
	r.mu.Lock()
	d, ok := r.byID[strings.ToLower(id)]
	if !ok {
		r.mu.Unlock()
		return errOutOfRange
	}
	cs, ok := d.chars[charKey(serviceUUID, charUUID)]
	if !ok {
		r.mu.Unlock()
		return errNoSuchAttribute
	}
	cs.value = append([]byte(nil), data...)
	l := d.link
	r.mu.Unlock()

	if l == nil {
		return errLinkClosed
	}
	handler := l.subscriber(charKey(serviceUUID, charUUID))
	if handler == nil {
		return fmt.Errorf("characteristic %s is not subscribed", charUUID)
	}
	handler(append([]byte(nil), data...))
	return nil
}

// DropLink simulates the peripheral going out of range while connected
func (r *Radio) DropLink(id string) error {
	r.mu.Lock()
	d, ok := r.byID[strings.ToLower(id)]
	if !ok || d.link == nil {
		r.mu.Unlock()
		return errLinkClosed
	}
	l := d.link
	d.link = nil
	r.mu.Unlock()

	l.drop()
	return nil
}

// Connected reports whether a link to id is up
func (r *Radio) Connected(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[strings.ToLower(id)]
	return ok && d.link != nil
}

// ConnectAttempts returns how many times Connect was called for id
func (r *Radio) ConnectAttempts(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.byID[strings.ToLower(id)]; ok {
		return d.attempts
	}
	return 0
}

// Value returns the current value of a characteristic
func (r *Radio) Value(id, serviceUUID, charUUID string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cs := r.charState(id, serviceUUID, charUUID); cs != nil {
		return append([]byte(nil), cs.value...)
	}
	return nil
}

// Writes returns every payload written to a characteristic, oldest first
func (r *Radio) Writes(id, serviceUUID, charUUID string) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs := r.charState(id, serviceUUID, charUUID)
	if cs == nil {
		return nil
	}
	out := make([][]byte, len(cs.writes))
	for i, w := range cs.writes {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

// Subscribes returns how many times a characteristic was subscribed to
func (r *Radio) Subscribes(id, serviceUUID, charUUID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cs := r.charState(id, serviceUUID, charUUID); cs != nil {
		return cs.subscribes
	}
	return 0
}

// PeakConcurrency is the highest number of GATT operations observed in flight at once
func (r *Radio) PeakConcurrency() int {
	return int(r.peak.Load())
}

// charState must be called with r.mu held
func (r *Radio) charState(id, serviceUUID, charUUID string) *charState {
	d, ok := r.byID[strings.ToLower(id)]
	if !ok {
		return nil
	}
	return d.chars[charKey(serviceUUID, charUUID)]
}

// track counts an operation in flight; call the returned func when it completes
func (r *Radio) track() func() {
	n := r.active.Add(1)
	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return func() { r.active.Add(-1) }
}

func pause(ctx context.Context, d time.Duration, ignoreContext bool) error {
	if d <= 0 {
		return nil
	}
	if ignoreContext {
		time.Sleep(d)
		return nil
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
