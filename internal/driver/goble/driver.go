// Package goble implements central.Driver on top of github.com/go-ble/ble.
//
// The platform device comes from DeviceFactory (CoreBluetooth on darwin, HCI sockets on
// linux) and can be replaced in tests. go-ble does not report the radio state, so the
// driver infers it from the failures of recent operations.
package goble

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blues/internal/central"
)

// radioStateTTL is how long a radio failure is reported by State before the
// driver optimistically tries the radio again
const radioStateTTL = 5 * time.Second

// Radio is the part of a go-ble device the driver uses
type Radio interface {
	Scan(ctx context.Context, allowDup bool, handler func(central.Advertisement)) error
	Dial(ctx context.Context, addr string) (Client, error)
	Stop() error
}

// Client is the part of ble.Client the driver uses
type Client interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

// DeviceFactory creates the platform radio (can be overridden in tests)
var DeviceFactory = func() (Radio, error) {
	dev, err := newPlatformDevice()
	if err != nil {
		return nil, NormalizeError(err)
	}
	return &bleRadio{dev: dev}, nil
}

// Options tune how the driver talks to peripherals
type Options struct {
	WriteChunkSize  int           // split writes into chunks of this many bytes, 0 = no split
	WriteChunkDelay time.Duration // pause between chunks
}

// Driver is a central.Driver backed by go-ble
type Driver struct {
	radio  Radio
	logger *logrus.Logger
	opts   Options

	state    atomic.Int32 // central.RadioState seen on the last failure
	failedAt atomic.Int64 // unix nanos of the last radio failure
}

var _ central.Driver = (*Driver)(nil)

// New opens the platform radio
func New(logger *logrus.Logger, opts Options) (*Driver, error) {
	radio, err := DeviceFactory()
	if err != nil {
		return nil, err
	}
	return NewWithRadio(radio, logger, opts), nil
}

// NewWithRadio creates a driver on an already opened radio
func NewWithRadio(radio Radio, logger *logrus.Logger, opts Options) *Driver {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.WriteChunkSize < 0 {
		opts.WriteChunkSize = 0
	}
	d := &Driver{radio: radio, logger: logger, opts: opts}
	d.state.Store(int32(central.RadioPoweredOn))
	return d
}

// State implements central.Driver
func (d *Driver) State() central.RadioState {
	state := central.RadioState(d.state.Load())
	if state == central.RadioPoweredOn {
		return state
	}
	if time.Since(time.Unix(0, d.failedAt.Load())) > radioStateTTL {
		return central.RadioPoweredOn
	}
	return state
}

// observe records the radio state implied by the outcome of an operation
func (d *Driver) observe(err error) {
	var rerr *central.RadioError
	switch {
	case err == nil:
		d.state.Store(int32(central.RadioPoweredOn))
	case errors.As(err, &rerr):
		d.failedAt.Store(time.Now().UnixNano())
		d.state.Store(int32(rerr.State))
		d.logger.WithField("state", rerr.State.String()).Warn("BLE radio unavailable")
	}
}

// Scan implements central.Driver
func (d *Driver) Scan(ctx context.Context, allowDup bool, handler func(central.Advertisement)) error {
	err := NormalizeError(d.radio.Scan(ctx, allowDup, handler))
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil
	}
	d.observe(err)
	return err
}

// Connect implements central.Driver
func (d *Driver) Connect(ctx context.Context, id string) (central.Link, error) {
	d.logger.WithField("address", id).Debug("Dialing BLE device...")

	client, err := d.radio.Dial(ctx, id)
	if err != nil {
		err = NormalizeError(err)
		d.observe(err)
		return nil, err
	}
	d.observe(nil)
	return newLink(id, client, d.logger, d.opts), nil
}

// Close releases the platform radio
func (d *Driver) Close() error {
	return NormalizeError(d.radio.Stop())
}

// bleRadio adapts ble.Device to Radio
type bleRadio struct {
	dev ble.Device
}

func (r *bleRadio) Scan(ctx context.Context, allowDup bool, handler func(central.Advertisement)) error {
	return r.dev.Scan(ctx, allowDup, func(a ble.Advertisement) {
		handler(toAdvertisement(a))
	})
}

func (r *bleRadio) Dial(ctx context.Context, addr string) (Client, error) {
	client, err := r.dev.Dial(ctx, ble.NewAddr(addr))
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *bleRadio) Stop() error {
	return r.dev.Stop()
}
