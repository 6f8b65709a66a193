package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blues/internal/central"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRadio(t *testing.T, b *Builder) *Radio {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	r, err := New(b.Build(), logger)
	require.NoError(t, err, "profile MUST be valid")
	return r
}

func sensor() *Builder {
	return NewBuilder().
		WithPeripheral("AA:BB", "Sensor").
		WithService("180f").
		WithCharacteristic("2a19", "read,notify", []byte{42}).
		WithCharacteristic("2a1a", "write", nil)
}

func TestLoadProfileFromYAML(t *testing.T) {
	p, err := LoadProfile("testdata/heart_rate.yaml")
	require.NoError(t, err)

	assert.Equal(t, 50*time.Millisecond, p.ScanInterval)
	require.Len(t, p.Peripherals, 2)

	hr := p.Peripherals[0]
	assert.Equal(t, "HeartRate", hr.Name)
	assert.Equal(t, 20*time.Millisecond, hr.ConnectDelay)
	require.NotNil(t, hr.TxPower)
	assert.Equal(t, 4, *hr.TxPower)
	require.Len(t, hr.Services, 3)
	assert.Equal(t, "read,notify", hr.Services[0].Characteristics[0].Properties)

	beacon := p.Peripherals[1]
	assert.True(t, beacon.NonConnectable)
	assert.Equal(t, []string{"feaa"}, beacon.Advertise)

	r, err := New(p, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x48}, r.Value("aa:bb:cc:dd:ee:01", "180d", "2a37"), "hex values MUST ignore spaces")
	assert.Equal(t, []byte("Acme Sensors"), r.Value("AA:BB:CC:DD:EE:01", "180a", "2a29"))
}

func TestProfileValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		err  string
	}{
		{"unknown radio state", "radio: sideways\n", "unknown radio state"},
		{"missing id", "peripherals:\n  - name: x\n", "has no id"},
		{"duplicate id", "peripherals:\n  - id: a\n  - id: A\n", "duplicate peripheral id"},
		{"bad manufacturer data", "peripherals:\n  - id: a\n    manufacturer_data: xyz\n", "manufacturer_data"},
		{"bad service uuid", "peripherals:\n  - id: a\n    services:\n      - uuid: nope\n", "invalid service uuid"},
		{"bad property", "peripherals:\n  - id: a\n    services:\n      - uuid: 180d\n        characteristics:\n          - uuid: 2a37\n            properties: fly\n", "fly"},
		{"bad hex value", "peripherals:\n  - id: a\n    services:\n      - uuid: 180d\n        characteristics:\n          - uuid: 2a37\n            hex: zz\n", "invalid hex value"},
		{"malformed yaml", "peripherals: [", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProfile([]byte(tt.yaml))
			assert.ErrorContains(t, err, tt.err)
		})
	}
}

func TestBuilderPanicsWithoutParent(t *testing.T) {
	assert.Panics(t, func() { NewBuilder().WithRSSI(-10) })
	assert.Panics(t, func() { NewBuilder().WithPeripheral("a", "").WithCharacteristic("2a19", "read", nil) })
}

func TestScanAdvertisesOnceWithoutDuplicates(t *testing.T) {
	tx := 3
	r := newTestRadio(t, sensor().WithRSSI(-30).WithTxPower(tx).WithManufacturerData([]byte{0x4c, 0x00}))

	var mu sync.Mutex
	var advs []central.Advertisement
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := r.Scan(ctx, false, func(adv central.Advertisement) {
		mu.Lock()
		advs = append(advs, adv)
		mu.Unlock()
	})
	require.NoError(t, err, "a scan ended by its context is not an error")

	require.Len(t, advs, 1)
	adv := advs[0]
	assert.Equal(t, "AA:BB", adv.ID)
	assert.Equal(t, "Sensor", adv.LocalName)
	assert.Equal(t, -30, adv.RSSI)
	assert.True(t, adv.Connectable)
	assert.Equal(t, []string{"180f"}, adv.Services, "GATT services MUST be advertised by default")
	assert.Equal(t, []byte{0x4c, 0x00}, adv.ManufacturerData)
	require.NotNil(t, adv.TxPower)
	assert.Equal(t, 3, *adv.TxPower)
}

func TestScanRepeatsWithDuplicates(t *testing.T) {
	r := newTestRadio(t, sensor().WithScanInterval(10*time.Millisecond))

	var mu sync.Mutex
	count := 0
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, r.Scan(ctx, true, func(central.Advertisement) {
		mu.Lock()
		count++
		mu.Unlock()
	}))
	assert.Greater(t, count, 3)
}

func TestScanRequiresPoweredRadio(t *testing.T) {
	r := newTestRadio(t, sensor().WithRadio("unauthorized"))

	err := r.Scan(context.Background(), false, func(central.Advertisement) {})
	assert.ErrorIs(t, err, central.ErrRadioUnavailable)

	_, err = r.Connect(context.Background(), "AA:BB")
	assert.ErrorIs(t, err, central.ErrRadioUnavailable)
}

func TestConnectFailureModes(t *testing.T) {
	r := newTestRadio(t, NewBuilder().
		WithPeripheral("01", "Flaky").FailingConnects(1).
		WithPeripheral("02", "Beacon").NonConnectable().
		WithPeripheral("03", "Dead").Unresponsive().
		WithPeripheral("04", "Slow").WithConnectDelay(time.Second))

	ctx := context.Background()

	_, err := r.Connect(ctx, "01")
	assert.ErrorIs(t, err, errRefused)
	l, err := r.Connect(ctx, "01")
	require.NoError(t, err, "the second attempt MUST succeed")
	assert.True(t, r.Connected("01"))
	assert.Equal(t, 2, r.ConnectAttempts("01"))
	require.NoError(t, l.Close())
	assert.False(t, r.Connected("01"))

	_, err = r.Connect(ctx, "02")
	assert.ErrorIs(t, err, errNotConnectable)

	_, err = r.Connect(ctx, "missing")
	assert.ErrorIs(t, err, errOutOfRange)

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = r.Connect(short, "03")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	start := time.Now()
	_, err = r.Connect(short, "04")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 500*time.Millisecond, "connect delay MUST honour the context")
}

func TestLinkGATTOperations(t *testing.T) {
	r := newTestRadio(t, sensor())
	ctx := context.Background()

	l, err := r.Connect(ctx, "aa:bb")
	require.NoError(t, err)

	services, err := l.DiscoverServices(ctx)
	require.NoError(t, err)
	require.Len(t, services, 1)
	require.Len(t, services[0].Characteristics, 2)
	level := services[0].Characteristics[0]
	control := services[0].Characteristics[1]

	v, err := l.Read(ctx, level)
	require.NoError(t, err)
	assert.Equal(t, []byte{42}, v)

	_, err = l.Read(ctx, control)
	assert.ErrorContains(t, err, "read not permitted")

	require.NoError(t, l.Write(ctx, control, []byte{1, 2}, true))
	require.NoError(t, l.Write(ctx, control, []byte{3}, true))
	assert.Equal(t, [][]byte{{1, 2}, {3}}, r.Writes("AA:BB", "180f", "2a1a"))
	assert.ErrorContains(t, l.Write(ctx, level, []byte{0}, true), "write not permitted")

	got := make(chan []byte, 4)
	require.NoError(t, l.Subscribe(ctx, level, func(data []byte) { got <- data }))
	require.NoError(t, r.Notify("AA:BB", "180F", "2A19", []byte{41}))
	assert.Equal(t, []byte{41}, <-got)
	assert.Equal(t, []byte{41}, r.Value("AA:BB", "180f", "2a19"), "notify MUST update the stored value")

	require.NoError(t, l.Unsubscribe(ctx, level))
	assert.Error(t, r.Notify("AA:BB", "180f", "2a19", []byte{40}))

	assert.ErrorIs(t, r.Notify("AA:BB", "180f", "ffff", nil), errNoSuchAttribute)
	assert.Equal(t, 1, r.PeakConcurrency(), "sequential operations MUST NOT overlap")
}

func TestDropLinkAndPowerOff(t *testing.T) {
	r := newTestRadio(t, sensor().WithPeripheral("CC:DD", "Other"))
	ctx := context.Background()

	l1, err := r.Connect(ctx, "AA:BB")
	require.NoError(t, err)
	l2, err := r.Connect(ctx, "CC:DD")
	require.NoError(t, err)

	require.NoError(t, r.DropLink("AA:BB"))
	select {
	case <-l1.Disconnected():
	case <-time.After(time.Second):
		t.Fatal("a dropped link MUST signal Disconnected")
	}
	_, err = l1.DiscoverServices(ctx)
	assert.ErrorIs(t, err, errLinkClosed)
	assert.ErrorIs(t, r.DropLink("AA:BB"), errLinkClosed)

	r.SetState(central.RadioPoweredOff)
	assert.Equal(t, central.RadioPoweredOff, r.State())
	select {
	case <-l2.Disconnected():
	case <-time.After(time.Second):
		t.Fatal("powering off MUST drop every link")
	}
	assert.False(t, r.Connected("CC:DD"))
}

func TestReadDelayIgnoringContext(t *testing.T) {
	r := newTestRadio(t, sensor().WithReadDelay(100*time.Millisecond).IgnoringContext())

	l, err := r.Connect(context.Background(), "AA:BB")
	require.NoError(t, err)
	services, err := l.DiscoverServices(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = l.Read(ctx, services[0].Characteristics[0])
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond, "the delay MUST run to completion")
}

func TestAddPeripheralWhileScanning(t *testing.T) {
	r := newTestRadio(t, NewBuilder())

	seen := make(chan central.Advertisement, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Scan(ctx, false, func(adv central.Advertisement) { seen <- adv }) }()

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.scanners) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, r.AddPeripheral(PeripheralProfile{ID: "EE:FF", Name: "Late"}))
	assert.Error(t, r.AddPeripheral(PeripheralProfile{ID: "ee:ff"}), "duplicate ids MUST be rejected")
	r.Advertise(central.Advertisement{ID: "EE:FF", LocalName: "Late"})

	adv := <-seen
	assert.Equal(t, "Late", adv.LocalName)

	cancel()
	assert.NoError(t, <-done)
}

func TestScriptedNotifications(t *testing.T) {
	r := newTestRadio(t, sensor().
		WithService("180d").
		WithCharacteristic("2a37", "notify", nil).
		WithNotifications(10*time.Millisecond, []byte{0, 60}, []byte{0, 61}, []byte{0, 62}))

	l, err := r.Connect(context.Background(), "AA:BB")
	require.NoError(t, err)
	services, err := l.DiscoverServices(context.Background())
	require.NoError(t, err)
	hrm := services[1].Characteristics[0]

	got := make(chan []byte, 8)
	require.NoError(t, l.Subscribe(context.Background(), hrm, func(data []byte) { got <- data }))

	for _, want := range [][]byte{{0, 60}, {0, 61}, {0, 62}} {
		select {
		case v := <-got:
			assert.Equal(t, want, v, "scripted payloads MUST arrive in order")
		case <-time.After(time.Second):
			t.Fatalf("scripted notification %x MUST be delivered", want)
		}
	}
	assert.Equal(t, []byte{0, 62}, r.Value("AA:BB", "180d", "2a37"), "the last payload MUST become the value")

	select {
	case v := <-got:
		t.Fatalf("the script MUST play once, got extra %x", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScriptedNotificationsValidation(t *testing.T) {
	_, err := ParseProfile([]byte(`
peripherals:
  - id: "AA:BB"
    services:
      - uuid: "180d"
        characteristics:
          - uuid: "2a37"
            properties: notify
            notifications: ["00 3c", "zz"]
`))
	assert.ErrorContains(t, err, "notification 1")

	assert.Panics(t, func() {
		NewBuilder().WithPeripheral("AA:BB", "x").WithService("180d").WithNotifications(time.Millisecond, []byte{1})
	}, "WithNotifications MUST require a characteristic")
}
