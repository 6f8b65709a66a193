package testutils

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blues/internal/central"
	"github.com/srg/blues/internal/driver/sim"
	"github.com/stretchr/testify/suite"
)

// SimSuite provides a fresh simulated radio and adapter for every test.
//
// Basic usage (default heart rate peripheral "AA:BB"):
//
//	type ConnectSuite struct {
//	    testutils.SimSuite
//	}
//
//	func TestConnectSuite(t *testing.T) {
//	    suite.Run(t, new(ConnectSuite))
//	}
//
// Custom profile usage:
//
//	func (s *ConnectSuite) SetupTest() {
//	    s.WithProfile().
//	        WithPeripheral("11:22", "Slow").
//	        WithConnectDelay(time.Second)
//
//	    s.SimSuite.SetupTest() // call parent last to apply configuration
//	}
type SimSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	Timeout time.Duration // upper bound for waiting on events

	ProfileBuilder *sim.Builder     // nil = DefaultProfile
	Options        *central.Options // nil = FastOptions
	Radio          *sim.Radio
	Adapter        *central.Adapter
	Events         *EventCollector
}

// Default peripheral exposed by DefaultProfile
const (
	DefaultPeripheral  = "AA:BB"
	HeartRateService   = "180d"
	HeartRateMeasure   = "2a37"
	BodySensorLocation = "2a38"
	ControlPoint       = "2a39"
	BatteryService     = "180f"
	BatteryLevel       = "2a19"
)

// DefaultProfile is a heart rate monitor with a battery service
func DefaultProfile() *sim.Builder {
	return sim.NewBuilder().
		WithPeripheral(DefaultPeripheral, "HeartRate").
		WithRSSI(-42).
		WithService(HeartRateService).
		WithCharacteristic(HeartRateMeasure, "read,notify", []byte{0x00, 0x50}).
		WithCharacteristic(BodySensorLocation, "read", []byte{0x01}).
		WithCharacteristic(ControlPoint, "write,write-without-response", nil).
		WithService(BatteryService).
		WithCharacteristic(BatteryLevel, "read,notify", []byte{50})
}

// FastOptions keeps timeouts short enough for tests
func FastOptions() *central.Options {
	return &central.Options{
		ConnectTimeout:   500 * time.Millisecond,
		OperationTimeout: 500 * time.Millisecond,
		RetryBackoff:     10 * time.Millisecond,
	}
}

// SetupSuite runs once before all tests in the suite
func (s *SimSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.Timeout = 3 * time.Second
}

// SetupTest builds the radio and adapter from the configured profile
func (s *SimSuite) SetupTest() {
	if s.ProfileBuilder == nil {
		s.ProfileBuilder = DefaultProfile()
	}
	if s.Options == nil {
		s.Options = FastOptions()
	}

	radio, err := sim.New(s.ProfileBuilder.Build(), s.Logger)
	s.Require().NoError(err, "simulation profile MUST be valid")

	s.Radio = radio
	s.Events = NewEventCollector()
	s.Adapter = central.NewAdapter(radio, s.Logger, s.Options)
	s.Adapter.SetListener(s.Events)
}

// TearDownTest closes the adapter and resets the configuration
func (s *SimSuite) TearDownTest() {
	if s.Adapter != nil {
		_ = s.Adapter.Close()
	}
	s.Adapter = nil
	s.Radio = nil
	s.ProfileBuilder = nil
	s.Options = nil
}

// WithProfile returns the profile builder for configuration in SetupTest
func (s *SimSuite) WithProfile() *sim.Builder {
	if s.ProfileBuilder == nil {
		s.ProfileBuilder = sim.NewBuilder()
	}
	return s.ProfileBuilder
}

// Discover scans until every id was discovered, then stops the scan
func (s *SimSuite) Discover(ids ...string) {
	s.T().Helper()
	s.Require().NoError(s.Adapter.StartScan(context.Background(), nil), "scan MUST start")
	for _, id := range ids {
		_, ok := s.Events.WaitFor(s.Timeout, IsDiscovery(id))
		s.Require().True(ok, "peripheral %s MUST be discovered", id)
	}
	s.Adapter.StopScan()
}

// Connect discovers and connects id
func (s *SimSuite) Connect(id string) {
	s.T().Helper()
	s.Discover(id)
	s.Require().NoError(s.Adapter.Connect(context.Background(), id), "connect to %s MUST succeed", id)
}

// ConnectAndDiscover connects id and discovers its services
func (s *SimSuite) ConnectAndDiscover(id string) []central.Service {
	s.T().Helper()
	s.Connect(id)
	services, err := s.Adapter.DiscoverServices(context.Background(), id)
	s.Require().NoError(err, "service discovery MUST succeed")
	return services
}

// WaitForState waits until the transition of id into state was delivered
func (s *SimSuite) WaitForState(id string, state central.ConnectionState) {
	s.T().Helper()
	_, ok := s.Events.WaitFor(s.Timeout, IsState(id, state))
	s.Require().True(ok, "peripheral %s MUST reach state %s", id, state)
}
