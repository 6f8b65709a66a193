package bridge_test

import (
	"context"
	"testing"
	"time"

	"github.com/srg/blues/internal/bridge"
	"github.com/srg/blues/internal/central"
	"github.com/srg/blues/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const (
	id         = testutils.DefaultPeripheral
	hrm        = testutils.HeartRateMeasure
	hrmService = testutils.HeartRateService
)

// BridgeAdapterTestSuite runs the bridge as the listener of a simulated adapter
type BridgeAdapterTestSuite struct {
	testutils.SimSuite
	Bridge *bridge.Bridge
}

func TestBridgeAdapterTestSuite(t *testing.T) {
	suite.Run(t, new(BridgeAdapterTestSuite))
}

func (s *BridgeAdapterTestSuite) SetupTest() {
	s.SimSuite.SetupTest()

	s.Bridge = bridge.New(s.Logger)
	s.Bridge.Subscribe(s.Events)
	s.Adapter.SetListener(s.Bridge)
}

func (s *BridgeAdapterTestSuite) notify(values ...byte) {
	for _, v := range values {
		s.Require().NoError(s.Radio.Notify(id, hrmService, hrm, []byte{0x00, v}))
	}
}

func (s *BridgeAdapterTestSuite) TestSubscribeTwice() {
	// GOAL: the second subscriber receives subsequent events; the first receives none after replacement
	//
	// TEST SCENARIO: connect + notify via subscriber A → subscribe B → 3 notifications → only B sees them

	s.ConnectAndDiscover(id)
	s.Require().NoError(s.Adapter.SetNotify(context.Background(), id, hrmService, hrm, true))
	s.notify(60)
	_, ok := s.Events.WaitFor(s.Timeout, testutils.IsValue(id, hrm))
	s.Require().True(ok, "first subscriber MUST receive events while active")

	second := testutils.NewEventCollector()
	s.Bridge.Subscribe(second)
	before := s.Events.Len()

	s.notify(61, 62, 63)

	s.Require().True(second.WaitForCount(s.Timeout, 3, testutils.IsValue(id, hrm)))
	values := second.Filter(testutils.IsValue(id, hrm))
	s.Equal([]byte{0x00, 61}, values[0].Value)
	s.Equal([]byte{0x00, 63}, values[2].Value)

	time.Sleep(50 * time.Millisecond)
	s.Equal(before, s.Events.Len(), "replaced subscriber MUST NOT receive events")
}

func (s *BridgeAdapterTestSuite) TestUnsubscribeDropsEvents() {
	s.ConnectAndDiscover(id)
	s.Require().NoError(s.Adapter.SetNotify(context.Background(), id, hrmService, hrm, true))

	s.Bridge.Unsubscribe()
	before := s.Bridge.Dropped()
	s.notify(70, 71)

	s.Eventually(func() bool { return s.Bridge.Dropped() >= before+2 }, s.Timeout, 10*time.Millisecond,
		"events without a subscriber MUST be dropped")
}

func (s *BridgeAdapterTestSuite) TestChannelSinkPreservesEmissionOrder() {
	sink := bridge.NewChannelSink(256)
	s.Bridge.Subscribe(sink)

	s.Require().NoError(s.Adapter.StartScan(context.Background(), nil))
	var discovered central.Event
	select {
	case discovered = <-sink.C():
	case <-time.After(s.Timeout):
		s.FailNow("discovery MUST be delivered through the channel sink")
	}
	s.Equal(central.EventDeviceDiscovered, discovered.Kind)
	s.Adapter.StopScan()

	s.Require().NoError(s.Adapter.Connect(context.Background(), id))
	_, err := s.Adapter.DiscoverServices(context.Background(), id)
	s.Require().NoError(err)
	s.Require().NoError(s.Adapter.SetNotify(context.Background(), id, hrmService, hrm, true))
	s.notify(80, 81, 82)
	s.Require().NoError(s.Adapter.Disconnect(context.Background(), id))

	last := discovered.Seq
	var states []central.ConnectionState
	var bpm []byte
	timeout := time.After(s.Timeout)
	for len(states) < 4 {
		select {
		case e := <-sink.C():
			s.Require().Greater(e.Seq, last, "events MUST arrive in emission order")
			last = e.Seq
			switch e.Kind {
			case central.EventConnectionStateChanged:
				states = append(states, e.State)
			case central.EventCharacteristicValueUpdated:
				bpm = append(bpm, e.Value[1])
			}
		case <-timeout:
			s.FailNow("missing state transitions", "got %v", states)
		}
	}

	s.Equal([]central.ConnectionState{central.Connecting, central.Connected, central.Disconnecting, central.Disconnected}, states)
	s.Equal([]byte{80, 81, 82}, bpm, "notifications MUST precede the disconnect")
}
