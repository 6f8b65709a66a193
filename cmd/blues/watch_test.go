package main

import (
	"testing"

	"github.com/srg/blues/internal/central"
	"github.com/srg/blues/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type WatchTestSuite struct {
	CommandTestSuite
}

func TestWatchTestSuite(t *testing.T) {
	suite.Run(t, new(WatchTestSuite))
}

func (s *WatchTestSuite) TestWatchJSONLines() {
	// GOAL: Verify watch prints the whole connection in emission order
	//
	// TEST SCENARIO: Watch heart rate monitor for 500ms → connect, three notifications, disconnect

	out, _, err := s.ExecuteCommand("--format", "json", "watch", heartRateID, "--duration", "500ms")
	s.Require().NoError(err, "watch MUST succeed")

	testutils.NewJSONAsserter(s.T()).Assert(jsonLines(out), `[
		{"seq": "<<PRESENCE>>", "time": "<<PRESENCE>>", "kind": "ConnectionStateChanged", "peripheral": "AA:BB:CC:DD:EE:01", "state": "connecting"},
		{"kind": "ConnectionStateChanged", "peripheral": "AA:BB:CC:DD:EE:01", "state": "connected"},
		{"kind": "CharacteristicValueUpdated", "service": "180d", "characteristic": "2a37", "value": "0049"},
		{"kind": "CharacteristicValueUpdated", "service": "180d", "characteristic": "2a37", "value": "004a"},
		{"kind": "CharacteristicValueUpdated", "service": "180d", "characteristic": "2a37", "value": "004b"},
		{"kind": "ConnectionStateChanged", "peripheral": "AA:BB:CC:DD:EE:01", "state": "disconnecting"},
		{"kind": "ConnectionStateChanged", "peripheral": "AA:BB:CC:DD:EE:01", "state": "disconnected"}
	]`)
}

func (s *WatchTestSuite) TestWatchText() {
	out, _, err := s.ExecuteCommand("watch", heartRateID, "--service", "180d", "--char", "2a37", "--duration", "300ms")
	s.Require().NoError(err)
	s.Contains(out, "state      AA:BB:CC:DD:EE:01 connected")
	s.Contains(out, "value      AA:BB:CC:DD:EE:01 180d/2a37 00 4b")
}

func (s *WatchTestSuite) TestWatchNothingToWatch() {
	_, _, err := s.ExecuteCommand("watch", heartRateID, "--service", "180f", "--duration", "300ms")
	s.ErrorIs(err, central.ErrUnsupported, "a service without notifiable characteristics MUST be rejected")

	_, _, err = s.ExecuteCommand("watch", heartRateID, "--char", "2a99", "--duration", "300ms")
	s.Equal(central.KindCharacteristicNotFound, central.KindOf(err))

	_, _, err = s.ExecuteCommand("watch", heartRateID, "--service", "heart")
	s.ErrorContains(err, "invalid service UUID")
}

func TestWatchTargets(t *testing.T) {
	// GOAL: Verify target selection by service, characteristic and notify capability
	//
	// TEST SCENARIO: Two services with mixed properties → each selection picks the expected characteristics

	services := []central.Service{
		{UUID: "180d", Characteristics: []central.Characteristic{
			{ServiceUUID: "180d", UUID: "2a37", Properties: central.Properties(central.PropRead | central.PropNotify)},
			{ServiceUUID: "180d", UUID: "2a39", Properties: central.Properties(central.PropWrite)},
		}},
		{UUID: "1809", Characteristics: []central.Characteristic{
			{ServiceUUID: "1809", UUID: "2a1c", Properties: central.Properties(central.PropIndicate)},
		}},
	}

	uuids := func(cs []central.Characteristic) []string {
		var out []string
		for _, c := range cs {
			out = append(out, c.UUID)
		}
		return out
	}

	got, err := watchTargets(services, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"2a37", "2a1c"}, uuids(got), "every notifiable characteristic MUST be watched")

	got, err = watchTargets(services, "1809", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"2a1c"}, uuids(got))

	got, err = watchTargets(services, "", []string{"2a39"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2a39"}, uuids(got), "explicit characteristics MUST be watched as given")

	_, err = watchTargets(services, "180d", []string{"2a1c"})
	assert.Equal(t, central.KindCharacteristicNotFound, central.KindOf(err))

	_, err = watchTargets(services, "180d", nil)
	require.NoError(t, err)
}
