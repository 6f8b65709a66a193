package main

import (
	"testing"

	"github.com/srg/blues/internal/central"
	"github.com/srg/blues/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type ReadTestSuite struct {
	CommandTestSuite
}

func TestReadTestSuite(t *testing.T) {
	suite.Run(t, new(ReadTestSuite))
}

func (s *ReadTestSuite) TestReadOutputs() {
	// GOAL: Verify read prints raw bytes, hex or JSON
	//
	// TEST SCENARIO: Read characteristics with each output mode → value rendered accordingly

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"raw text", []string{"read", heartRateID, "180a", "2a29"}, "Acme Sensors"},
		{"hex", []string{"read", heartRateID, "180d", "2a37", "--hex"}, "00 48\n"},
		{"lowercase id and 128-bit uuids", []string{"read", "aa:bb:cc:dd:ee:01", "0000180f-0000-1000-8000-00805f9b34fb", "0x2A19", "--hex"}, "5a\n"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			out, _, err := s.ExecuteCommand(tt.args...)
			s.Require().NoError(err, "read MUST succeed")
			s.Equal(tt.want, out)
		})
	}
}

func (s *ReadTestSuite) TestReadJSON() {
	out, _, err := s.ExecuteCommand("--format", "json", "read", heartRateID, "180F", "2A19")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(out, `{
		"peripheral": "AA:BB:CC:DD:EE:01",
		"service": "180f",
		"characteristic": "2a19",
		"value": "5a"
	}`)
}

func (s *ReadTestSuite) TestReadErrors() {
	// GOAL: Verify read failures carry the error kind callers branch on
	//
	// TEST SCENARIO: Unknown characteristic, write-only characteristic, unknown peripheral → matching kinds

	_, _, err := s.ExecuteCommand("read", heartRateID, "180d", "2a99")
	s.Equal(central.KindCharacteristicNotFound, central.KindOf(err))
	s.Contains(FormatUserError(err), "blues inspect", "the hint MUST point at inspect")

	_, _, err = s.ExecuteCommand("read", heartRateID, "180d", "2a39")
	s.ErrorIs(err, central.ErrUnsupported)

	cfg := s.WriteConfig("scan_duration: 150ms\n")
	_, _, err = s.ExecuteCommand("--config", cfg, "read", "11:22:33:44:55:66", "180d", "2a37")
	s.Equal(central.KindDeviceNotFound, central.KindOf(err))
	s.Contains(FormatUserError(err), "in range")

	_, _, err = s.ExecuteCommand("read", heartRateID, "heart", "2a37")
	s.ErrorContains(err, "invalid UUID format")

	_, _, err = s.ExecuteCommand("read", heartRateID, "180d")
	s.ErrorContains(err, "accepts 3 arg(s)")
}

func (s *ReadTestSuite) TestReadConnectTimeout() {
	// GOAL: Verify an unresponsive peripheral fails with ConnectionTimeout after connect_timeout
	//
	// TEST SCENARIO: Unresponsive profile, connect_timeout 100ms → read → ConnectionTimeout

	s.WithProfile(`
scan_interval: 20ms
peripherals:
  - id: "AA:BB:CC:DD:EE:01"
    unresponsive: true
`)
	cfg := s.WriteConfig("connect_timeout: 100ms\n")

	_, _, err := s.ExecuteCommand("--config", cfg, "read", heartRateID, "180d", "2a37")
	s.Require().Error(err)
	s.Equal(central.KindConnectionTimeout, central.KindOf(err))
	s.Equal("connection timed out after 100ms (raise connect_timeout or connect_retries in the config file)", FormatUserError(err))
}

func (s *ReadTestSuite) TestReadSampleProfile() {
	// GOAL: Verify the sample profile shipped with the simulator works end to end
	//
	// TEST SCENARIO: --simulate the sample heart rate profile → read body sensor location

	profile, err := testutils.ProjectFile("internal/driver/sim/testdata/heart_rate.yaml")
	s.Require().NoError(err)
	s.Profile = profile

	out, _, err := s.ExecuteCommand("read", heartRateID, "180d", "2a38", "--hex")
	s.Require().NoError(err)
	s.Equal("01\n", out)
}
