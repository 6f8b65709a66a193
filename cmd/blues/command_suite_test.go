package main

import (
	"bytes"
	"strings"

	"github.com/srg/blues/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// Peripherals of testProfile
const (
	heartRateID = "AA:BB:CC:DD:EE:01"
	beaconID    = "AA:BB:CC:DD:EE:02"
)

// testProfile is a heart rate monitor that notifies three measurements after
// subscription, next to a non-connectable beacon
const testProfile = `
scan_interval: 20ms
peripherals:
  - id: "AA:BB:CC:DD:EE:01"
    name: HeartRate
    rssi: -48
    manufacturer_data: "4c00"
    tx_power: 4
    services:
      - uuid: "180d"
        characteristics:
          - uuid: "2a37"
            properties: read,notify
            hex: "00 48"
            notifications: ["00 49", "00 4a", "00 4b"]
            notify_interval: 20ms
          - uuid: "2a39"
            properties: write
      - uuid: "180f"
        characteristics:
          - uuid: "2a19"
            properties: read
            hex: "5a"
      - uuid: "180a"
        characteristics:
          - uuid: "2a29"
            properties: read
            value: Acme Sensors
  - id: "AA:BB:CC:DD:EE:02"
    name: Beacon
    rssi: -80
    non_connectable: true
    advertise: ["feaa"]
`

// CommandTestSuite runs blues commands against a simulated radio.
// All cmd/blues test suites should embed it.
type CommandTestSuite struct {
	suite.Suite

	Profile string // simulation profile passed with --simulate
}

// SetupTest writes a fresh simulation profile for every test
func (s *CommandTestSuite) SetupTest() {
	s.Profile = testutils.WriteTempFile(s.T(), "profile.yaml", testProfile)
}

// WithProfile replaces the simulation profile of the current test
func (s *CommandTestSuite) WithProfile(content string) {
	s.Profile = testutils.WriteTempFile(s.T(), "custom.yaml", content)
}

// WriteConfig writes a config file for --config and returns its path
func (s *CommandTestSuite) WriteConfig(content string) string {
	return testutils.WriteTempFile(s.T(), "blues.yaml", content)
}

// ExecuteCommand runs a fresh command tree with args against the simulated radio,
// returns stdout, stderr and the command error
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	cmd := newRootCmd()
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(append([]string{"--simulate", s.Profile}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// jsonLines turns newline delimited JSON objects into one JSON array
func jsonLines(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return "[" + strings.Join(lines, ",") + "]"
}
