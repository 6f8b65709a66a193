package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/blues/internal/central"
)

type readOptions struct {
	hex bool
}

func newReadCmd() *cobra.Command {
	opts := &readOptions{}
	cmd := &cobra.Command{
		Use:   "read <peripheral-id> <service-uuid> <char-uuid>",
		Short: "Read a characteristic value",
		Long: `Connects to a peripheral and reads one characteristic.

The value is written to stdout as raw bytes, or as a hex string with --hex.

Examples:
  # Read Battery Level
  blues read AA:BB:CC:DD:EE:01 180f 2a19 --hex

  # Read Manufacturer Name as text
  blues read AA:BB:CC:DD:EE:01 180a 2a29`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.hex, "hex", false, "Output as hex string (e.g., '00 48'); raw bytes by default")
	return cmd
}

// valueRecord is the JSON shape of a read result
type valueRecord struct {
	Peripheral     string `json:"peripheral"`
	Service        string `json:"service"`
	Characteristic string `json:"characteristic"`
	Value          string `json:"value"`
}

func runRead(cmd *cobra.Command, args []string, opts *readOptions) error {
	id := args[0]
	uuids, err := central.ValidateUUID(args[1], args[2])
	if err != nil {
		return err
	}
	serviceUUID, charUUID := uuids[0], uuids[1]

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if _, err := s.connect(ctx, id, nil); err != nil {
		return err
	}

	data, err := s.adapter.ReadCharacteristic(ctx, id, serviceUUID, charUUID)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch {
	case s.format == "json":
		return writeJSON(w, valueRecord{
			Peripheral:     id,
			Service:        serviceUUID,
			Characteristic: charUUID,
			Value:          hex.EncodeToString(data),
		})
	case opts.hex:
		_, err = fmt.Fprintln(w, formatHex(data))
	default:
		_, err = w.Write(data)
	}
	return err
}
