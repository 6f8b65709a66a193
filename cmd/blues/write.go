package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/blues/internal/central"
)

type writeOptions struct {
	hex        bool
	noResponse bool
}

func newWriteCmd() *cobra.Command {
	opts := &writeOptions{}
	cmd := &cobra.Command{
		Use:   "write <peripheral-id> <service-uuid> <char-uuid> <data>",
		Short: "Write a characteristic value",
		Long: `Connects to a peripheral and writes data to one characteristic.

Data is sent as text unless --hex is given. Writes wait for the peripheral's
response unless --no-response is set, which requires a characteristic that
supports write without response.

Examples:
  # Reset the energy expended counter of a heart rate monitor
  blues write AA:BB:CC:DD:EE:01 180d 2a39 01 --hex

  # Send a line over the Nordic UART service
  blues write AA:BB:CC:DD:EE:01 6e400001-b5a3-f393-e0a9-e50e24dcca9e 6e400002-b5a3-f393-e0a9-e50e24dcca9e "hello" --no-response`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.hex, "hex", false, "Data is hex (e.g., '01 02', '01:02', '0x01 0x02')")
	cmd.Flags().BoolVar(&opts.noResponse, "no-response", false, "Write without response")
	return cmd
}

func runWrite(cmd *cobra.Command, args []string, opts *writeOptions) error {
	id := args[0]
	uuids, err := central.ValidateUUID(args[1], args[2])
	if err != nil {
		return err
	}
	serviceUUID, charUUID := uuids[0], uuids[1]

	data, err := parseData(args[3], opts.hex)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("nothing to write")
	}

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

	if err := s.adapter.WriteCharacteristic(ctx, id, serviceUUID, charUUID, data, !opts.noResponse); err != nil {
		return err
	}

	if s.format == "json" {
		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"peripheral":     id,
			"service":        serviceUUID,
			"characteristic": charUUID,
			"written":        len(data),
		})
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s/%s\n", len(data), serviceUUID, charUUID)
	return err
}
