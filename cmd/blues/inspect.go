package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/blues/internal/central"
)

type inspectOptions struct {
	values bool
}

func newInspectCmd() *cobra.Command {
	opts := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect <peripheral-id>",
		Short: "List the GATT services and characteristics of a peripheral",
		Long: `Connects to a peripheral, discovers its GATT services and characteristics
and prints them with their properties.

Examples:
  # List services and characteristics
  blues inspect AA:BB:CC:DD:EE:01

  # Also read every readable characteristic
  blues inspect AA:BB:CC:DD:EE:01 --values`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.values, "values", false, "Read the value of every readable characteristic")
	return cmd
}

// characteristicRecord is the JSON shape of an inspected characteristic
type characteristicRecord struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name,omitempty"`
	Properties string `json:"properties"`
	Value      string `json:"value,omitempty"`
	ReadError  string `json:"read_error,omitempty"`
}

type serviceRecord struct {
	UUID            string                 `json:"uuid"`
	Name            string                 `json:"name,omitempty"`
	Characteristics []characteristicRecord `json:"characteristics"`
}

type inspectRecord struct {
	ID       string          `json:"id"`
	Name     string          `json:"name,omitempty"`
	Services []serviceRecord `json:"services"`
}

func runInspect(cmd *cobra.Command, id string, opts *inspectOptions) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	services, err := s.connect(ctx, id, nil)
	if err != nil {
		return err
	}

	record := inspectRecord{ID: id}
	if p, err := s.adapter.Peripheral(id); err == nil {
		record.ID = p.ID
		record.Name = p.Name
	}

	for _, svc := range services {
		sr := serviceRecord{UUID: svc.UUID, Name: svc.KnownName, Characteristics: []characteristicRecord{}}
		for _, c := range svc.Characteristics {
			cr := characteristicRecord{UUID: c.UUID, Name: c.KnownName, Properties: c.Properties.String()}
			if opts.values && c.Properties.Has(central.PropRead) {
				cr.Value, cr.ReadError = readValue(ctx, s, id, c)
			}
			sr.Characteristics = append(sr.Characteristics, cr)
		}
		record.Services = append(record.Services, sr)
	}

	if s.format == "json" {
		return writeJSON(cmd.OutOrStdout(), record)
	}
	return displayInspect(cmd.OutOrStdout(), record, opts.values)
}

func readValue(ctx context.Context, s *session, id string, c central.Characteristic) (value, readErr string) {
	data, err := s.adapter.ReadCharacteristic(ctx, id, c.ServiceUUID, c.UUID)
	if err != nil {
		s.logger.WithError(err).WithField("char_uuid", c.UUID).Warn("Failed to read characteristic")
		return "", err.Error()
	}
	return hex.EncodeToString(data), ""
}

func displayInspect(w io.Writer, r inspectRecord, values bool) error {
	name := r.Name
	if name == "" {
		name = "unnamed"
	}
	fmt.Fprintf(w, "Peripheral %s (%s)\n", r.ID, name)

	for _, svc := range r.Services {
		fmt.Fprintln(w)
		if svc.Name != "" {
			fmt.Fprintf(w, "Service %s (%s)\n", svc.UUID, svc.Name)
		} else {
			fmt.Fprintf(w, "Service %s\n", svc.UUID)
		}

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, c := range svc.Characteristics {
			charName := c.Name
			if charName == "" {
				charName = "-"
			}
			if !values {
				fmt.Fprintf(tw, "  %s\t%s\t%s\n", c.UUID, charName, c.Properties)
				continue
			}
			value := c.Value
			if c.ReadError != "" {
				value = "error: " + c.ReadError
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", c.UUID, charName, c.Properties, value)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}
