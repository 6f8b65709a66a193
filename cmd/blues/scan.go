package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blues/internal/central"
)

type scanOptions struct {
	duration   time.Duration
	services   []string
	allowList  []string
	blockList  []string
	namePrefix string
	minRSSI    int
	duplicates bool
	watch      bool
}

func newScanCmd() *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE peripherals",
		Long: `Scan for and display Bluetooth Low Energy peripherals in the vicinity.

Discovered peripherals are listed with their name, address, RSSI and advertised
services once the scan ends. With --watch every discovery is printed as it
happens.

Examples:
  # Scan for 5 seconds
  blues scan --duration 5s

  # Only heart rate monitors closer than -70 dBm
  blues scan --services 180d --min-rssi -70

  # Print discoveries as they arrive, as JSON lines
  blues scan --watch --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, opts)
		},
	}

	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Scan duration (0 for indefinite), defaults to scan_duration")
	cmd.Flags().StringSliceVarP(&opts.services, "services", "s", nil, "Filter by advertised service UUIDs")
	cmd.Flags().StringSliceVar(&opts.allowList, "allow", nil, "Only show peripherals with these addresses")
	cmd.Flags().StringSliceVar(&opts.blockList, "block", nil, "Hide peripherals with these addresses")
	cmd.Flags().StringVar(&opts.namePrefix, "name", "", "Only show peripherals whose name starts with this prefix")
	cmd.Flags().IntVar(&opts.minRSSI, "min-rssi", 0, "Hide peripherals weaker than this RSSI (dBm)")
	cmd.Flags().BoolVar(&opts.duplicates, "duplicates", false, "Report every advertisement, defaults to allow_duplicates")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Print discoveries as they arrive")

	return cmd
}

func runScan(cmd *cobra.Command, opts *scanOptions) error {
	var serviceUUIDs []string
	if len(opts.services) > 0 {
		var err error
		serviceUUIDs, err = central.ValidateUUID(opts.services...)
		if err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}
	if opts.minRSSI > 0 {
		return fmt.Errorf("invalid --min-rssi %d: RSSI is negative dBm", opts.minRSSI)
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	filter := s.cfg.ScanFilter()
	filter.Services = serviceUUIDs
	filter.AllowList = opts.allowList
	filter.BlockList = opts.blockList
	filter.NamePrefix = opts.namePrefix
	filter.MinRSSI = opts.minRSSI
	if cmd.Flags().Changed("duration") {
		filter.Duration = opts.duration
	}
	if cmd.Flags().Changed("duplicates") {
		filter.AllowDuplicates = opts.duplicates
	}

	// The command owns the scan lifetime so Ctrl+C and the duration end it alike
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	if filter.Duration > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, filter.Duration)
		defer cancelTimeout()
	}
	filter.Duration = 0

	events := s.subscribe()
	printer := newEventPrinter(cmd.OutOrStdout(), s.format)

	if err := s.adapter.StartScan(ctx, filter); err != nil {
		return err
	}

	var scanErr error
loop:
	for {
		select {
		case e, ok := <-events.C():
			if !ok {
				break loop
			}
			if e.Kind == central.EventError && e.PeripheralID == "" {
				scanErr = e.Err
				break loop
			}
			if opts.watch && e.Kind == central.EventDeviceDiscovered {
				if err := printer.Print(e); err != nil {
					return err
				}
			}
		case <-ctx.Done():
			break loop
		}
	}
	s.adapter.StopScan()

	if scanErr != nil {
		return scanErr
	}
	if opts.watch {
		return nil
	}
	return displayPeripherals(cmd.OutOrStdout(), s.adapter.Peripherals(), s.format)
}

// peripheralRecord is the JSON shape of a scan result
type peripheralRecord struct {
	ID               string    `json:"id"`
	Name             string    `json:"name,omitempty"`
	RSSI             int       `json:"rssi"`
	Connectable      bool      `json:"connectable"`
	Services         []string  `json:"services,omitempty"`
	ManufacturerData string    `json:"manufacturer_data,omitempty"`
	TxPower          *int      `json:"tx_power,omitempty"`
	LastSeen         time.Time `json:"last_seen"`
}

// displayPeripherals prints the strongest peripherals first
func displayPeripherals(w io.Writer, peripherals []central.Peripheral, format string) error {
	sort.SliceStable(peripherals, func(i, j int) bool {
		return peripherals[i].RSSI > peripherals[j].RSSI
	})

	if format == "json" {
		records := make([]peripheralRecord, 0, len(peripherals))
		for _, p := range peripherals {
			records = append(records, peripheralRecord{
				ID:               p.ID,
				Name:             p.Name,
				RSSI:             p.RSSI,
				Connectable:      p.Connectable,
				Services:         p.AdvertisedServices,
				ManufacturerData: hex.EncodeToString(p.ManufacturerData),
				TxPower:          p.TxPower,
				LastSeen:         p.LastSeen,
			})
		}
		return writeJSON(w, records)
	}

	if len(peripherals) == 0 {
		_, err := fmt.Fprintln(w, "No peripherals discovered")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tCONNECTABLE\tSERVICES")

	for _, p := range peripherals {
		name := p.DisplayName()
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		services := strings.Join(p.AdvertisedServices, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}
		connectable := "no"
		if p.Connectable {
			connectable = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d dBm\t%s\t%s\n", name, p.ID, p.RSSI, connectable, services)
	}

	return tw.Flush()
}
