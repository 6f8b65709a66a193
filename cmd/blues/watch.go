package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blues/internal/bridge"
	"github.com/srg/blues/internal/central"
)

type watchOptions struct {
	service  string
	chars    []string
	duration time.Duration
}

func newWatchCmd() *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch <peripheral-id>",
		Short: "Print the event stream of a peripheral",
		Long: `Connects to a peripheral, enables notifications and prints every event in
the order the adapter emitted it: connection state changes, value updates and
errors.

Without --char every characteristic supporting notify or indicate is watched.
The command runs until Ctrl+C, until --duration elapses, or until the
peripheral drops the connection.

Examples:
  # Watch everything a heart rate monitor notifies
  blues watch AA:BB:CC:DD:EE:01

  # Watch only the Heart Rate Measurement for 30 seconds, as JSON lines
  blues watch AA:BB:CC:DD:EE:01 --service 180d --char 2a37 --duration 30s --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.service, "service", "", "Only watch characteristics of this service")
	cmd.Flags().StringSliceVar(&opts.chars, "char", nil, "Characteristic UUIDs to watch, comma-separated")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Stop watching after this long (0 for indefinite)")
	return cmd
}

// watchTargets picks the characteristics to enable notifications on
func watchTargets(services []central.Service, serviceUUID string, charUUIDs []string) ([]central.Characteristic, error) {
	wanted := make(map[string]bool, len(charUUIDs))
	for _, u := range charUUIDs {
		wanted[u] = true
	}

	var targets []central.Characteristic
	for _, svc := range services {
		if serviceUUID != "" && svc.UUID != serviceUUID {
			continue
		}
		for _, c := range svc.Characteristics {
			if len(wanted) > 0 && !wanted[c.UUID] {
				continue
			}
			if len(wanted) == 0 && !c.Properties.CanNotify() {
				continue
			}
			targets = append(targets, c)
		}
	}

	if len(targets) == 0 {
		if len(wanted) > 0 {
			return nil, &central.NotFoundError{Resource: "characteristic", IDs: append([]string{serviceUUID}, charUUIDs...)}
		}
		return nil, fmt.Errorf("no characteristic supports notifications: %w", central.ErrUnsupported)
	}
	return targets, nil
}

func runWatch(cmd *cobra.Command, id string, opts *watchOptions) error {
	var serviceUUID string
	if opts.service != "" {
		uuids, err := central.ValidateUUID(opts.service)
		if err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
		serviceUUID = uuids[0]
	}
	var charUUIDs []string
	if len(opts.chars) > 0 {
		var err error
		charUUIDs, err = central.ValidateUUID(opts.chars...)
		if err != nil {
			return fmt.Errorf("invalid characteristic UUID: %w", err)
		}
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	if opts.duration > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, opts.duration)
		defer cancelTimeout()
	}

	events := bridge.NewChannelSink(s.cfg.EventBuffer)
	services, err := s.connect(ctx, id, events)
	if err != nil {
		return err
	}

	targets, err := watchTargets(services, serviceUUID, charUUIDs)
	if err != nil {
		return err
	}
	for _, c := range targets {
		if err := s.adapter.SetNotify(ctx, id, c.ServiceUUID, c.UUID, true); err != nil {
			return err
		}
	}

	printer := newEventPrinter(cmd.OutOrStdout(), s.format)
	lost, err := printUntil(ctx, printer, events, id)
	if err != nil {
		return err
	}
	if lost {
		return fmt.Errorf("%w: %s", ErrConnectionLost, id)
	}

	// Watching ended on our side: disconnect and show the final transitions
	dctx, dcancel := context.WithTimeout(context.Background(), s.adapter.Options().OperationTimeout)
	defer dcancel()
	if err := s.adapter.Disconnect(dctx, id); err != nil {
		return err
	}
	if _, err := printUntil(dctx, printer, events, id); err != nil {
		return err
	}

	if n := events.Overwritten(); n > 0 {
		s.logger.WithField("events", n).Warn("Output fell behind, some events were skipped")
	}
	return nil
}

// printUntil prints events until id reaches Disconnected, reported as lost, or ctx is done
func printUntil(ctx context.Context, printer *eventPrinter, events *bridge.ChannelSink, id string) (lost bool, err error) {
	for {
		select {
		case e, ok := <-events.C():
			if !ok {
				return false, nil
			}
			if err := printer.Print(e); err != nil {
				return false, err
			}
			if e.Kind == central.EventConnectionStateChanged && e.State == central.Disconnected &&
				strings.EqualFold(e.PeripheralID, id) {
				return true, nil
			}
		case <-ctx.Done():
			return false, nil
		}
	}
}
