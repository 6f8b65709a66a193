package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blues/internal/bridge"
	"github.com/srg/blues/internal/central"
	"github.com/srg/blues/internal/driver/goble"
	"github.com/srg/blues/internal/driver/sim"
	"github.com/srg/blues/pkg/config"
)

// session wires the pieces every command needs: config, logger, radio driver,
// central adapter and the event bridge the adapter reports to
type session struct {
	cfg     *config.Config
	format  string
	logger  *logrus.Logger
	driver  central.Driver
	adapter *central.Adapter
	bridge  *bridge.Bridge
}

// openSession loads the config, validates the global flags and starts the adapter.
// Usage is silenced once the flags are known to be valid.
func openSession(cmd *cobra.Command) (*session, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	format, _ := cmd.Flags().GetString("format")
	if format == "" {
		format = cfg.OutputFormat
	}
	if err := validateFormat(format); err != nil {
		return nil, err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	drv, err := openDriver(cmd, cfg, logger)
	if err != nil {
		return nil, err
	}

	adapter := central.NewAdapter(drv, logger, cfg.AdapterOptions())
	b := bridge.New(logger)
	adapter.SetListener(b)

	return &session{
		cfg:     cfg,
		format:  format,
		logger:  logger,
		driver:  drv,
		adapter: adapter,
		bridge:  b,
	}, nil
}

// openDriver uses the simulated radio when --simulate is given, go-ble otherwise
func openDriver(cmd *cobra.Command, cfg *config.Config, logger *logrus.Logger) (central.Driver, error) {
	profilePath, _ := cmd.Flags().GetString("simulate")
	if profilePath != "" {
		profile, err := sim.LoadProfile(profilePath)
		if err != nil {
			return nil, err
		}
		logger.WithField("profile", profilePath).Info("Using simulated radio")
		return sim.New(profile, logger)
	}

	drv, err := goble.New(logger, cfg.DriverOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE radio: %w", err)
	}
	return drv, nil
}

// Close disconnects everything, flushes the remaining events to the current
// subscriber and releases the radio
func (s *session) Close() error {
	err := s.adapter.Close()
	s.bridge.Close()
	if c, ok := s.driver.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}

// subscribe replaces the bridge subscriber with a fresh buffered channel
func (s *session) subscribe() *bridge.ChannelSink {
	sink := bridge.NewChannelSink(s.cfg.EventBuffer)
	s.bridge.Subscribe(sink)
	return sink
}

// discover scans until id is advertised. The scan gives up after scan_duration,
// or runs until ctx is done when the duration is zero.
func (s *session) discover(ctx context.Context, id string) error {
	if _, err := s.adapter.Peripheral(id); err == nil {
		return nil
	}

	sink := s.subscribe()
	defer s.bridge.Unsubscribe()

	scanCtx := ctx
	if s.cfg.ScanDuration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, s.cfg.ScanDuration)
		defer cancel()
	}

	filter := s.cfg.ScanFilter()
	filter.AllowList = []string{id}
	filter.Duration = 0
	if err := s.adapter.StartScan(scanCtx, filter); err != nil {
		return err
	}
	defer s.adapter.StopScan()

	s.logger.WithField("peripheral", id).Debug("Scanning for peripheral...")
	for {
		select {
		case e, ok := <-sink.C():
			switch {
			case !ok:
				return central.ErrClosed
			case e.Kind == central.EventDeviceDiscovered:
				return nil
			case e.Kind == central.EventError && e.PeripheralID == "":
				return e.Err
			}
		case <-scanCtx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return &central.NotFoundError{Resource: "peripheral", IDs: []string{id}}
		}
	}
}

// connect discovers, connects and reads the GATT database of id. A non-nil sink
// is subscribed right after discovery, so it sees the whole connection.
func (s *session) connect(ctx context.Context, id string, sink bridge.Sink) ([]central.Service, error) {
	if err := s.discover(ctx, id); err != nil {
		return nil, err
	}
	if sink != nil {
		s.bridge.Subscribe(sink)
	}
	if err := s.adapter.Connect(ctx, id); err != nil {
		return nil, err
	}
	return s.adapter.DiscoverServices(ctx, id)
}

// signalContext is cancelled on Ctrl+C or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
