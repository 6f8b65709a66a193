package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blues/internal/bridge"
	"github.com/srg/blues/internal/central"
	"github.com/srg/blues/internal/stream"
)

// recentEvents is how many events the stream command keeps for its exit report
const recentEvents = 64

type streamOptions struct {
	hex      bool
	buffer   int
	duration time.Duration
}

func newStreamCmd() *cobra.Command {
	opts := &streamOptions{}
	cmd := &cobra.Command{
		Use:   "stream <peripheral-id> <service-uuid> <char-uuid>",
		Short: "Copy characteristic notifications to stdout",
		Long: `Connects to a peripheral, enables notifications on one characteristic and
writes every received payload to stdout as a continuous byte stream, which makes
serial-over-BLE services usable from shell pipelines.

Payloads that arrive faster than stdout drains them are buffered up to --buffer
bytes; anything beyond is dropped and reported on exit.

Examples:
  # Dump a Nordic UART TX stream to a file
  blues stream AA:BB:CC:DD:EE:01 6e400001-b5a3-f393-e0a9-e50e24dcca9e 6e400003-b5a3-f393-e0a9-e50e24dcca9e > uart.log

  # Hex dump heart rate measurements for 10 seconds
  blues stream AA:BB:CC:DD:EE:01 180d 2a37 --hex --duration 10s`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.hex, "hex", false, "Write a hex dump instead of raw bytes")
	cmd.Flags().IntVar(&opts.buffer, "buffer", stream.DefaultCapacity, "Bytes buffered while stdout is busy")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 0, "Stop streaming after this long (0 for indefinite)")
	return cmd
}

func runStream(cmd *cobra.Command, args []string, opts *streamOptions) error {
	id := args[0]
	uuids, err := central.ValidateUUID(args[1], args[2])
	if err != nil {
		return err
	}
	serviceUUID, charUUID := uuids[0], uuids[1]
	if opts.buffer <= 0 {
		return fmt.Errorf("invalid --buffer %d: must be positive", opts.buffer)
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

	recorder := bridge.NewRecorder(recentEvents)
	reader := stream.NewReader(id, serviceUUID, charUUID, opts.buffer).Chain(recorder)

	if _, err := s.connect(ctx, id, reader); err != nil {
		return err
	}
	if err := s.adapter.SetNotify(ctx, id, serviceUUID, charUUID, true); err != nil {
		return err
	}

	// The reader ends with io.EOF on Disconnected, so stopping is a disconnect
	stopped := context.AfterFunc(ctx, func() {
		dctx, dcancel := context.WithTimeout(context.Background(), s.adapter.Options().OperationTimeout)
		defer dcancel()
		if err := s.adapter.Disconnect(dctx, id); err != nil {
			s.logger.WithError(err).Warn("Failed to disconnect")
			_ = reader.Close()
		}
	})
	defer stopped()

	var out io.Writer = cmd.OutOrStdout()
	var dumper io.WriteCloser
	if opts.hex {
		dumper = hex.Dumper(out)
		out = dumper
	}

	n, copyErr := io.Copy(out, reader)
	if dumper != nil {
		_ = dumper.Close()
	}

	s.logger.WithFields(logrus.Fields{
		"bytes":   n,
		"dropped": reader.Dropped(),
	}).Info("Stream ended")
	if dropped := reader.Dropped(); dropped > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "WARNING: %d bytes dropped, stdout could not keep up\n", dropped)
	}

	if copyErr != nil {
		return copyErr
	}
	return linkLoss(recorder.Drain(), id)
}

// linkLoss reports ErrConnectionLost when the recorded events show that id
// dropped the link rather than being disconnected by us
func linkLoss(events []central.Event, id string) error {
	for _, e := range events {
		if e.Kind == central.EventError && strings.EqualFold(e.PeripheralID, id) &&
			e.ErrorKind() == central.KindNotConnected {
			return fmt.Errorf("%w: %s", ErrConnectionLost, id)
		}
	}
	return nil
}
