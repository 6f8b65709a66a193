package central

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// StartScan begins discovering peripherals. Every advertisement accepted by filter
// emits a DeviceDiscovered event; without AllowDuplicates a peripheral is reported
// once per scan session. Starting a scan evicts peripherals that have no connection
// session. The scan runs until StopScan, Close, or filter.Duration elapses; ctx only
// bounds the start.
func (a *Adapter) StartScan(ctx context.Context, filter *ScanFilter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.checkRadio(); err != nil {
		return err
	}

	var f ScanFilter
	if filter != nil {
		f = *filter
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.scanCancel != nil {
		a.mu.Unlock()
		return ErrScanInProgress
	}

	var scanCtx context.Context
	var cancel context.CancelFunc
	if f.Duration > 0 {
		scanCtx, cancel = context.WithTimeout(a.ctx, f.Duration)
	} else {
		scanCtx, cancel = context.WithCancel(a.ctx)
	}
	done := make(chan struct{})
	a.scanCancel = cancel
	a.scanDone = done
	a.scanGen++
	gen := a.scanGen

	evicted := a.registry.evict(func(key string) bool {
		_, live := a.sessions[key]
		return live
	})
	a.mu.Unlock()

	a.logger.WithFields(logrus.Fields{
		"duration":         f.Duration,
		"services":         f.Services,
		"allow_duplicates": f.AllowDuplicates,
		"evicted":          evicted,
	}).Info("Starting BLE scan...")

	a.workers.Go(a.ctx, "ble-scan", func(context.Context) {
		defer a.finishScan(done)

		err := a.driver.Scan(scanCtx, f.AllowDuplicates, func(adv Advertisement) {
			a.handleAdvertisement(scanCtx, gen, &f, adv)
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			a.logger.WithField("error", err).Error("BLE scan failed")
			a.emitError("", fmt.Errorf("scan failed: %w", err))
		}
	})

	return nil
}

// StopScan stops a running scan and waits briefly for the driver to let go.
// Calling it without a running scan is a no-op.
func (a *Adapter) StopScan() {
	a.mu.Lock()
	cancel, done := a.scanCancel, a.scanDone
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	select {
	case <-done:
	case <-time.After(a.opts.OperationTimeout):
		a.logger.Warn("Driver did not stop scanning in time")
	}
}

// IsScanning reports whether a scan session is active
func (a *Adapter) IsScanning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanCancel != nil
}

func (a *Adapter) finishScan(done chan struct{}) {
	a.mu.Lock()
	if a.scanDone == done {
		a.scanCancel()
		a.scanCancel = nil
		a.scanDone = nil
	}
	a.mu.Unlock()
	close(done)

	a.logger.WithField("device_count", len(a.registry.list())).Info("BLE scan completed")
}

// handleAdvertisement runs on the driver's callback goroutine
func (a *Adapter) handleAdvertisement(scanCtx context.Context, gen uint64, f *ScanFilter, adv Advertisement) {
	if scanCtx.Err() != nil || adv.ID == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !f.Accepts(adv) {
		return
	}

	entry, existing := a.registry.upsert(adv)

	entry.mu.Lock()
	firstInScan := entry.scanGen != gen
	entry.scanGen = gen
	entry.mu.Unlock()

	if !firstInScan && !f.AllowDuplicates {
		return
	}

	p := entry.snapshot()
	if firstInScan {
		a.logger.WithFields(logrus.Fields{
			"peripheral": p.ID,
			"name":       p.Name,
			"rssi":       p.RSSI,
		}).Info("Discovered peripheral")
	}

	a.dispatch.emit(Event{
		Kind:         EventDeviceDiscovered,
		PeripheralID: p.ID,
		Peripheral:   &p,
		Rediscovered: existing,
	})
}
