package device

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Timers wraps the gocron scheduler for the periodic ticks. Jobs never call
// into the machine; they post signals that the device loop drains at its own
// pace.
type Timers struct {
	scheduler gocron.Scheduler
	device    *Device
}

// NewTimers creates the timer subsystem for a device.
func NewTimers(d *Device) (*Timers, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Timers{scheduler: s, device: d}, nil
}

// Schedule registers the sync and connectivity ticks and starts the scheduler.
func (t *Timers) Schedule(syncInterval, connectivityCheck time.Duration) error {
	if _, err := t.scheduler.NewJob(
		gocron.DurationJob(syncInterval),
		gocron.NewTask(func() { t.device.Post(SignalSyncTick) }),
		gocron.WithName("sync-tick"),
	); err != nil {
		return fmt.Errorf("failed to schedule sync tick: %w", err)
	}

	if _, err := t.scheduler.NewJob(
		gocron.DurationJob(connectivityCheck),
		gocron.NewTask(func() { t.device.Post(SignalConnectivityTick) }),
		gocron.WithName("connectivity-tick"),
	); err != nil {
		return fmt.Errorf("failed to schedule connectivity tick: %w", err)
	}

	slog.Info("Timers started",
		slog.Duration("sync_interval", syncInterval),
		slog.Duration("connectivity_check", connectivityCheck))
	t.scheduler.Start()
	return nil
}

// Stop shuts the scheduler down.
func (t *Timers) Stop(_ context.Context) error {
	slog.Info("Stopping timers")
	return t.scheduler.Shutdown()
}
