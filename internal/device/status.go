package device

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/taptrack/internal/config"
	"git.home.luguber.info/inful/taptrack/internal/journal"
	"git.home.luguber.info/inful/taptrack/internal/logfields"
	"git.home.luguber.info/inful/taptrack/internal/mode"
	"git.home.luguber.info/inful/taptrack/internal/record"
	"git.home.luguber.info/inful/taptrack/internal/retry"
	"git.home.luguber.info/inful/taptrack/internal/syncer"
)

// Status is the operator-facing snapshot served by the admin API.
type Status struct {
	State           string       `json:"state"`
	Mode            string       `json:"mode"`
	Online          bool         `json:"online"`
	QueueSize       int          `json:"queue_size"`
	QueuePercent    int          `json:"queue_percent"`
	RegisteredUsers int          `json:"registered_users"`
	Uptime          string       `json:"uptime"`
	Sync            syncer.Stats `json:"sync"`
}

// GetStatus assembles the current snapshot. Safe to call from the admin
// goroutine while the loop runs.
func (d *Device) GetStatus() Status {
	d.mu.RLock()
	state := d.state
	online := d.online
	started := d.started
	d.mu.RUnlock()

	return Status{
		State:           state.String(),
		Mode:            string(d.policy.Current()),
		Online:          online,
		QueueSize:       d.queue.Size(),
		QueuePercent:    d.queue.CapacityPercent(),
		RegisteredUsers: d.dir.Count(),
		Uptime:          time.Since(started).Round(time.Second).String(),
		Sync:            d.coord.GetStats(),
	}
}

// GetStats returns the sync counters.
func (d *Device) GetStats() syncer.Stats { return d.coord.GetStats() }

// QueueSnapshot returns a copy of the pending records in order.
func (d *Device) QueueSnapshot() []record.AttendanceRecord { return d.queue.Snapshot() }

// SetMode switches the connectivity policy. The change takes effect on the
// very next transition the loop makes.
func (d *Device) SetMode(ctx context.Context, m mode.Mode) error {
	if err := d.policy.Set(m); err != nil {
		return err
	}
	d.rec.SetMode(string(m))
	d.journalEvent(ctx, journal.EventModeChanged, map[string]string{"mode": string(m)})
	slog.Info("Mode changed", logfields.Mode(string(m)))

	// Recompute the online classification immediately rather than waiting
	// for the next connectivity tick.
	d.Post(SignalConnectivityTick)
	return nil
}

// ClearQueue drops all pending records. Administrative, irreversible.
func (d *Device) ClearQueue(ctx context.Context) int {
	n := d.queue.Size()
	d.queue.Clear()
	d.rec.SetQueueDepth(0)
	d.journalEvent(ctx, journal.EventQueueDrained, map[string]string{
		"reason": "admin_clear", "dropped": itoa(n),
	})
	return n
}

// ResetStats zeroes the sync counters.
func (d *Device) ResetStats() { d.coord.ResetCounters() }

// RecentEvents reads from the device journal. Returns nil when no journal
// is configured.
func (d *Device) RecentEvents(ctx context.Context, limit int) ([]journal.Entry, error) {
	if d.journal == nil {
		return nil, nil
	}
	return d.journal.Recent(ctx, limit)
}

// ApplyConfig adopts hot-reloadable tunables from a freshly validated
// configuration. Structural settings (paths, addresses, remote URL) are
// rejected upstream by the config watcher.
func (d *Device) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	d.mu.Lock()
	d.stateTimeout = cfg.Device.StateTimeout
	d.onTimeHour = cfg.Device.OnTimeHour
	d.minYear = cfg.Device.MinYear
	d.maxYear = cfg.Device.MaxYear
	d.retry = retry.FromConfig(cfg.Sync)
	d.mu.Unlock()

	d.dedup.SetCooldown(cfg.Device.TapCooldown)

	slog.Info("Runtime tunables reloaded",
		slog.Duration("tap_cooldown", cfg.Device.TapCooldown),
		slog.Duration("state_timeout", cfg.Device.StateTimeout),
		slog.Int("on_time_hour", cfg.Device.OnTimeHour))
	return nil
}
