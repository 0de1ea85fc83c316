// Package syncer implements the push-and-confirm protocol against the remote store.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/taptrack/internal/errors"
	"git.home.luguber.info/inful/taptrack/internal/logfields"
	"git.home.luguber.info/inful/taptrack/internal/metrics"
	"git.home.luguber.info/inful/taptrack/internal/record"
)

// Confirmation is the out-of-band resolution of one push, keyed by sync id.
// A nil Err means the remote durably stored the record.
type Confirmation struct {
	SyncID string
	Err    error
}

// RemoteStore is the narrow contract the coordinator needs from the remote
// side. Push is an asynchronous accept: a nil return means the store took the
// payload for delivery, not that it was stored; the matching Confirmation
// arrives later on the Confirmations channel.
type RemoteStore interface {
	Ready() bool
	Push(ctx context.Context, rec record.AttendanceRecord) error
	PushPendingUser(ctx context.Context, uid, timestamp string) error
	Confirmations() <-chan Confirmation
}

// Stats is the read-only operator snapshot of sync activity.
type Stats struct {
	PendingCount int       `json:"pending_count"`
	SuccessCount int       `json:"success_count"`
	FailCount    int       `json:"fail_count"`
	LastError    string    `json:"last_error,omitempty"`
	LastSyncTime time.Time `json:"last_sync_time,omitzero"`
}

// Coordinator owns the single in-flight sync slot. At most one push is
// outstanding at any instant; card-tap uploads and periodic queue drains
// both gate on that slot, so no two pushes ever race for the same remote
// write.
type Coordinator struct {
	mu     sync.Mutex
	remote RemoteStore
	rec    metrics.Recorder
	now    func() time.Time

	seq          uint64
	pendingID    string
	pendingSince time.Time
	confirmedID  string
	stats        Stats
}

// New creates a coordinator over the remote store.
func New(remote RemoteStore, rec metrics.Recorder) *Coordinator {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Coordinator{remote: remote, rec: rec, now: time.Now}
}

// SendRecord attempts to initiate an asynchronous push. The empty-id return
// is not an error: it signals the caller to fall back to queueing, either
// because the remote is not ready or because the in-flight slot is taken.
// On acceptance the record's SyncID is rewritten to the freshly minted id.
func (c *Coordinator) SendRecord(ctx context.Context, rec *record.AttendanceRecord) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pendingID != "" {
		slog.Debug("Push refused, sync already in flight", logfields.SyncID(c.pendingID))
		return "", false
	}
	if !c.remote.Ready() {
		slog.Debug("Push refused", logfields.UID(rec.UID), logfields.Error(errors.RemoteUnavailable()))
		return "", false
	}

	syncID := c.mintSyncID()
	rec.SyncID = syncID

	if err := c.remote.Push(ctx, *rec); err != nil {
		rejected := errors.RemoteRejected(syncID, err.Error())
		slog.Warn("Remote store rejected push", logfields.UID(rec.UID), logfields.Error(rejected))
		c.stats.LastError = rejected.Error()
		c.rec.IncSyncResult(metrics.SyncRejected)
		return "", false
	}

	c.pendingID = syncID
	c.pendingSince = c.now()
	c.stats.PendingCount = 1
	slog.Info("Push accepted, awaiting confirmation", logfields.UID(rec.UID), logfields.SyncID(syncID))
	return syncID, true
}

// Poll drains any confirmation that has arrived since the last call. The
// orchestrator calls it once per loop iteration; confirmations are never
// delivered from arbitrary call sites.
func (c *Coordinator) Poll() {
	for {
		select {
		case conf, ok := <-c.remote.Confirmations():
			if !ok {
				return
			}
			c.resolve(conf)
		default:
			return
		}
	}
}

func (c *Coordinator) resolve(conf Confirmation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conf.SyncID != c.pendingID {
		// Late confirmation for an operation the watchdog already abandoned,
		// or bookkeeping cleared by a counter reset.
		slog.Debug("Ignoring stale confirmation", logfields.SyncID(conf.SyncID))
		return
	}

	latency := c.now().Sub(c.pendingSince)
	c.pendingID = ""
	c.stats.PendingCount = 0

	if conf.Err == nil {
		c.confirmedID = conf.SyncID
		c.stats.SuccessCount++
		c.stats.LastSyncTime = c.now()
		c.rec.IncSyncResult(metrics.SyncConfirmed)
		c.rec.ObserveConfirmLatency(latency)
		slog.Info("Sync confirmed", logfields.SyncID(conf.SyncID), logfields.DurationMS(float64(latency.Milliseconds())))
		return
	}

	c.stats.FailCount++
	c.stats.LastError = conf.Err.Error()
	c.rec.IncSyncResult(metrics.SyncFailed)
	slog.Warn("Sync failed", logfields.SyncID(conf.SyncID), logfields.Error(conf.Err))
}

// IsConfirmed is a one-shot check: it returns true only the first time it is
// called after the confirmation for syncID arrives, then consumes it. The
// asymmetry keeps a single confirmation from being claimed by two poll sites.
func (c *Coordinator) IsConfirmed(syncID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if syncID == "" || c.confirmedID != syncID {
		return false
	}
	c.confirmedID = ""
	return true
}

// InFlight reports whether the single sync slot is occupied.
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingID != ""
}

// Abandon releases the in-flight slot for syncID without resolution. The
// watchdog calls it after a confirmation timeout; a confirmation arriving
// later is ignored as stale.
func (c *Coordinator) Abandon(syncID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingID != syncID || syncID == "" {
		return
	}
	c.pendingID = ""
	c.stats.PendingCount = 0
	c.stats.FailCount++
	c.stats.LastError = errors.ConfirmationTimeout(syncID).Error()
	c.rec.IncSyncResult(metrics.SyncTimeout)
}

// SendPendingUser forwards an unregistered tap to the pending-registration
// side channel. Decoupled from the attendance queue and the in-flight slot.
func (c *Coordinator) SendPendingUser(ctx context.Context, uid, timestamp string) error {
	return c.remote.PushPendingUser(ctx, uid, timestamp)
}

// Ready reports whether the remote store can accept pushes.
func (c *Coordinator) Ready() bool { return c.remote.Ready() }

// GetStats returns a snapshot of the aggregate counters.
func (c *Coordinator) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// ResetCounters zeroes success/fail/pending counts and clears any unconsumed
// confirmation or pending bookkeeping.
func (c *Coordinator) ResetCounters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = Stats{}
	c.pendingID = ""
	c.confirmedID = ""
	slog.Info("Sync counters reset")
}

// mintSyncID produces an id unique within device uptime. The sequence number
// keeps ids ordered in logs; the uuid suffix keeps them opaque.
func (c *Coordinator) mintSyncID() string {
	c.seq++
	return fmt.Sprintf("sync-%06d-%s", c.seq, uuid.NewString()[:8])
}
