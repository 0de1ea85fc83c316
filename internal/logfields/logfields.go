package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyUID        = "uid"
	KeySyncID     = "sync_id"
	KeyState      = "state"
	KeyMode       = "mode"
	KeyOutcome    = "outcome"
	KeyQueueSize  = "queue_size"
	KeyRetryCount = "retry_count"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func UID(uid string) slog.Attr        { return slog.String(KeyUID, uid) }
func SyncID(id string) slog.Attr      { return slog.String(KeySyncID, id) }
func State(s string) slog.Attr        { return slog.String(KeyState, s) }
func Mode(m string) slog.Attr         { return slog.String(KeyMode, m) }
func Outcome(o string) slog.Attr      { return slog.String(KeyOutcome, o) }
func QueueSize(n int) slog.Attr       { return slog.Int(KeyQueueSize, n) }
func RetryCount(n int) slog.Attr      { return slog.Int(KeyRetryCount, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
