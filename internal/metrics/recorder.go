// Package metrics provides observability hooks for the sync engine.
package metrics

import "time"

// SyncResult enumerates push outcome categories for counters.
type SyncResult string

const (
	SyncConfirmed SyncResult = "confirmed"
	SyncFailed    SyncResult = "failed"
	SyncRejected  SyncResult = "rejected"
	SyncTimeout   SyncResult = "timeout"
)

// Recorder defines observability hooks for tap and sync metrics. Implementations
// may forward to Prometheus, OpenTelemetry, etc. All methods must be safe for nil
// receivers when using the NoopRecorder (allowing optional injection).
type Recorder interface {
	IncTapOutcome(outcome string)
	IncSyncResult(result SyncResult)
	IncQueueRetry()
	ObserveConfirmLatency(d time.Duration)
	SetQueueDepth(n int)
	SetMode(mode string)
	SetOnline(online bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncTapOutcome(string)                {}
func (NoopRecorder) IncSyncResult(SyncResult)            {}
func (NoopRecorder) IncQueueRetry()                      {}
func (NoopRecorder) ObserveConfirmLatency(time.Duration) {}
func (NoopRecorder) SetQueueDepth(int)                   {}
func (NoopRecorder) SetMode(string)                      {}
func (NoopRecorder) SetOnline(bool)                      {}
