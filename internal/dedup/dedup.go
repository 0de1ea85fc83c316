// Package dedup suppresses repeat taps of the same card inside a cooldown window.
package dedup

import (
	"sync"
	"time"
)

// Deduplicator tracks the last accepted tap and the uid currently being
// uploaded. State is deliberately minimal: one (uid, time) pair plus the
// in-flight flag; nothing is persisted. The mutex exists because config
// reloads adjust the cooldown from outside the tap loop.
type Deduplicator struct {
	mu          sync.Mutex
	cooldown    time.Duration
	lastUID     string
	lastSeen    time.Time
	inFlightUID string
}

// New creates a deduplicator with the given cooldown window.
func New(cooldown time.Duration) *Deduplicator {
	return &Deduplicator{cooldown: cooldown}
}

// IsDuplicate reports whether a tap of uid at now should be suppressed:
// either the same card re-tapped inside the cooldown, or its own earlier
// upload is still in flight.
func (d *Deduplicator) IsDuplicate(uid string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if uid == d.inFlightUID && uid != "" {
		return true
	}
	if uid == d.lastUID && now.Sub(d.lastSeen) < d.cooldown {
		return true
	}
	return false
}

// Accept records uid as the most recent accepted tap.
func (d *Deduplicator) Accept(uid string, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastUID = uid
	d.lastSeen = now
}

// MarkInFlight flags uid as currently uploading; repeat taps are suppressed
// until ClearInFlight regardless of the cooldown.
func (d *Deduplicator) MarkInFlight(uid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inFlightUID = uid
}

// ClearInFlight removes the in-flight suppression.
func (d *Deduplicator) ClearInFlight() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inFlightUID = ""
}

// SetCooldown changes the window. Applies to the next IsDuplicate check.
func (d *Deduplicator) SetCooldown(cooldown time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cooldown = cooldown
}
