// Package queue implements the bounded, durable FIFO of pending attendance records.
package queue

import (
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/taptrack/internal/errors"
	"git.home.luguber.info/inful/taptrack/internal/logfields"
	"git.home.luguber.info/inful/taptrack/internal/record"
)

// DurableQueue is a bounded FIFO persisted write-through on every mutation.
// The device loop is the only writer; the mutex exists so the admin HTTP
// surface can take snapshots concurrently.
type DurableQueue struct {
	mu            sync.RWMutex
	records       []record.AttendanceRecord
	store         RecordStore
	capacity      int
	warnThreshold int
	warned        bool
}

// New loads the persisted sequence from store. A load failure is logged and
// the queue starts empty; the session continues with degraded durability.
func New(store RecordStore, capacity, warnThreshold int) *DurableQueue {
	q := &DurableQueue{
		store:         store,
		capacity:      capacity,
		warnThreshold: warnThreshold,
	}
	records, err := store.Load()
	if err != nil {
		slog.Error("Failed to load queue state, starting empty", logfields.Error(errors.StorageIO("load", err)))
		return q
	}
	q.records = records
	if len(records) > 0 {
		slog.Info("Loaded queued records", logfields.QueueSize(len(records)))
	}
	return q
}

// Enqueue appends at the tail and persists before returning. Rejects with a
// queue-category error at capacity; existing records are never evicted.
func (q *DurableQueue) Enqueue(r record.AttendanceRecord) error {
	if err := r.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.records) >= q.capacity {
		return errors.QueueFull(len(q.records), q.capacity)
	}

	q.records = append(q.records, r)
	size := len(q.records)

	if size >= q.warnThreshold && !q.warned {
		q.warned = true
		slog.Warn("Queue approaching capacity",
			logfields.QueueSize(size),
			slog.Int("capacity", q.capacity),
			slog.Int("percent", size*100/q.capacity))
	}

	q.persist("enqueue")
	slog.Info("Record queued", logfields.UID(r.UID), logfields.QueueSize(size))
	return nil
}

// Peek returns a copy of the head record, or false if the queue is empty.
func (q *DurableQueue) Peek() (record.AttendanceRecord, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if len(q.records) == 0 {
		return record.AttendanceRecord{}, false
	}
	return q.records[0], true
}

// PrepareHead bumps the head's retry counter and clears its stale sync id
// ahead of a resend, persisting the change. Returns the prepared copy.
func (q *DurableQueue) PrepareHead() (record.AttendanceRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.records) == 0 {
		return record.AttendanceRecord{}, false
	}
	q.records[0].SyncID = ""
	q.records[0].RetryCount++
	q.persist("prepare")
	return q.records[0], true
}

// StampHeadSyncID records the sync id minted for an accepted head push, so a
// later confirmation can dequeue the record by id.
func (q *DurableQueue) StampHeadSyncID(syncID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.records) == 0 {
		return false
	}
	q.records[0].SyncID = syncID
	q.persist("stamp")
	return true
}

// Dequeue removes the head record and persists.
func (q *DurableQueue) Dequeue() (record.AttendanceRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.records) == 0 {
		return record.AttendanceRecord{}, false
	}
	head := q.records[0]
	q.records = append(q.records[:0], q.records[1:]...)
	q.resetWarn()
	q.persist("dequeue")
	slog.Info("Record dequeued", logfields.UID(head.UID), logfields.QueueSize(len(q.records)))
	return head, true
}

// DequeueBySyncID removes the (at most one) record whose most recent sync id
// matches, wherever it sits in the sequence. No-op when absent.
func (q *DurableQueue) DequeueBySyncID(syncID string) bool {
	if syncID == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.records {
		if q.records[i].SyncID == syncID {
			uid := q.records[i].UID
			q.records = append(q.records[:i], q.records[i+1:]...)
			q.resetWarn()
			q.persist("dequeue_by_sync_id")
			slog.Info("Confirmed record dequeued", logfields.UID(uid), logfields.SyncID(syncID), logfields.QueueSize(len(q.records)))
			return true
		}
	}
	return false
}

// MoveToBack rotates the head to the tail after a failed send so one
// unreachable record cannot block the rest of the queue.
func (q *DurableQueue) MoveToBack() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.records) < 2 {
		return
	}
	head := q.records[0]
	q.records = append(q.records[:0], q.records[1:]...)
	q.records = append(q.records, head)
	q.persist("move_to_back")
}

// Clear drops all records (administrative operation).
func (q *DurableQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = nil
	q.warned = false
	q.persist("clear")
	slog.Info("Queue cleared")
}

// Size returns the current number of queued records.
func (q *DurableQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.records)
}

// IsEmpty reports whether the queue holds no records.
func (q *DurableQueue) IsEmpty() bool { return q.Size() == 0 }

// CapacityPercent returns current occupancy as a percentage.
func (q *DurableQueue) CapacityPercent() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.capacity == 0 {
		return 0
	}
	return len(q.records) * 100 / q.capacity
}

// Snapshot returns a copy of the ordered sequence for the admin surface.
func (q *DurableQueue) Snapshot() []record.AttendanceRecord {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]record.AttendanceRecord, len(q.records))
	copy(out, q.records)
	return out
}

// resetWarn re-arms the capacity warning once occupancy falls back under the threshold.
func (q *DurableQueue) resetWarn() {
	if len(q.records) < q.warnThreshold {
		q.warned = false
	}
}

// persist writes through to the store. A save failure never rolls back the
// in-memory mutation; the queue stays authoritative for the session.
func (q *DurableQueue) persist(operation string) {
	if err := q.store.Save(q.records); err != nil {
		slog.Error("Failed to persist queue", logfields.Error(errors.StorageIO(operation, err)))
	}
}
