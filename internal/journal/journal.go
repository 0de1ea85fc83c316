// Package journal keeps an append-only device event log in SQLite. It is a
// diagnostic record of what the device did and when; attendance data itself
// lives in the durable queue and the remote store, never here.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Event types recorded by the device loop.
const (
	EventTapAccepted    = "tap_accepted"
	EventTapSuppressed  = "tap_suppressed"
	EventTapUnknown     = "tap_unknown"
	EventSyncConfirmed  = "sync_confirmed"
	EventSyncFailed     = "sync_failed"
	EventQueued         = "queued"
	EventQueueDrained   = "queue_drained"
	EventWatchdogFired  = "watchdog_fired"
	EventModeChanged    = "mode_changed"
	EventOnlineChanged  = "online_changed"
	EventClockRejected  = "clock_rejected"
)

// Entry is one journal row.
type Entry struct {
	ID        int64             `json:"id"`
	EventType string            `json:"event_type"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Journal is a SQLite-backed event log.
// Use ":memory:" for tests, or a file path for persistent storage.
type Journal struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens or creates the journal database.
func Open(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	j := &Journal{db: db}
	if err := j.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize journal schema: %w", err)
	}

	return j, nil
}

func (j *Journal) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS device_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		fields TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_device_events_timestamp ON device_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_device_events_type ON device_events(event_type);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Append records one event. Fields may be nil.
func (j *Journal) Append(ctx context.Context, eventType string, fields map[string]string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var fieldsJSON []byte
	if fields != nil {
		var err error
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("marshal fields: %w", err)
		}
	}

	_, err := j.db.ExecContext(ctx,
		"INSERT INTO device_events (event_type, timestamp, fields) VALUES (?, ?, ?)",
		eventType, time.Now().Unix(), fieldsJSON,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Recent returns the latest events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		"SELECT id, event_type, timestamp, fields FROM device_events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return j.scanEntries(rows)
}

// ByType returns events of one type within a time range, oldest first.
func (j *Journal) ByType(ctx context.Context, eventType string, start, end time.Time) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.db.QueryContext(ctx,
		"SELECT id, event_type, timestamp, fields FROM device_events WHERE event_type = ? AND timestamp >= ? AND timestamp <= ? ORDER BY id",
		eventType, start.Unix(), end.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return j.scanEntries(rows)
}

func (j *Journal) scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var timestampUnix int64
		var fieldsJSON []byte

		if err := rows.Scan(&e.ID, &e.EventType, &timestampUnix, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		e.Timestamp = time.Unix(timestampUnix, 0)
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("unmarshal fields: %w", err)
			}
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return entries, nil
}

// Prune deletes events older than the cutoff. Returns rows removed.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	res, err := j.db.ExecContext(ctx,
		"DELETE FROM device_events WHERE timestamp < ?", before.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}
