package queue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/taptrack/internal/record"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attendance_queue.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	records := []record.AttendanceRecord{
		{UID: "04AABB", Name: "Ada", Timestamp: "2026-08-31 08:30:00", AttendanceStatus: record.StatusPresent, RegistrationStatus: record.Registered, SyncID: "s1", RetryCount: 2, QueuedAt: 1000},
		{UID: "04CCDD", Name: "", Timestamp: "2026-08-31 09:15:00", AttendanceStatus: record.StatusLate, RegistrationStatus: record.Registered, RetryCount: 0, QueuedAt: 2000},
		{UID: "04EEFF", Name: "Lin", Timestamp: "2026-08-31 09:40:00", AttendanceStatus: record.StatusLate, RegistrationStatus: record.Unregistered, SyncID: "s3", RetryCount: 7, QueuedAt: 3000},
	}
	require.NoError(t, store.Save(records))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, records, loaded)
}

func TestFileStoreMissingFile(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "never-written.json"))
	require.NoError(t, err)
	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attendance_queue.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err = store.Load()
	require.Error(t, err)
}

func TestFileStoreCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "queue.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestFileStoreAtomicReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Save([]record.AttendanceRecord{{UID: "A"}}))
	require.NoError(t, store.Save([]record.AttendanceRecord{{UID: "B"}}))

	// No stale temp file left behind.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "B", loaded[0].UID)
}
