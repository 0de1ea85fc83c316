package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestAppendAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Append(ctx, EventTapAccepted, map[string]string{"uid": "04A1B2C3"}))
	require.NoError(t, j.Append(ctx, EventQueued, map[string]string{"uid": "04A1B2C3", "queue_size": "1"}))
	require.NoError(t, j.Append(ctx, EventSyncConfirmed, nil))

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Newest first.
	assert.Equal(t, EventSyncConfirmed, entries[0].EventType)
	assert.Nil(t, entries[0].Fields)
	assert.Equal(t, EventQueued, entries[1].EventType)
	assert.Equal(t, "1", entries[1].Fields["queue_size"])
	assert.Equal(t, EventTapAccepted, entries[2].EventType)
}

func TestRecentHonorsLimit(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, j.Append(ctx, EventTapSuppressed, nil))
	}

	entries, err := j.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestByType(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Append(ctx, EventSyncFailed, map[string]string{"sync_id": "sync-000001-aaaa"}))
	require.NoError(t, j.Append(ctx, EventTapAccepted, nil))
	require.NoError(t, j.Append(ctx, EventSyncFailed, map[string]string{"sync_id": "sync-000002-bbbb"}))

	now := time.Now()
	entries, err := j.ByType(ctx, EventSyncFailed, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "sync-000001-aaaa", entries[0].Fields["sync_id"])
	assert.Equal(t, "sync-000002-bbbb", entries[1].Fields["sync_id"])
}

func TestPrune(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Append(ctx, EventModeChanged, nil))
	require.NoError(t, j.Append(ctx, EventModeChanged, nil))

	removed, err := j.Prune(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOpenOnDisk(t *testing.T) {
	path := t.TempDir() + "/journal.db"

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(context.Background(), EventOnlineChanged, map[string]string{"online": "true"}))
	require.NoError(t, j.Close())

	j2, err := Open(path)
	require.NoError(t, err)
	defer j2.Close()

	entries, err := j2.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "true", entries[0].Fields["online"])
}
