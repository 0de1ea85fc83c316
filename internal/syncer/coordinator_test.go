package syncer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/taptrack/internal/metrics"
	"git.home.luguber.info/inful/taptrack/internal/record"
)

type fakeRemote struct {
	ready    bool
	pushErr  error
	pushed   []record.AttendanceRecord
	pending  []string
	confirms chan Confirmation
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{ready: true, confirms: make(chan Confirmation, 8)}
}

func (f *fakeRemote) Ready() bool { return f.ready }

func (f *fakeRemote) Push(_ context.Context, rec record.AttendanceRecord) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushed = append(f.pushed, rec)
	return nil
}

func (f *fakeRemote) PushPendingUser(_ context.Context, uid, _ string) error {
	f.pending = append(f.pending, uid)
	return nil
}

func (f *fakeRemote) Confirmations() <-chan Confirmation { return f.confirms }

func testRecord(uid string) record.AttendanceRecord {
	return record.AttendanceRecord{
		UID:                uid,
		Name:               "Test User",
		Timestamp:          "2026-08-31 08:45:00",
		AttendanceStatus:   record.StatusPresent,
		RegistrationStatus: record.Registered,
	}
}

func TestSendRecordOccupiesSlot(t *testing.T) {
	remote := newFakeRemote()
	c := New(remote, metrics.NoopRecorder{})

	rec := testRecord("04A1B2C3")
	id, ok := c.SendRecord(context.Background(), &rec)
	require.True(t, ok)
	require.NotEmpty(t, id)
	assert.Equal(t, id, rec.SyncID, "record sync id rewritten on acceptance")
	assert.True(t, c.InFlight())

	second := testRecord("04FFFFFF")
	_, ok = c.SendRecord(context.Background(), &second)
	assert.False(t, ok, "slot already occupied")
	assert.Len(t, remote.pushed, 1)
}

func TestSendRecordRefusedWhenNotReady(t *testing.T) {
	remote := newFakeRemote()
	remote.ready = false
	c := New(remote, nil)

	rec := testRecord("04A1B2C3")
	_, ok := c.SendRecord(context.Background(), &rec)
	assert.False(t, ok)
	assert.Empty(t, remote.pushed)
}

func TestSendRecordPushFailureLeavesSlotFree(t *testing.T) {
	remote := newFakeRemote()
	remote.pushErr = errors.New("stream closed")
	c := New(remote, nil)

	rec := testRecord("04A1B2C3")
	_, ok := c.SendRecord(context.Background(), &rec)
	require.False(t, ok)
	assert.False(t, c.InFlight())
	assert.Contains(t, c.GetStats().LastError, "rejected push")

	remote.pushErr = nil
	_, ok = c.SendRecord(context.Background(), &rec)
	assert.True(t, ok, "slot free for retry after synchronous push failure")
}

func TestConfirmationIsConsumedOnce(t *testing.T) {
	remote := newFakeRemote()
	c := New(remote, nil)

	rec := testRecord("04A1B2C3")
	id, ok := c.SendRecord(context.Background(), &rec)
	require.True(t, ok)

	remote.confirms <- Confirmation{SyncID: id}
	c.Poll()

	assert.False(t, c.InFlight())
	assert.True(t, c.IsConfirmed(id))
	assert.False(t, c.IsConfirmed(id), "confirmation consumed by first check")

	st := c.GetStats()
	assert.Equal(t, 1, st.SuccessCount)
	assert.Equal(t, 0, st.PendingCount)
	assert.False(t, st.LastSyncTime.IsZero())
}

func TestFailedConfirmationFreesSlot(t *testing.T) {
	remote := newFakeRemote()
	c := New(remote, nil)

	rec := testRecord("04A1B2C3")
	id, ok := c.SendRecord(context.Background(), &rec)
	require.True(t, ok)

	remote.confirms <- Confirmation{SyncID: id, Err: errors.New("nak: no responders")}
	c.Poll()

	assert.False(t, c.InFlight())
	assert.False(t, c.IsConfirmed(id))

	st := c.GetStats()
	assert.Equal(t, 1, st.FailCount)
	assert.Contains(t, st.LastError, "no responders")
}

func TestStaleConfirmationIgnored(t *testing.T) {
	remote := newFakeRemote()
	c := New(remote, nil)

	rec := testRecord("04A1B2C3")
	id, ok := c.SendRecord(context.Background(), &rec)
	require.True(t, ok)

	remote.confirms <- Confirmation{SyncID: "sync-999999-deadbeef"}
	c.Poll()

	assert.True(t, c.InFlight(), "unrelated confirmation does not free the slot")
	assert.False(t, c.IsConfirmed(id))
	assert.False(t, c.IsConfirmed("sync-999999-deadbeef"))
}

func TestAbandonFreesSlotAndIgnoresLateConfirm(t *testing.T) {
	remote := newFakeRemote()
	c := New(remote, nil)

	rec := testRecord("04A1B2C3")
	id, ok := c.SendRecord(context.Background(), &rec)
	require.True(t, ok)

	c.Abandon(id)
	assert.False(t, c.InFlight())
	assert.Equal(t, 1, c.GetStats().FailCount)
	assert.Contains(t, c.GetStats().LastError, "confirmation not received")

	remote.confirms <- Confirmation{SyncID: id}
	c.Poll()
	assert.False(t, c.IsConfirmed(id), "confirmation after abandon is stale")
}

func TestAbandonWrongIDIsNoop(t *testing.T) {
	remote := newFakeRemote()
	c := New(remote, nil)

	rec := testRecord("04A1B2C3")
	id, ok := c.SendRecord(context.Background(), &rec)
	require.True(t, ok)

	c.Abandon("sync-000000-other")
	assert.True(t, c.InFlight())
	c.Abandon("")
	assert.True(t, c.InFlight())
	_ = id
}

func TestResetCountersClearsEverything(t *testing.T) {
	remote := newFakeRemote()
	c := New(remote, nil)

	rec := testRecord("04A1B2C3")
	id, ok := c.SendRecord(context.Background(), &rec)
	require.True(t, ok)
	remote.confirms <- Confirmation{SyncID: id}
	c.Poll()

	c.ResetCounters()
	assert.Equal(t, Stats{}, c.GetStats())
	assert.False(t, c.IsConfirmed(id), "unconsumed confirmation cleared by reset")
	assert.False(t, c.InFlight())
}

func TestSyncIDsAreUnique(t *testing.T) {
	remote := newFakeRemote()
	c := New(remote, nil)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		rec := testRecord("04A1B2C3")
		id, ok := c.SendRecord(context.Background(), &rec)
		require.True(t, ok)
		require.False(t, seen[id], "duplicate sync id %s", id)
		seen[id] = true
		remote.confirms <- Confirmation{SyncID: id}
		c.Poll()
	}
}

func TestSendPendingUser(t *testing.T) {
	remote := newFakeRemote()
	c := New(remote, nil)

	err := c.SendPendingUser(context.Background(), "04ABCDEF", "2026-08-31 09:15:00")
	require.NoError(t, err)
	assert.Equal(t, []string{"04ABCDEF"}, remote.pending)
}
