package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenware/taskmirror/internal/gateway"
	"github.com/wrenware/taskmirror/internal/task"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_Idempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestLoad_EmptyState(t *testing.T) {
	s := openTestStore(t)
	st, err := s.Load(context.Background())
	require.NoError(t, err)

	assert.Empty(t, st.SyncedTasks)
	assert.Empty(t, st.PendingOperations)
	assert.Empty(t, st.PendingDeletions)
	assert.Empty(t, st.SeveredContent)
	assert.True(t, st.LastSyncAt.IsZero())
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	st := NewSyncState()
	st.LastSyncAt = now
	st.SyncedTasks["t1"] = SyncRecord{
		TaskID: "t1", EventID: "E1", CalendarID: "primary",
		ContentHash: "h1", FilePath: "daily.md", LineNumber: 3,
		Title: "Call Mom", Date: "2026-01-15", Time: "14:00",
	}
	st.PendingOperations = []PendingOperation{{
		TaskID: "t2", Kind: OpCreate, CalendarID: "primary",
		Task:       &task.Task{Title: "Retry me", Date: "2026-01-16"},
		RetryCount: 2, LastError: "remote returned 503", CreatedAt: now,
	}}
	st.PendingDeletions = []PendingDeletion{{
		TaskID: "t3", CalendarID: "primary", EventID: "E3",
		Reason:    DeletionOrphaned,
		Event:     &gateway.EventSnapshot{ID: "E3", Title: "Gone task", AttendeeCount: 2},
		Task:      &task.Task{Title: "Gone task", Date: "2026-01-10"},
		CreatedAt: now,
	}}
	st.PendingSeverances = []PendingSeverance{{
		TaskID: "t4", CalendarID: "primary", EventID: "E4",
		Reason: SeveranceMissing, CreatedAt: now,
	}}
	st.SeveredContent["h5"] = true
	st.SuccessorChecks = []SuccessorCheck{{TaskID: "t6", Attempts: 1}}

	require.NoError(t, s.Save(ctx, st, nil))

	got, err := s.Load(ctx)
	require.NoError(t, err)

	require.Contains(t, got.SyncedTasks, "t1")
	assert.Equal(t, st.SyncedTasks["t1"], got.SyncedTasks["t1"])

	require.Len(t, got.PendingOperations, 1)
	op := got.PendingOperations[0]
	assert.Equal(t, OpCreate, op.Kind)
	assert.Equal(t, 2, op.RetryCount)
	require.NotNil(t, op.Task)
	assert.Equal(t, "Retry me", op.Task.Title)
	assert.NotZero(t, op.ID, "assigned ID survives round trip")

	require.Len(t, got.PendingDeletions, 1)
	pd := got.PendingDeletions[0]
	assert.Equal(t, DeletionOrphaned, pd.Reason)
	require.NotNil(t, pd.Event)
	assert.Equal(t, 2, pd.Event.AttendeeCount)

	require.Len(t, got.PendingSeverances, 1)
	assert.Equal(t, SeveranceMissing, got.PendingSeverances[0].Reason)

	assert.True(t, got.SeveredContent["h5"])
	require.Len(t, got.SuccessorChecks, 1)
	assert.Equal(t, 1, got.SuccessorChecks[0].Attempts)
	assert.True(t, got.LastSyncAt.Equal(now))
}

func TestSave_PreservesQueueIDsAcrossSaves(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	st := NewSyncState()
	st.LastSyncAt = time.Now()
	st.PendingDeletions = []PendingDeletion{{TaskID: "a", CalendarID: "c", EventID: "E", Reason: DeletionOrphaned, CreatedAt: time.Now()}}
	require.NoError(t, s.Save(ctx, st, nil))
	firstID := st.PendingDeletions[0].ID
	require.NotZero(t, firstID)

	// Save again with the already-assigned ID; it must not change.
	require.NoError(t, s.Save(ctx, st, nil))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got.PendingDeletions, 1)
	assert.Equal(t, firstID, got.PendingDeletions[0].ID)
}

func TestSyncLog_AppendAndRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	st := NewSyncState()
	st.LastSyncAt = now
	entries := []SyncLogEntry{
		{BatchID: "b1", TaskID: "t1", Kind: "create", CalendarID: "primary", EventID: "E1", Success: true, Status: 200, At: now},
		{BatchID: "b1", TaskID: "t2", Kind: "delete", CalendarID: "primary", Success: false, Status: 503, Error: "server error", At: now},
	}
	require.NoError(t, s.Save(ctx, st, entries))

	got, err := s.RecentLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Newest first.
	assert.Equal(t, "delete", got[0].Kind)
	assert.False(t, got[0].Success)
	assert.Equal(t, 503, got[0].Status)
	assert.Equal(t, "create", got[1].Kind)
	assert.Equal(t, "b1", got[1].BatchID)
}

func TestSave_PrunesOldDeletedSnapshots(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	st := NewSyncState()
	st.LastSyncAt = now
	st.RecentlyDeleted = []DeletedSnapshot{
		{TaskID: "old", CalendarID: "c", EventID: "E1", DeletedAt: now.Add(-31 * 24 * time.Hour)},
		{TaskID: "fresh", CalendarID: "c", EventID: "E2", DeletedAt: now.Add(-1 * time.Hour)},
	}
	require.NoError(t, s.Save(ctx, st, nil))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got.RecentlyDeleted, 1)
	assert.Equal(t, "fresh", got.RecentlyDeleted[0].TaskID)
}

func TestRecordForEvent(t *testing.T) {
	st := NewSyncState()
	st.SyncedTasks["t1"] = SyncRecord{TaskID: "t1", EventID: "E1", CalendarID: "primary"}

	rec, ok := st.RecordForEvent("primary", "E1")
	require.True(t, ok)
	assert.Equal(t, "t1", rec.TaskID)

	_, ok = st.RecordForEvent("primary", "E2")
	assert.False(t, ok)
}
