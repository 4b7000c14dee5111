package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenware/taskmirror/internal/policy"
	"github.com/wrenware/taskmirror/internal/state"
	"github.com/wrenware/taskmirror/internal/task"
)

func testPolicy() policy.SyncPolicy {
	return policy.SyncPolicy{
		Completion:             policy.CompletionMark,
		Routing:                policy.RoutingPreserve,
		Drift:                  policy.DriftAsk,
		SafetyNet:              true,
		DefaultCalendarID:      "cal-default",
		TagRoutes:              map[string]string{"work": "cal-work", "home": "cal-home"},
		TimeZone:               "UTC",
		DefaultDurationMinutes: 60,
	}
}

func timedTask(title, date, tm, file string, line int) task.Task {
	return task.Task{
		Title:      title,
		Date:       date,
		Time:       tm,
		FilePath:   file,
		LineNumber: line,
	}
}

func recordOf(t task.Task, eventID, calendarID string) state.SyncRecord {
	return state.SyncRecord{
		TaskID:         t.ID(),
		EventID:        eventID,
		CalendarID:     calendarID,
		ContentHash:    t.ContentHash(),
		FilePath:       t.FilePath,
		LineNumber:     t.LineNumber,
		Title:          t.Title,
		Date:           t.Date,
		Time:           t.Time,
		RecurrenceRule: t.RecurrenceRule,
	}
}

func stateWith(recs ...state.SyncRecord) *state.SyncState {
	st := state.NewSyncState()
	for _, r := range recs {
		st.SyncedTasks[r.TaskID] = r
	}
	return st
}

func TestComputeDiff_NewTaskRoutedToDefault(t *testing.T) {
	tk := timedTask("Dentist", "2026-09-02", "14:00", "daily.md", 3)

	d := ComputeDiff([]task.Task{tk}, state.NewSyncState(), testPolicy())

	require.Len(t, d.ToCreate, 1)
	assert.Equal(t, "cal-default", d.ToCreate[0].CalendarID)
	assert.Empty(t, d.ToUpdate)
	assert.Empty(t, d.Orphaned)
}

func TestComputeDiff_NewTaskRoutedByTag(t *testing.T) {
	tk := timedTask("Standup", "2026-09-02", "09:00", "work.md", 1)
	tk.Tags = []string{"work"}

	d := ComputeDiff([]task.Task{tk}, state.NewSyncState(), testPolicy())

	require.Len(t, d.ToCreate, 1)
	assert.Equal(t, "cal-work", d.ToCreate[0].CalendarID)
	assert.Empty(t, d.Warnings)
}

func TestComputeDiff_AmbiguousRouteWarnsAndUsesDefault(t *testing.T) {
	tk := timedTask("Errand", "2026-09-02", "10:00", "misc.md", 1)
	tk.Tags = []string{"home", "work"}

	d := ComputeDiff([]task.Task{tk}, state.NewSyncState(), testPolicy())

	require.Len(t, d.ToCreate, 1)
	assert.Equal(t, "cal-default", d.ToCreate[0].CalendarID)
	require.Len(t, d.Warnings, 1)
	assert.Equal(t, "Errand", d.Warnings[0].TaskTitle)
}

func TestComputeDiff_UnchangedTaskIsIdempotent(t *testing.T) {
	tk := timedTask("Dentist", "2026-09-02", "14:00", "daily.md", 3)
	st := stateWith(recordOf(tk, "evt-1", "cal-default"))

	d := ComputeDiff([]task.Task{tk}, st, testPolicy())

	assert.Empty(t, d.ToCreate)
	assert.Empty(t, d.ToUpdate)
	require.Len(t, d.Unchanged, 1)
	assert.Equal(t, ExactMatch, d.Unchanged[0].Outcome)
	assert.Equal(t, "evt-1", d.Unchanged[0].Record.EventID)
}

func TestComputeDiff_EditedTaskBecomesUpdate(t *testing.T) {
	orig := timedTask("Dentist", "2026-09-02", "14:00", "daily.md", 3)
	st := stateWith(recordOf(orig, "evt-1", "cal-default"))

	edited := orig
	edited.Time = "15:30"

	d := ComputeDiff([]task.Task{edited}, st, testPolicy())

	assert.Empty(t, d.ToCreate)
	require.Len(t, d.ToUpdate, 1)
	p := d.ToUpdate[0]
	assert.Equal(t, "evt-1", p.Record.EventID)
	// Identity follows the task; the last synced hash is preserved.
	assert.Equal(t, edited.ID(), p.Record.TaskID)
	assert.Equal(t, orig.ContentHash(), p.Record.ContentHash)
}

func TestComputeDiff_MovedTaskMatchesWithoutDuplication(t *testing.T) {
	orig := timedTask("Dentist", "2026-09-02", "14:00", "daily.md", 3)
	st := stateWith(recordOf(orig, "evt-1", "cal-default"))

	moved := orig
	moved.FilePath = "archive/2026.md"
	moved.LineNumber = 40

	d := ComputeDiff([]task.Task{moved}, st, testPolicy())

	assert.Empty(t, d.ToCreate, "a moved task must not create a second event")
	assert.Empty(t, d.Orphaned)
	require.Len(t, d.Unchanged, 1)
	p := d.Unchanged[0]
	assert.Equal(t, RelocatedMatch, p.Outcome)
	assert.Equal(t, moved.ID(), p.Record.TaskID)
	assert.Equal(t, "archive/2026.md", p.Record.FilePath)
}

func TestComputeDiff_DeletedTaskBecomesOrphan(t *testing.T) {
	tk := timedTask("Dentist", "2026-09-02", "14:00", "daily.md", 3)
	st := stateWith(recordOf(tk, "evt-1", "cal-default"))

	d := ComputeDiff(nil, st, testPolicy())

	require.Len(t, d.Orphaned, 1)
	assert.Equal(t, "evt-1", d.Orphaned[0].EventID)
}

func TestComputeDiff_CompletedTaskNeverCreated(t *testing.T) {
	tk := timedTask("Old chore", "2026-08-01", "", "done.md", 9)
	tk.Completed = true

	d := ComputeDiff([]task.Task{tk}, state.NewSyncState(), testPolicy())

	assert.Empty(t, d.ToCreate)
	assert.Empty(t, d.Completed)
}

func TestComputeDiff_CompletedTrackedTaskSurfacedOnce(t *testing.T) {
	tk := timedTask("Ship report", "2026-09-02", "11:00", "work.md", 2)
	st := stateWith(recordOf(tk, "evt-1", "cal-default"))

	done := tk
	done.Completed = true

	d := ComputeDiff([]task.Task{done}, st, testPolicy())
	require.Len(t, d.Completed, 1)

	// Once the completion is applied the hash matches and nothing is
	// re-sent.
	st2 := stateWith(recordOf(done, "evt-1", "cal-default"))
	d2 := ComputeDiff([]task.Task{done}, st2, testPolicy())
	assert.Empty(t, d2.Completed)
	assert.Len(t, d2.Unchanged, 1)
}

func TestComputeDiff_RerouteWhenTagChanges(t *testing.T) {
	tk := timedTask("Standup", "2026-09-02", "09:00", "work.md", 1)
	st := stateWith(recordOf(tk, "evt-1", "cal-default"))

	tagged := tk
	tagged.Tags = []string{"work"}

	d := ComputeDiff([]task.Task{tagged}, st, testPolicy())

	assert.Empty(t, d.ToUpdate)
	require.Len(t, d.ToReroute, 1)
	assert.Equal(t, "cal-work", d.ToReroute[0].TargetCalendarID)
	assert.Equal(t, "evt-1", d.ToReroute[0].Record.EventID)
}

func TestComputeDiff_RecurringSuccessorMigratesWithoutRemoteWork(t *testing.T) {
	prev := timedTask("Call Mom", "2026-09-01", "18:00", "habits.md", 5)
	prev.RecurrenceRule = "FREQ=WEEKLY"
	st := stateWith(recordOf(prev, "evt-1", "cal-default"))

	// Completion spawned the next instance above the checked-off line.
	next := timedTask("Call Mom", "2026-09-08", "18:00", "habits.md", 5)
	next.RecurrenceRule = "FREQ=WEEKLY"
	done := timedTask("Call Mom", "2026-09-01", "18:00", "habits.md", 6)
	done.RecurrenceRule = "FREQ=WEEKLY"
	done.Completed = true

	d := ComputeDiff([]task.Task{next, done}, st, testPolicy())

	assert.Empty(t, d.ToCreate, "the series must not be duplicated")
	assert.Empty(t, d.Orphaned)
	assert.Empty(t, d.Completed)
	require.Len(t, d.Successors, 1)
	p := d.Successors[0]
	assert.Equal(t, SuccessorMatch, p.Outcome)
	assert.Equal(t, "evt-1", p.Record.EventID)
	assert.Equal(t, next.ID(), p.Record.TaskID)
	assert.Equal(t, "2026-09-08", p.Record.Date)
}

func TestComputeDiff_RecurringRuleChangeFlagged(t *testing.T) {
	prev := timedTask("Call Mom", "2026-09-01", "18:00", "habits.md", 5)
	prev.RecurrenceRule = "FREQ=WEEKLY"
	st := stateWith(recordOf(prev, "evt-1", "cal-default"))

	next := timedTask("Call Mom", "2026-09-08", "18:00", "habits.md", 5)
	next.RecurrenceRule = "FREQ=DAILY"

	d := ComputeDiff([]task.Task{next}, st, testPolicy())

	assert.Empty(t, d.Successors)
	require.Len(t, d.RecurrenceChanged, 1)
	assert.Equal(t, "evt-1", d.RecurrenceChanged[0].Record.EventID)
}

func TestComputeDiff_RecurringMissingSuccessorDefersThenOrphans(t *testing.T) {
	prev := timedTask("Call Mom", "2026-09-01", "18:00", "habits.md", 5)
	prev.RecurrenceRule = "FREQ=WEEKLY"
	rec := recordOf(prev, "evt-1", "cal-default")

	st := stateWith(rec)
	d := ComputeDiff(nil, st, testPolicy())
	assert.Empty(t, d.Orphaned)
	require.Len(t, d.Deferred, 1)
	assert.Equal(t, 1, d.Deferred[0].Attempts)
	require.Len(t, d.Carried, 1, "record survives while waiting")

	st = stateWith(rec)
	st.SuccessorChecks = []state.SuccessorCheck{{TaskID: rec.TaskID, Attempts: maxSuccessorAttempts - 1}}
	d = ComputeDiff(nil, st, testPolicy())
	assert.Empty(t, d.Deferred)
	require.Len(t, d.Orphaned, 1)
}

func TestComputeDiff_CompletedRecurringReleasedWhenNoSuccessorAppears(t *testing.T) {
	tk := timedTask("Water plants", "2026-09-01", "08:00", "habits.md", 2)
	tk.RecurrenceRule = "FREQ=DAILY"
	rec := recordOf(tk, "evt-1", "cal-default")
	done := tk
	done.Completed = true

	// While the deferral window is open the record waits as usual.
	st := stateWith(rec)
	d := ComputeDiff([]task.Task{done}, st, testPolicy())
	assert.Empty(t, d.Orphaned)
	require.Len(t, d.Deferred, 1)

	// Once it closes, the checked-off line still being present means
	// the series ended locally. The record is released, never orphaned,
	// so no delete ever reaches the remote series.
	st = stateWith(rec)
	st.SuccessorChecks = []state.SuccessorCheck{{TaskID: rec.TaskID, Attempts: maxSuccessorAttempts - 1}}
	d = ComputeDiff([]task.Task{done}, st, testPolicy())
	assert.Empty(t, d.Orphaned)
	assert.Empty(t, d.Carried)
	assert.Empty(t, d.Deferred)
	assert.Empty(t, d.Completed)
	assert.Empty(t, d.ToCreate)
}

func TestComputeDiff_SeveredRecordStaysInertUntilEdited(t *testing.T) {
	tk := timedTask("Ghost", "2026-09-02", "10:00", "notes.md", 7)
	rec := recordOf(tk, "evt-1", "cal-default")
	rec.Severed = true
	st := stateWith(rec)

	d := ComputeDiff([]task.Task{tk}, st, testPolicy())
	assert.Empty(t, d.ToUpdate)
	assert.Empty(t, d.ToCreate)
	require.Len(t, d.Carried, 1)
	assert.True(t, d.Carried[0].Severed)

	edited := tk
	edited.Time = "11:00"
	d = ComputeDiff([]task.Task{edited}, stateWith(rec), testPolicy())
	require.Len(t, d.ToUpdate, 1)
	assert.False(t, d.ToUpdate[0].Record.Severed, "an edit re-engages the pair")
}

func TestComputeDiff_SeveredContentNotRecreated(t *testing.T) {
	tk := timedTask("Ghost", "2026-09-02", "10:00", "notes.md", 7)
	st := state.NewSyncState()
	st.SeveredContent[tk.ContentHash()] = true

	d := ComputeDiff([]task.Task{tk}, st, testPolicy())
	assert.Empty(t, d.ToCreate)

	// The pin follows content, so moving the line does not revive it.
	shifted := tk
	shifted.LineNumber = 42
	d = ComputeDiff([]task.Task{shifted}, st, testPolicy())
	assert.Empty(t, d.ToCreate)

	moved := tk
	moved.FilePath = "archive.md"
	d = ComputeDiff([]task.Task{moved}, st, testPolicy())
	assert.Empty(t, d.ToCreate)

	// A content edit produces a new hash, which syncs normally.
	edited := tk
	edited.Title = "Ghost revisited"
	d = ComputeDiff([]task.Task{edited}, st, testPolicy())
	assert.Len(t, d.ToCreate, 1)
}
