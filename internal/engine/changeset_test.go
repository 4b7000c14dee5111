package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenware/taskmirror/internal/gateway"
	"github.com/wrenware/taskmirror/internal/policy"
	"github.com/wrenware/taskmirror/internal/state"
	"github.com/wrenware/taskmirror/internal/task"
)

func TestBuildChangeSet_CompletionsPrecedeCreates(t *testing.T) {
	done := timedTask("Old standup", "2026-09-01", "09:00", "daily.md", 2)
	done.Completed = true
	rec := recordOf(done, "ev-1", "cal-default")

	fresh := timedTask("New thing", "2026-09-02", "10:00", "daily.md", 5)

	cs := BuildChangeSet(&Diff{
		Completed: []Pair{{Task: done, Record: rec}},
		ToCreate:  []Routed{{Task: fresh, CalendarID: "cal-default"}},
	}, state.NewSyncState(), testPolicy())

	require.Len(t, cs.Ops, 2)
	comp, ok := cs.Ops[0].(gateway.CompleteOp)
	require.True(t, ok)
	require.NotNil(t, comp.Payload.Title)
	assert.Equal(t, "✅ Old standup", *comp.Payload.Title)

	_, ok = cs.Ops[1].(gateway.CreateOp)
	assert.True(t, ok)
}

func TestBuildChangeSet_CompletionDeleteBypassesSafetyNet(t *testing.T) {
	done := timedTask("Ship it", "2026-09-01", "", "daily.md", 2)
	done.Completed = true
	rec := recordOf(done, "ev-1", "cal-default")

	pol := testPolicy()
	pol.Completion = policy.CompletionDelete

	cs := BuildChangeSet(&Diff{
		Completed: []Pair{{Task: done, Record: rec}},
	}, state.NewSyncState(), pol)

	require.Len(t, cs.Ops, 1)
	del, ok := cs.Ops[0].(gateway.DeleteOp)
	require.True(t, ok)
	assert.Equal(t, "ev-1", del.EventID)
	assert.Empty(t, cs.Deletions)
}

func TestBuildChangeSet_OrphanDiversion(t *testing.T) {
	gone := timedTask("Vanished", "2026-09-01", "", "daily.md", 2)
	rec := recordOf(gone, "ev-1", "cal-default")

	cs := BuildChangeSet(&Diff{Orphaned: []state.SyncRecord{rec}}, state.NewSyncState(), testPolicy())
	assert.Empty(t, cs.Ops)
	require.Len(t, cs.Deletions, 1)
	assert.Equal(t, state.DeletionOrphaned, cs.Deletions[0].Reason)

	// Already-queued entries are not duplicated.
	st := state.NewSyncState()
	st.PendingDeletions = append(st.PendingDeletions, state.PendingDeletion{TaskID: rec.TaskID})
	cs = BuildChangeSet(&Diff{Orphaned: []state.SyncRecord{rec}}, st, testPolicy())
	assert.Empty(t, cs.Deletions)

	// Without the safety net the delete goes straight out.
	pol := testPolicy()
	pol.SafetyNet = false
	cs = BuildChangeSet(&Diff{Orphaned: []state.SyncRecord{rec}}, state.NewSyncState(), pol)
	require.Len(t, cs.Ops, 1)
	assert.IsType(t, gateway.DeleteOp{}, cs.Ops[0])
}

func TestPlanReroute_Behaviors(t *testing.T) {
	tk := timedTask("Review", "2026-09-02", "14:00", "work.md", 1)
	tk.Tags = []string{"work"}
	rec := recordOf(tk, "ev-1", "cal-default")
	rr := Reroute{Pair: Pair{Task: tk, Record: rec}, TargetCalendarID: "cal-work"}

	t.Run("preserve moves", func(t *testing.T) {
		cs := BuildChangeSet(&Diff{ToReroute: []Reroute{rr}}, state.NewSyncState(), testPolicy())
		require.Len(t, cs.Ops, 1)
		mv, ok := cs.Ops[0].(gateway.MoveOp)
		require.True(t, ok)
		assert.Equal(t, "cal-default", mv.FromCalendarID)
		assert.Equal(t, "cal-work", mv.ToCalendarID)
	})

	t.Run("keepBoth creates only", func(t *testing.T) {
		pol := testPolicy()
		pol.Routing = policy.RoutingKeepBoth
		cs := BuildChangeSet(&Diff{ToReroute: []Reroute{rr}}, state.NewSyncState(), pol)
		require.Len(t, cs.Ops, 1)
		cr, ok := cs.Ops[0].(gateway.CreateOp)
		require.True(t, ok)
		assert.Equal(t, "cal-work", cr.CalendarID)
	})

	t.Run("freshStart diverts under safety net", func(t *testing.T) {
		pol := testPolicy()
		pol.Routing = policy.RoutingFreshStart
		cs := BuildChangeSet(&Diff{ToReroute: []Reroute{rr}}, state.NewSyncState(), pol)
		assert.Empty(t, cs.Ops)
		require.Len(t, cs.Deletions, 1)
		assert.Equal(t, state.DeletionRoutingChange, cs.Deletions[0].Reason)
		assert.Equal(t, "cal-work", cs.Deletions[0].TargetCalendarID)
	})

	t.Run("freshStart without safety net pairs delete and create", func(t *testing.T) {
		pol := testPolicy()
		pol.Routing = policy.RoutingFreshStart
		pol.SafetyNet = false
		cs := BuildChangeSet(&Diff{ToReroute: []Reroute{rr}}, state.NewSyncState(), pol)
		require.Len(t, cs.Ops, 2)
		assert.IsType(t, gateway.DeleteOp{}, cs.Ops[0])
		cr, ok := cs.Ops[1].(gateway.CreateOp)
		require.True(t, ok)
		assert.True(t, cr.LinkedDelete)
	})
}

func TestBuildUpdatePayload_RecurrencePatchedOnlyOnDivergence(t *testing.T) {
	tk := timedTask("Gym", "2026-09-02", "07:00", "habits.md", 1)
	tk.RecurrenceRule = "RRULE:FREQ=WEEKLY"
	rec := recordOf(tk, "ev-1", "cal-default")

	pol := testPolicy()
	loc := policyLocation(pol)

	// Same rule as last sync: leave the remote recurrence alone.
	payload, err := buildUpdatePayload(Pair{Task: tk, Record: rec}, loc, pol)
	require.NoError(t, err)
	assert.Nil(t, payload.Recurrence)

	// Rule removed locally: clear it remotely.
	cleared := tk
	cleared.RecurrenceRule = ""
	payload, err = buildUpdatePayload(Pair{Task: cleared, Record: rec}, loc, pol)
	require.NoError(t, err)
	require.NotNil(t, payload.Recurrence)
	assert.Empty(t, payload.Recurrence)
}

func TestBuildUpdatePayload_BadDateSkips(t *testing.T) {
	tk := task.Task{Title: "Broken", Date: "not-a-date", FilePath: "daily.md", LineNumber: 9}
	rec := recordOf(tk, "ev-1", "cal-default")

	cs := BuildChangeSet(&Diff{ToUpdate: []Pair{{Task: tk, Record: rec}}}, state.NewSyncState(), testPolicy())
	assert.Empty(t, cs.Ops)
	require.Len(t, cs.Skipped, 1)
	assert.Equal(t, "Broken", cs.Skipped[0].Title)
}
