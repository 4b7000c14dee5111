package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenware/taskmirror/internal/gateway"
	"github.com/wrenware/taskmirror/internal/state"
	"github.com/wrenware/taskmirror/internal/task"
	"github.com/wrenware/taskmirror/internal/testutil"
)

func testExecutor(cal gateway.Calendar) *Executor {
	return &Executor{
		Gateway: cal,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sleep:   func(time.Duration) {},
	}
}

func TestGroupByCalendar(t *testing.T) {
	ops := []gateway.Operation{
		gateway.CreateOp{CalendarID: "cal-a", TaskKey: "t1"},
		gateway.DeleteOp{CalendarID: "cal-b", TaskKey: "t2"},
		gateway.CreateOp{CalendarID: "cal-a", TaskKey: "t3"},
		gateway.MoveOp{FromCalendarID: "cal-b", ToCalendarID: "cal-a", TaskKey: "t4"},
	}
	groups := groupByCalendar(ops)
	require.Len(t, groups, 2)

	// First-seen calendar order, submission order within each group.
	assert.Equal(t, "cal-a", groups[0][0].Calendar())
	assert.Len(t, groups[0], 2)
	assert.Equal(t, "t1", groups[0][0].TaskID())
	assert.Equal(t, "t3", groups[0][1].TaskID())

	assert.Equal(t, "cal-b", groups[1][0].Calendar())
	assert.Len(t, groups[1], 2)
}

func TestExecute_TransientBatchRetriedOnce(t *testing.T) {
	cal := testutil.NewFakeCalendar()
	cal.BatchErrs = []error{gateway.NewStatusError("batch", 503, "backend unavailable")}

	slept := 0
	ex := testExecutor(cal)
	ex.Sleep = func(time.Duration) { slept++ }

	tk := task.Task{Title: "Dentist", Date: "2026-09-02", FilePath: "daily.md", LineNumber: 3}
	out, err := ex.Execute(context.Background(), []gateway.Operation{
		gateway.CreateOp{
			CalendarID: "cal-a",
			TaskKey:    tk.ID(),
			Spec:       gateway.CreateSpec{Task: tk, CalendarID: "cal-a"},
		},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, slept)
	assert.Empty(t, out.Requeued, "retry succeeded, nothing to queue")
	assert.Equal(t, 1, cal.EventCount("cal-a"))
}

func TestExecute_TransientBatchExhaustedRequeues(t *testing.T) {
	cal := testutil.NewFakeCalendar()
	transient := gateway.NewStatusError("batch", 503, "backend unavailable")
	cal.BatchErrs = []error{transient, transient}

	ex := testExecutor(cal)
	tk := task.Task{Title: "Dentist", Date: "2026-09-02", FilePath: "daily.md", LineNumber: 3}
	out, err := ex.Execute(context.Background(), []gateway.Operation{
		gateway.CreateOp{
			CalendarID: "cal-a",
			TaskKey:    tk.ID(),
			Spec:       gateway.CreateSpec{Task: tk, CalendarID: "cal-a"},
		},
		gateway.UpdateOp{CalendarID: "cal-a", EventID: "ev-1", TaskKey: "t2"},
	}, nil)
	require.NoError(t, err)

	// The create is replayable; the update is regenerated by the
	// next diff instead.
	require.Len(t, out.Requeued, 1)
	assert.Equal(t, state.OpCreate, out.Requeued[0].Kind)
	require.NotNil(t, out.Requeued[0].Task)
	assert.Equal(t, "Dentist", out.Requeued[0].Task.Title)
	assert.Equal(t, 0, cal.TotalEvents())
}

func TestExecute_AuthorizationAborts(t *testing.T) {
	cal := testutil.NewFakeCalendar()
	cal.BatchErrs = []error{nil, gateway.NewStatusError("batch", 401, "token expired")}

	ex := testExecutor(cal)
	out, err := ex.Execute(context.Background(), []gateway.Operation{
		gateway.CreateOp{CalendarID: "cal-a", TaskKey: "t1",
			Spec: gateway.CreateSpec{Task: task.Task{Title: "A", Date: "2026-09-02"}, CalendarID: "cal-a"}},
		gateway.CreateOp{CalendarID: "cal-b", TaskKey: "t2",
			Spec: gateway.CreateSpec{Task: task.Task{Title: "B", Date: "2026-09-02"}, CalendarID: "cal-b"}},
	}, nil)

	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	// The first group completed before the abort and is reported.
	require.Len(t, out.Executed, 1)
	assert.True(t, out.Executed[0].Result.Success)
}

func TestExecute_PerOpTransientRequeued(t *testing.T) {
	cal := testutil.NewFakeCalendar()
	cal.Fail["delete:ev-gone"] = gateway.NewStatusError("delete", 500, "internal")

	ex := testExecutor(cal)
	id := cal.Seed("cal-a", gateway.EventSnapshot{ID: "ev-keep", Title: "Keep"})
	out, err := ex.Execute(context.Background(), []gateway.Operation{
		gateway.DeleteOp{CalendarID: "cal-a", EventID: id, TaskKey: "t1"},
		gateway.DeleteOp{CalendarID: "cal-a", EventID: "ev-gone", TaskKey: "t2"},
	}, nil)
	require.NoError(t, err)

	require.Len(t, out.Executed, 2)
	assert.True(t, out.Executed[0].Result.Success)
	assert.False(t, out.Executed[1].Result.Success)
	assert.Equal(t, gateway.ClassTransient, out.Executed[1].Class)

	require.Len(t, out.Requeued, 1)
	assert.Equal(t, state.OpDelete, out.Requeued[0].Kind)
	assert.Equal(t, "ev-gone", out.Requeued[0].EventID)
}

func TestOpToPending_CompleteCarriesTask(t *testing.T) {
	tk := task.Task{Title: "Water plants", Date: "2026-09-02"}
	tasks := map[string]task.Task{"t1": tk}

	pend, ok := opToPending(gateway.CompleteOp{
		CalendarID: "cal-a", EventID: "ev-1", TaskKey: "t1",
	}, tasks, nil)
	require.True(t, ok)
	assert.Equal(t, state.OpComplete, pend.Kind)
	require.NotNil(t, pend.Task)
	assert.Equal(t, "Water plants", pend.Task.Title)

	// Updates and moves are never queued.
	_, ok = opToPending(gateway.UpdateOp{CalendarID: "cal-a"}, tasks, nil)
	assert.False(t, ok)
	_, ok = opToPending(gateway.MoveOp{FromCalendarID: "cal-a"}, tasks, nil)
	assert.False(t, ok)
}
