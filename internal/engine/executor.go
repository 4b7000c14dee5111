package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/wrenware/taskmirror/internal/gateway"
	"github.com/wrenware/taskmirror/internal/state"
	"github.com/wrenware/taskmirror/internal/task"
)

// transientRetryDelay is the pause before the single in-cycle retry of
// a transiently-failed batch. Anything still failing after that goes to
// the pending-operation queue for the next cycle.
const transientRetryDelay = 2 * time.Second

// ExecutedOp pairs a submitted operation with its outcome.
type ExecutedOp struct {
	Op     gateway.Operation
	Result gateway.OpResult

	// Class is set when the operation failed.
	Class gateway.Class
}

// ExecOutcome is everything the cycle needs to apply remote results to
// state: per-op outcomes plus the operations that moved to the retry
// queue instead of completing.
type ExecOutcome struct {
	Executed []ExecutedOp
	Requeued []state.PendingOperation
}

// Executor submits a change set's operations batch by batch, one
// calendar per batch.
type Executor struct {
	Gateway gateway.Calendar
	Logger  *slog.Logger

	// Sleep is swapped out in tests.
	Sleep func(time.Duration)
}

func (e *Executor) sleep(d time.Duration) {
	if e.Sleep != nil {
		e.Sleep(d)
		return
	}
	time.Sleep(d)
}

// Execute runs all operations grouped by target calendar. tasks maps a
// task key to its current snapshot so requeued completions can rebuild
// their payload later without re-reading the vault.
//
// An authorization failure stops execution immediately and surfaces as
// a *CycleError; the outcome accumulated so far is still returned so
// already-applied effects reach persisted state.
func (e *Executor) Execute(ctx context.Context, ops []gateway.Operation, tasks map[string]task.Task) (*ExecOutcome, error) {
	out := &ExecOutcome{}
	for _, group := range groupByCalendar(ops) {
		if err := e.executeGroup(ctx, group, tasks, out); err != nil {
			return out, err
		}
	}
	return out, nil
}

// groupByCalendar splits operations into single-calendar groups,
// preserving submission order within each group.
func groupByCalendar(ops []gateway.Operation) [][]gateway.Operation {
	byCal := make(map[string][]gateway.Operation)
	var order []string
	for _, op := range ops {
		cal := op.Calendar()
		if _, seen := byCal[cal]; !seen {
			order = append(order, cal)
		}
		byCal[cal] = append(byCal[cal], op)
	}
	groups := make([][]gateway.Operation, 0, len(order))
	for _, cal := range order {
		groups = append(groups, byCal[cal])
	}
	return groups
}

func (e *Executor) executeGroup(ctx context.Context, group []gateway.Operation, tasks map[string]task.Task, out *ExecOutcome) error {
	res, err := e.Gateway.ExecuteBatch(ctx, group)
	if err == nil && res.BatchFailed {
		err = gateway.NewStatusError("batch", res.BatchStatus, "batch rejected")
	}
	if err != nil {
		switch gateway.Classify(err) {
		case gateway.ClassTransient:
			e.Logger.Warn("batch failed transiently, retrying once",
				"calendar", group[0].Calendar(), "error", err)
			e.sleep(transientRetryDelay)
			res, err = e.Gateway.ExecuteBatch(ctx, group)
			if err == nil && res.BatchFailed {
				err = gateway.NewStatusError("batch", res.BatchStatus, "batch rejected")
			}
			if err != nil {
				e.requeueGroup(group, tasks, err, out)
				return nil
			}
		case gateway.ClassAuthorization:
			return abort("execute", err)
		default:
			// Structural rejection of the whole group. Nothing in it
			// can be trusted to have happened; requeue what can be
			// replayed and drop the rest to the log.
			e.Logger.Error("batch rejected", "calendar", group[0].Calendar(), "error", err)
			e.requeueGroup(group, tasks, err, out)
			return nil
		}
	}

	for _, r := range res.Results {
		op := group[r.Index]
		ex := ExecutedOp{Op: op, Result: r}
		if !r.Success {
			ex.Class = gateway.Classify(r.Err)
			switch ex.Class {
			case gateway.ClassTransient:
				if pend, ok := opToPending(op, tasks, r.Err); ok {
					out.Requeued = append(out.Requeued, pend)
				}
			case gateway.ClassAuthorization:
				out.Executed = append(out.Executed, ex)
				return abort("execute", r.Err)
			}
			// Drift and structural per-op failures are applied by the
			// cycle, not retried here.
		}
		out.Executed = append(out.Executed, ex)
	}
	return nil
}

// requeueGroup moves a failed group's replayable operations to the
// pending queue. Updates and moves are regenerated by the next diff and
// are not queued.
func (e *Executor) requeueGroup(group []gateway.Operation, tasks map[string]task.Task, cause error, out *ExecOutcome) {
	for _, op := range group {
		ex := ExecutedOp{Op: op, Result: gateway.OpResult{Err: cause}, Class: gateway.Classify(cause)}
		out.Executed = append(out.Executed, ex)
		if pend, ok := opToPending(op, tasks, cause); ok {
			out.Requeued = append(out.Requeued, pend)
		}
	}
}

// opToPending converts a replayable operation into a queue entry.
func opToPending(op gateway.Operation, tasks map[string]task.Task, cause error) (state.PendingOperation, bool) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	switch o := op.(type) {
	case gateway.CreateOp:
		t := o.Spec.Task
		return state.PendingOperation{
			TaskID:     o.TaskKey,
			Kind:       state.OpCreate,
			CalendarID: o.CalendarID,
			Task:       &t,
			LastError:  msg,
		}, true
	case gateway.DeleteOp:
		return state.PendingOperation{
			TaskID:     o.TaskKey,
			Kind:       state.OpDelete,
			CalendarID: o.CalendarID,
			EventID:    o.EventID,
			LastError:  msg,
		}, true
	case gateway.CompleteOp:
		pend := state.PendingOperation{
			TaskID:     o.TaskKey,
			Kind:       state.OpComplete,
			CalendarID: o.CalendarID,
			EventID:    o.EventID,
			LastError:  msg,
		}
		if t, ok := tasks[o.TaskKey]; ok {
			pend.Task = &t
		}
		return pend, true
	default:
		return state.PendingOperation{}, false
	}
}
