package engine

import (
	"context"

	"github.com/wrenware/taskmirror/internal/gateway"
	"github.com/wrenware/taskmirror/internal/policy"
	"github.com/wrenware/taskmirror/internal/state"
	"github.com/wrenware/taskmirror/internal/task"
)

// maxOpRetries is the per-operation retry ceiling. An operation that
// fails transiently this many times is dropped with an audit entry
// rather than clogging the queue forever.
const maxOpRetries = 5

// drainPending replays the retry queue before the diff runs, so a
// previously-failed create lands (and gets its record) before the new
// snapshot could schedule it again.
//
// st.PendingOperations is replaced with the survivors: transient
// failures below the ceiling, with RetryCount advanced. The returned
// task index maps replayed keys to their queued snapshots, which the
// caller needs to rebuild records for successful completes.
func drainPending(ctx context.Context, ex *Executor, st *state.SyncState, pol policy.SyncPolicy) (*ExecOutcome, map[string]task.Task, []state.SyncLogEntry, error) {
	if len(st.PendingOperations) == 0 {
		return &ExecOutcome{}, nil, nil, nil
	}

	prior := make(map[string]state.PendingOperation, len(st.PendingOperations))
	tasks := make(map[string]task.Task)
	var ops []gateway.Operation
	var dropped []state.SyncLogEntry

	for _, pend := range st.PendingOperations {
		op, ok := pendingToOp(pend, pol)
		if !ok {
			ex.Logger.Warn("dropping unreplayable pending operation",
				"task", pend.TaskID, "kind", pend.Kind)
			continue
		}
		prior[retryKey(pend.TaskID, pend.Kind)] = pend
		if pend.Task != nil {
			tasks[pend.TaskID] = *pend.Task
		}
		ops = append(ops, op)
	}

	out, execErr := ex.Execute(ctx, ops, tasks)

	var kept []state.PendingOperation
	for _, pend := range out.Requeued {
		old, ok := prior[retryKey(pend.TaskID, pend.Kind)]
		retries := 1
		if ok {
			retries = old.RetryCount + 1
		}
		if retries >= maxOpRetries {
			ex.Logger.Error("retry ceiling reached, dropping operation",
				"task", pend.TaskID, "kind", pend.Kind, "error", pend.LastError)
			dropped = append(dropped, state.SyncLogEntry{
				TaskID:     pend.TaskID,
				Kind:       string(pend.Kind) + ".dropped",
				CalendarID: pend.CalendarID,
				EventID:    pend.EventID,
				Success:    false,
				Error:      pend.LastError,
			})
			continue
		}
		pend.RetryCount = retries
		if ok {
			pend.ID = old.ID
			pend.CreatedAt = old.CreatedAt
		}
		kept = append(kept, pend)
	}
	st.PendingOperations = kept

	return out, tasks, dropped, execErr
}

// pendingToOp rebuilds the gateway operation a queue entry stands for.
func pendingToOp(pend state.PendingOperation, pol policy.SyncPolicy) (gateway.Operation, bool) {
	switch pend.Kind {
	case state.OpCreate:
		if pend.Task == nil {
			return nil, false
		}
		return gateway.CreateOp{
			CalendarID: pend.CalendarID,
			Spec:       buildCreateSpec(*pend.Task, pend.CalendarID, pol),
			TaskKey:    pend.TaskID,
		}, true
	case state.OpDelete:
		if pend.EventID == "" {
			return nil, false
		}
		return gateway.DeleteOp{
			CalendarID: pend.CalendarID,
			EventID:    pend.EventID,
			TaskKey:    pend.TaskID,
		}, true
	case state.OpComplete:
		if pend.EventID == "" || pend.Task == nil {
			return nil, false
		}
		title := completedPrefix + pend.Task.Title
		return gateway.CompleteOp{
			CalendarID: pend.CalendarID,
			EventID:    pend.EventID,
			Payload:    gateway.EventPayload{Title: &title},
			TaskKey:    pend.TaskID,
		}, true
	default:
		return nil, false
	}
}

func retryKey(taskID string, kind state.OpKind) string {
	return taskID + "\x00" + string(kind)
}
