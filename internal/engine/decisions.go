package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/wrenware/taskmirror/internal/gateway"
	"github.com/wrenware/taskmirror/internal/state"
	"github.com/wrenware/taskmirror/internal/task"
)

// DeletionChoice is the reviewer's decision on a diverted deletion.
type DeletionChoice string

const (
	// DecisionDelete confirms the deletion (and, for routing changes,
	// performs the linked create on the target calendar).
	DecisionDelete DeletionChoice = "delete"
	// DecisionKeep keeps the remote event and stops tracking the pair.
	DecisionKeep DeletionChoice = "keep"
	// DecisionRestore keeps the event and the record, expecting the
	// task line to be restored locally.
	DecisionRestore DeletionChoice = "restore"
)

// SeveranceChoice is the reviewer's decision on detected drift.
type SeveranceChoice string

const (
	// SeveranceRecreate replaces the drifted event with a fresh one
	// built from the local task.
	SeveranceRecreate SeveranceChoice = "recreate"
	// SeveranceSever releases the pair; the task stays local-only until
	// its content changes again.
	SeveranceSever SeveranceChoice = "sever"
)

// ErrNotQueued is returned when a resolution targets an id that is not
// in the queue (already resolved, or never existed).
var ErrNotQueued = fmt.Errorf("no such queued entry")

// ResolveDeletion applies one decision to a pending deletion and
// persists the result. Shares the single-flight slot with RunCycle.
func (e *Engine) ResolveDeletion(ctx context.Context, id int64, choice DeletionChoice) error {
	if !e.tryAcquire() {
		return ErrCycleInFlight
	}
	defer e.release()

	st, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading sync state: %w", err)
	}
	entries, err := e.resolveDeletion(ctx, st, id, choice)
	if err != nil {
		return err
	}
	return e.store.Save(ctx, st, entries)
}

// ResolveAllDeletions applies one decision to every queued deletion.
func (e *Engine) ResolveAllDeletions(ctx context.Context, choice DeletionChoice) (int, error) {
	if !e.tryAcquire() {
		return 0, ErrCycleInFlight
	}
	defer e.release()

	st, err := e.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading sync state: %w", err)
	}
	var entries []state.SyncLogEntry
	n := 0
	for len(st.PendingDeletions) > 0 {
		ens, err := e.resolveDeletion(ctx, st, st.PendingDeletions[0].ID, choice)
		if err != nil {
			saveErr := e.store.Save(ctx, st, entries)
			if saveErr != nil {
				return n, fmt.Errorf("%w (and saving partial progress: %v)", err, saveErr)
			}
			return n, err
		}
		entries = append(entries, ens...)
		n++
	}
	return n, e.store.Save(ctx, st, entries)
}

func (e *Engine) resolveDeletion(ctx context.Context, st *state.SyncState, id int64, choice DeletionChoice) ([]state.SyncLogEntry, error) {
	idx := -1
	for i, pd := range st.PendingDeletions {
		if pd.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("pending deletion %d: %w", id, ErrNotQueued)
	}
	pd := st.PendingDeletions[idx]
	drop := func() {
		st.PendingDeletions = append(st.PendingDeletions[:idx], st.PendingDeletions[idx+1:]...)
	}

	switch choice {
	case DecisionKeep:
		// The event survives; the pair is released so the same
		// condition is not re-queued every cycle.
		if pin := severancePin(st, pd.TaskID, pd.Task); pin != "" {
			st.SeveredContent[pin] = true
		}
		delete(st.SyncedTasks, pd.TaskID)
		drop()
		e.logger.Info("pending deletion resolved", "task", pd.TaskID, "choice", "keep")
		return nil, nil

	case DecisionRestore:
		// Record kept: a restored task line re-matches instead of
		// duplicating the event. Re-queues if nothing is restored.
		drop()
		e.logger.Info("pending deletion resolved", "task", pd.TaskID, "choice", "restore")
		return nil, nil

	case DecisionDelete:
		ops := []gateway.Operation{gateway.DeleteOp{
			CalendarID: pd.CalendarID,
			EventID:    pd.EventID,
			TaskKey:    pd.TaskID,
		}}
		if pd.Reason == state.DeletionRoutingChange && pd.Task != nil && pd.TargetCalendarID != "" {
			ops = append(ops, gateway.CreateOp{
				CalendarID:   pd.TargetCalendarID,
				Spec:         buildCreateSpec(*pd.Task, pd.TargetCalendarID, e.policy),
				TaskKey:      pd.TaskID,
				LinkedDelete: true,
			})
		}
		ex := e.executor()
		out, execErr := ex.Execute(ctx, ops, nil)
		if execErr != nil {
			return nil, execErr
		}
		for _, exop := range out.Executed {
			switch op := exop.Op.(type) {
			case gateway.DeleteOp:
				if exop.Result.Success || exop.Class == gateway.ClassDrift {
					delete(st.SyncedTasks, pd.TaskID)
					st.RecentlyDeleted = append(st.RecentlyDeleted, state.DeletedSnapshot{
						TaskID:     pd.TaskID,
						CalendarID: pd.CalendarID,
						EventID:    pd.EventID,
						Event:      pd.Event,
						DeletedAt:  e.clock(),
					})
				}
			case gateway.CreateOp:
				if exop.Result.Success {
					st.SyncedTasks[op.Spec.Task.ID()] = recordFor(op.Spec.Task, op.CalendarID, exop.Result.EventID)
				}
			}
		}
		st.PendingOperations = append(st.PendingOperations, out.Requeued...)
		drop()
		e.logger.Info("pending deletion resolved", "task", pd.TaskID, "choice", "delete")
		return e.logEntries(uuid.NewString(), out), nil

	default:
		return nil, fmt.Errorf("unknown deletion choice %q", choice)
	}
}

// ResolveSeverance applies one decision to a pending severance and
// persists the result.
func (e *Engine) ResolveSeverance(ctx context.Context, id int64, choice SeveranceChoice) error {
	if !e.tryAcquire() {
		return ErrCycleInFlight
	}
	defer e.release()

	st, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading sync state: %w", err)
	}
	entries, err := e.resolveSeverance(ctx, st, id, choice)
	if err != nil {
		return err
	}
	return e.store.Save(ctx, st, entries)
}

// ResolveAllSeverances applies one decision to every queued severance.
func (e *Engine) ResolveAllSeverances(ctx context.Context, choice SeveranceChoice) (int, error) {
	if !e.tryAcquire() {
		return 0, ErrCycleInFlight
	}
	defer e.release()

	st, err := e.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading sync state: %w", err)
	}
	var entries []state.SyncLogEntry
	n := 0
	for len(st.PendingSeverances) > 0 {
		ens, err := e.resolveSeverance(ctx, st, st.PendingSeverances[0].ID, choice)
		if err != nil {
			saveErr := e.store.Save(ctx, st, entries)
			if saveErr != nil {
				return n, fmt.Errorf("%w (and saving partial progress: %v)", err, saveErr)
			}
			return n, err
		}
		entries = append(entries, ens...)
		n++
	}
	return n, e.store.Save(ctx, st, entries)
}

func (e *Engine) resolveSeverance(ctx context.Context, st *state.SyncState, id int64, choice SeveranceChoice) ([]state.SyncLogEntry, error) {
	idx := -1
	for i, ps := range st.PendingSeverances {
		if ps.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("pending severance %d: %w", id, ErrNotQueued)
	}
	ps := st.PendingSeverances[idx]
	drop := func() {
		st.PendingSeverances = append(st.PendingSeverances[:idx], st.PendingSeverances[idx+1:]...)
	}

	switch choice {
	case SeveranceSever:
		if pin := severancePin(st, ps.TaskID, ps.Task); pin != "" {
			st.SeveredContent[pin] = true
		}
		delete(st.SyncedTasks, ps.TaskID)
		drop()
		e.logger.Info("pending severance resolved", "task", ps.TaskID, "choice", "sever")
		return nil, nil

	case SeveranceRecreate:
		if ps.Task == nil {
			return nil, fmt.Errorf("pending severance %d has no task snapshot to recreate from", id)
		}
		var entries []state.SyncLogEntry
		// Anything still remote is removed first so the replacement
		// never coexists with the drifted original.
		if ps.Reason != state.SeveranceMissing {
			ex := e.executor()
			out, execErr := ex.Execute(ctx, []gateway.Operation{gateway.DeleteOp{
				CalendarID: ps.CalendarID,
				EventID:    ps.EventID,
				TaskKey:    ps.TaskID,
			}}, nil)
			if execErr != nil {
				return nil, execErr
			}
			st.PendingOperations = append(st.PendingOperations, out.Requeued...)
			entries = e.logEntries(uuid.NewString(), out)
		}
		delete(st.SyncedTasks, ps.TaskID)
		st.PendingOperations = append(st.PendingOperations, state.PendingOperation{
			TaskID:     ps.Task.ID(),
			Kind:       state.OpCreate,
			CalendarID: ps.CalendarID,
			Task:       ps.Task,
		})
		drop()
		e.logger.Info("pending severance resolved", "task", ps.TaskID, "choice", "recreate")
		return entries, nil

	default:
		return nil, fmt.Errorf("unknown severance choice %q", choice)
	}
}

// severancePin derives the content pin for a released pair, preferring
// the tracked record's last synced hash over the queued task snapshot.
// Keying the pin on content keeps a severed task untracked across file
// moves and line shifts.
func severancePin(st *state.SyncState, taskID string, t *task.Task) string {
	if rec, ok := st.SyncedTasks[taskID]; ok && rec.ContentHash != "" {
		return rec.ContentHash
	}
	if t != nil {
		return t.ContentHash()
	}
	return ""
}
