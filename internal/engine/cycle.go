package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wrenware/taskmirror/internal/gateway"
	"github.com/wrenware/taskmirror/internal/policy"
	"github.com/wrenware/taskmirror/internal/state"
	"github.com/wrenware/taskmirror/internal/task"
)

// CycleReport summarizes one sync cycle.
type CycleReport struct {
	BatchID   string
	StartedAt time.Time
	Duration  time.Duration

	TasksSeen int
	Created   int
	Updated   int
	Completed int
	Deleted   int
	Moved     int

	Requeued       int
	DroppedRetries int

	PendingDeletions  int
	PendingSeverances int

	Warnings []policy.RouteWarning
	Skipped  []SkipNote
}

// RunCycle executes one full reconciliation: drain the retry queue,
// snapshot the vault, diff, plan, execute, verify drift, then persist
// the resulting state in a single transaction.
//
// Only one cycle runs at a time; a concurrent call fails fast with
// ErrCycleInFlight. An authorization failure aborts remaining remote
// work but still persists everything that already happened.
func (e *Engine) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !e.tryAcquire() {
		return nil, ErrCycleInFlight
	}
	defer e.release()

	started := e.clock()
	rep := &CycleReport{BatchID: uuid.NewString(), StartedAt: started}
	log := e.logger.With("batch", rep.BatchID)
	log.Info("cycle starting")

	st, err := e.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading sync state: %w", err)
	}

	ex := e.executor()
	var entries []state.SyncLogEntry

	// Stage 1: replay the retry queue before diffing, so a late create
	// obtains its record before the diff could schedule it again.
	retryOut, retryTasks, droppedEntries, retryErr := drainPending(ctx, ex, st, e.policy)
	e.applyRetryOutcome(st, retryOut, retryTasks)
	entries = append(entries, e.logEntries(rep.BatchID, retryOut)...)
	entries = append(entries, e.stamp(rep.BatchID, droppedEntries)...)
	rep.DroppedRetries = len(droppedEntries)
	if retryErr != nil {
		return rep, e.abortCycle(ctx, rep, st, entries, retryErr, log)
	}

	// Stage 2: observe the vault.
	snap, err := e.source.Snapshot()
	if err != nil {
		saveErr := e.save(ctx, rep, st, entries, started)
		return rep, errors.Join(fmt.Errorf("reading task snapshot: %w", err), saveErr)
	}
	rep.TasksSeen = len(snap.Tasks)

	// Stages 3 and 4: reconcile and plan.
	d := ComputeDiff(snap.Tasks, st, e.policy)
	cs := BuildChangeSet(d, st, e.policy)
	rep.Warnings = d.Warnings
	rep.Skipped = cs.Skipped
	for _, w := range d.Warnings {
		log.Warn("routing ambiguity", "detail", w.String())
	}
	for _, sk := range cs.Skipped {
		log.Warn("skipping task", "task", sk.TaskID, "title", sk.Title, "reason", sk.Reason)
	}

	// Stage 5: risk-enrich newly diverted deletions.
	newDels, gone, enrichErr := e.enrichDeletions(ctx, ex, cs.Deletions)
	if enrichErr != nil && IsAuthError(enrichErr) {
		return rep, e.abortCycle(ctx, rep, st, entries, enrichErr, log)
	}

	// Stage 6: execute the plan.
	out, execErr := ex.Execute(ctx, cs.Ops, indexTasks(d))
	entries = append(entries, e.logEntries(rep.BatchID, out)...)
	st.PendingOperations = append(st.PendingOperations, out.Requeued...)

	// Stage 7: fold results into the next state.
	recs := e.applyMain(st, d, cs, out, newDels, gone, rep)

	if execErr != nil {
		st.SyncedTasks = recs
		return rep, e.abortCycle(ctx, rep, st, entries, execErr, log)
	}

	// Stage 8: verify unchanged pairs against the remote side.
	driftErr := e.checkDrift(ctx, ex, d.Unchanged, st, recs)
	st.SyncedTasks = recs
	if driftErr != nil && IsAuthError(driftErr) {
		return rep, e.abortCycle(ctx, rep, st, entries, driftErr, log)
	}

	// Stage 9: persist everything in one transaction.
	if err := e.save(ctx, rep, st, entries, started); err != nil {
		return rep, err
	}

	rep.Duration = e.clock().Sub(started)
	log.Info("cycle finished",
		"tasks", rep.TasksSeen,
		"created", rep.Created,
		"updated", rep.Updated,
		"completed", rep.Completed,
		"deleted", rep.Deleted,
		"moved", rep.Moved,
		"requeued", rep.Requeued,
		"pending_deletions", rep.PendingDeletions,
		"pending_severances", rep.PendingSeverances,
		"duration", rep.Duration)
	return rep, nil
}

// abortCycle persists intermediate state before surfacing a fatal
// error, so remote effects already applied are never forgotten.
func (e *Engine) abortCycle(ctx context.Context, rep *CycleReport, st *state.SyncState, entries []state.SyncLogEntry, cause error, log *slog.Logger) error {
	log.Error("cycle aborted", "error", cause)
	saveErr := e.save(ctx, rep, st, entries, rep.StartedAt)
	return errors.Join(cause, saveErr)
}

func (e *Engine) save(ctx context.Context, rep *CycleReport, st *state.SyncState, entries []state.SyncLogEntry, started time.Time) error {
	st.LastSyncAt = started
	rep.Requeued = len(st.PendingOperations)
	rep.PendingDeletions = len(st.PendingDeletions)
	rep.PendingSeverances = len(st.PendingSeverances)
	if err := e.store.Save(ctx, st, entries); err != nil {
		return fmt.Errorf("persisting sync state: %w", err)
	}
	return nil
}

// applyRetryOutcome folds successful queue replays into the live state
// before the diff runs.
func (e *Engine) applyRetryOutcome(st *state.SyncState, out *ExecOutcome, tasks map[string]task.Task) {
	for _, exop := range out.Executed {
		switch op := exop.Op.(type) {
		case gateway.CreateOp:
			if exop.Result.Success {
				st.SyncedTasks[op.Spec.Task.ID()] = recordFor(op.Spec.Task, op.CalendarID, exop.Result.EventID)
			}
		case gateway.CompleteOp:
			// A replayed completion keeps the pair tracked, so
			// unchecking the line later patches the event instead of
			// creating a duplicate.
			if exop.Result.Success {
				if t, ok := tasks[op.TaskKey]; ok {
					st.SyncedTasks[op.TaskKey] = recordFor(t, op.CalendarID, op.EventID)
				}
			}
		case gateway.DeleteOp:
			if exop.Result.Success || exop.Class == gateway.ClassDrift {
				delete(st.SyncedTasks, op.TaskKey)
				st.RecentlyDeleted = append(st.RecentlyDeleted, state.DeletedSnapshot{
					TaskID:     op.TaskKey,
					CalendarID: op.CalendarID,
					EventID:    op.EventID,
					DeletedAt:  e.clock(),
				})
			}
		}
	}
}

// applyMain rebuilds the record set from the diff buckets and the
// execution results. Returned map becomes st.SyncedTasks after the
// drift check has had a chance to edit it.
func (e *Engine) applyMain(st *state.SyncState, d *Diff, cs *ChangeSet, out *ExecOutcome, newDels []state.PendingDeletion, gone map[string]bool, rep *CycleReport) map[string]state.SyncRecord {
	old := st.SyncedTasks
	recs := make(map[string]state.SyncRecord, len(old))

	for _, p := range d.Unchanged {
		recs[p.Record.TaskID] = p.Record
	}
	for _, rec := range d.Carried {
		recs[rec.TaskID] = rec
	}
	for _, p := range d.Successors {
		rec := p.Record
		rec.ContentHash = p.Task.ContentHash()
		recs[rec.TaskID] = rec
	}
	for _, p := range d.RecurrenceChanged {
		rec := p.Record
		rec.ContentHash = p.Task.ContentHash()
		rec.RecurrenceRule = p.Task.RecurrenceRule
		rec.Severed = true
		recs[rec.TaskID] = rec
	}

	// Records behind diverted deletions stay tracked until the user
	// decides; auto-resolved gone events are archived instead.
	diverted := make(map[string]bool)
	if e.policy.SafetyNet {
		for _, rec := range d.Orphaned {
			if gone[rec.TaskID] {
				delete(recs, rec.TaskID)
				st.RecentlyDeleted = append(st.RecentlyDeleted, archived(rec, nil, e.clock()))
				continue
			}
			recs[rec.TaskID] = rec
			diverted[rec.TaskID] = true
		}
		if e.policy.Routing == policy.RoutingFreshStart {
			for _, rr := range d.ToReroute {
				if gone[rr.Record.TaskID] {
					continue
				}
				recs[rr.Record.TaskID] = rr.Record
				diverted[rr.Record.TaskID] = true
			}
		}
	}

	// A queued deletion whose trigger condition has cleared (the task
	// reappeared, or routing settled) resolves itself silently.
	var pds []state.PendingDeletion
	for _, pd := range st.PendingDeletions {
		if diverted[pd.TaskID] {
			pds = append(pds, pd)
		}
	}
	st.PendingDeletions = append(pds, newDels...)
	st.PendingSeverances = append(st.PendingSeverances, cs.Severances...)
	st.SuccessorChecks = d.Deferred

	updateByID := make(map[string]Pair, len(d.ToUpdate))
	for _, p := range d.ToUpdate {
		updateByID[p.Record.TaskID] = p
	}
	completedByID := make(map[string]Pair, len(d.Completed))
	for _, p := range d.Completed {
		completedByID[p.Record.TaskID] = p
	}
	rerouteByID := make(map[string]Reroute, len(d.ToReroute))
	for _, rr := range d.ToReroute {
		rerouteByID[rr.Record.TaskID] = rr
	}

	for _, exop := range out.Executed {
		switch op := exop.Op.(type) {
		case gateway.CreateOp:
			if exop.Result.Success {
				rep.Created++
				t := op.Spec.Task
				recs[t.ID()] = recordFor(t, op.CalendarID, exop.Result.EventID)
			}
		case gateway.UpdateOp:
			p, ok := updateByID[op.TaskKey]
			if !ok {
				continue
			}
			switch {
			case exop.Result.Success:
				rep.Updated++
				rec := p.Record
				rec.ContentHash = p.Task.ContentHash()
				rec.RecurrenceRule = p.Task.RecurrenceRule
				rec.Severed = false
				recs[op.TaskKey] = rec
			case exop.Class == gateway.ClassDrift:
				e.handleDrift(st, recs, p, state.SeveranceMissing,
					"remote event missing during update")
			default:
				// Old hash kept; the next diff regenerates the update.
				recs[op.TaskKey] = p.Record
			}
		case gateway.MoveOp:
			rr, ok := rerouteByID[op.TaskKey]
			if !ok {
				continue
			}
			switch {
			case exop.Result.Success:
				rep.Moved++
				rec := rr.Record
				rec.CalendarID = op.ToCalendarID
				if exop.Result.EventID != "" {
					rec.EventID = exop.Result.EventID
				}
				recs[op.TaskKey] = rec
			case exop.Class == gateway.ClassDrift:
				e.handleDrift(st, recs, rr.Pair, state.SeveranceMissing,
					"remote event missing during move")
			default:
				recs[op.TaskKey] = rr.Record
			}
		case gateway.CompleteOp:
			p, ok := completedByID[op.TaskKey]
			if exop.Result.Success && ok {
				rep.Completed++
				rec := p.Record
				rec.ContentHash = p.Task.ContentHash()
				recs[op.TaskKey] = rec
			}
		case gateway.DeleteOp:
			if exop.Result.Success || exop.Class == gateway.ClassDrift {
				rep.Deleted++
				e.archiveDeletion(st, old, completedByID, op)
			}
		}
	}

	// keepBoth leaves the replaced event behind untracked; the create
	// result above already installed the new record under the same key.
	return recs
}

// archiveDeletion appends a bounded-retention snapshot of a deletion.
func (e *Engine) archiveDeletion(st *state.SyncState, old map[string]state.SyncRecord, completed map[string]Pair, op gateway.DeleteOp) {
	snap := state.DeletedSnapshot{
		TaskID:     op.TaskKey,
		CalendarID: op.CalendarID,
		EventID:    op.EventID,
		DeletedAt:  e.clock(),
	}
	if rec, ok := old[op.TaskKey]; ok {
		snap.Title = rec.Title
	}
	if p, ok := completed[op.TaskKey]; ok {
		snap.Title = p.Task.Title
	}
	st.RecentlyDeleted = append(st.RecentlyDeleted, snap)
}

func archived(rec state.SyncRecord, event *gateway.EventSnapshot, at time.Time) state.DeletedSnapshot {
	return state.DeletedSnapshot{
		TaskID:     rec.TaskID,
		CalendarID: rec.CalendarID,
		EventID:    rec.EventID,
		Title:      rec.Title,
		Event:      event,
		DeletedAt:  at,
	}
}

// recordFor builds a fresh record for a successfully created event.
func recordFor(t task.Task, calendarID, eventID string) state.SyncRecord {
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

// indexTasks maps every task key referenced by the plan to its current
// snapshot, for pending-operation payload rebuilding.
func indexTasks(d *Diff) map[string]task.Task {
	idx := make(map[string]task.Task)
	for _, p := range d.Completed {
		idx[p.Record.TaskID] = p.Task
	}
	for _, p := range d.ToUpdate {
		idx[p.Record.TaskID] = p.Task
	}
	for _, r := range d.ToCreate {
		idx[r.Task.ID()] = r.Task
	}
	for _, rr := range d.ToReroute {
		idx[rr.Record.TaskID] = rr.Task
	}
	return idx
}

// logEntries converts execution outcomes into audit entries.
func (e *Engine) logEntries(batchID string, out *ExecOutcome) []state.SyncLogEntry {
	if out == nil || len(out.Executed) == 0 {
		return nil
	}
	now := e.clock()
	entries := make([]state.SyncLogEntry, 0, len(out.Executed))
	for _, exop := range out.Executed {
		if _, isGet := exop.Op.(gateway.GetOp); isGet {
			continue
		}
		en := state.SyncLogEntry{
			BatchID:    batchID,
			TaskID:     exop.Op.TaskID(),
			Kind:       gateway.Kind(exop.Op),
			CalendarID: exop.Op.Calendar(),
			Success:    exop.Result.Success,
			Status:     exop.Result.Status,
			At:         now,
		}
		if exop.Result.EventID != "" {
			en.EventID = exop.Result.EventID
		} else if del, ok := exop.Op.(gateway.DeleteOp); ok {
			en.EventID = del.EventID
		} else if up, ok := exop.Op.(gateway.UpdateOp); ok {
			en.EventID = up.EventID
		} else if cp, ok := exop.Op.(gateway.CompleteOp); ok {
			en.EventID = cp.EventID
		} else if mv, ok := exop.Op.(gateway.MoveOp); ok {
			en.EventID = mv.EventID
		}
		if exop.Result.Err != nil {
			en.Error = exop.Result.Err.Error()
		}
		entries = append(entries, en)
	}
	return entries
}

func (e *Engine) stamp(batchID string, entries []state.SyncLogEntry) []state.SyncLogEntry {
	now := e.clock()
	for i := range entries {
		entries[i].BatchID = batchID
		entries[i].At = now
	}
	return entries
}
