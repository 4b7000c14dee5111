package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/wrenware/taskmirror/internal/gateway"
	"github.com/wrenware/taskmirror/internal/policy"
	"github.com/wrenware/taskmirror/internal/state"
)

// checkDrift verifies that the remote events behind unchanged pairs
// still exist, and under strict time checking that they still start
// when the task says. Detected drift is handled per the drift policy
// through handleDrift, which edits recs in place.
//
// Pairs are checked with batched gets; a pair whose get fails for any
// reason other than not-found is left alone until a later cycle.
func (e *Engine) checkDrift(ctx context.Context, ex *Executor, pairs []Pair, st *state.SyncState, recs map[string]state.SyncRecord) error {
	if len(pairs) == 0 {
		return nil
	}

	byID := make(map[string]Pair, len(pairs))
	ops := make([]gateway.Operation, 0, len(pairs))
	for _, p := range pairs {
		if p.Record.Severed {
			continue
		}
		byID[p.Record.TaskID] = p
		ops = append(ops, gateway.GetOp{
			CalendarID: p.Record.CalendarID,
			EventID:    p.Record.EventID,
			TaskKey:    p.Record.TaskID,
		})
	}
	if len(ops) == 0 {
		return nil
	}

	out, err := ex.Execute(ctx, ops, nil)
	loc := policyLocation(e.policy)

	for _, exop := range out.Executed {
		p, ok := byID[exop.Op.TaskID()]
		if !ok {
			continue
		}
		switch {
		case exop.Class == gateway.ClassDrift:
			e.handleDrift(st, recs, p, state.SeveranceMissing,
				"remote event no longer exists")
		case exop.Result.Success && e.policy.StrictTime:
			if detail, shifted := startShifted(p, exop.Result.Snapshot, loc); shifted {
				e.handleTimeShift(st, recs, p, detail)
			}
		}
	}
	return err
}

// startShifted compares the expected start instant with the remote one.
// Recurring events are exempt: the series start legitimately trails the
// current occurrence.
func startShifted(p Pair, snap *gateway.EventSnapshot, loc *time.Location) (string, bool) {
	if snap == nil || p.Task.IsRecurring() {
		return "", false
	}
	want, err := p.Task.StartTime(loc)
	if err != nil {
		return "", false
	}
	if snap.AllDay {
		if p.Task.Time != "" || !sameDay(snap.Start, want) {
			return fmt.Sprintf("expected %s, remote all-day %s",
				want.Format(time.RFC3339), snap.Start.Format("2006-01-02")), true
		}
		return "", false
	}
	if !snap.Start.Equal(want) {
		return fmt.Sprintf("expected %s, remote %s",
			want.Format(time.RFC3339), snap.Start.Format(time.RFC3339)), true
	}
	return "", false
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// handleDrift applies the drift policy to a pair whose remote event is
// missing. recs holds the records being assembled for the next state;
// entries for drifted pairs are replaced or removed here.
func (e *Engine) handleDrift(st *state.SyncState, recs map[string]state.SyncRecord, p Pair, reason state.SeveranceReason, detail string) {
	id := p.Record.TaskID
	e.logger.Warn("remote drift detected",
		"task", id, "title", p.Task.Title, "reason", reason, "detail", detail)

	switch e.policy.Drift {
	case policy.DriftRecreate:
		delete(recs, id)
		t := p.Task
		st.PendingOperations = append(st.PendingOperations, state.PendingOperation{
			TaskID:     id,
			Kind:       state.OpCreate,
			CalendarID: p.Record.CalendarID,
			Task:       &t,
			LastError:  detail,
		})
	case policy.DriftSever:
		delete(recs, id)
		st.SeveredContent[p.Task.ContentHash()] = true
	case policy.DriftAsk:
		e.queueSeverance(st, recs, p, reason, detail)
	}
}

// handleTimeShift covers drift where the event still exists. Recreating
// would duplicate it, so the recreate policy issues a corrective update
// instead: the stored hash is invalidated, and the next diff emits an
// update that restores the expected start.
func (e *Engine) handleTimeShift(st *state.SyncState, recs map[string]state.SyncRecord, p Pair, detail string) {
	e.logger.Warn("remote start time drifted",
		"task", p.Record.TaskID, "title", p.Task.Title, "detail", detail)
	switch e.policy.Drift {
	case policy.DriftRecreate:
		rec := p.Record
		rec.ContentHash = ""
		recs[rec.TaskID] = rec
	case policy.DriftSever:
		delete(recs, p.Record.TaskID)
		st.SeveredContent[p.Task.ContentHash()] = true
	default:
		e.queueSeverance(st, recs, p, state.SeveranceTimeShifted, detail)
	}
}

// queueSeverance records drift for explicit resolution and provisionally
// severs the record so the same condition is not re-flagged every cycle.
func (e *Engine) queueSeverance(st *state.SyncState, recs map[string]state.SyncRecord, p Pair, reason state.SeveranceReason, detail string) {
	id := p.Record.TaskID
	rec := p.Record
	rec.Severed = true
	rec.ContentHash = p.Task.ContentHash()
	rec.RecurrenceRule = p.Task.RecurrenceRule
	recs[id] = rec

	if pendingSeveranceQueued(st, id) {
		return
	}
	t := p.Task
	st.PendingSeverances = append(st.PendingSeverances, state.PendingSeverance{
		TaskID:     id,
		CalendarID: rec.CalendarID,
		EventID:    rec.EventID,
		Reason:     reason,
		Detail:     detail,
		Task:       &t,
	})
}
