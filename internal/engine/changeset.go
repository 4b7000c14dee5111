package engine

import (
	"fmt"
	"time"

	"github.com/wrenware/taskmirror/internal/gateway"
	"github.com/wrenware/taskmirror/internal/policy"
	"github.com/wrenware/taskmirror/internal/state"
	"github.com/wrenware/taskmirror/internal/task"
)

// completedPrefix is prepended to the remote title when the completion
// policy keeps the event instead of deleting it.
const completedPrefix = "✅ "

// ChangeSet is the full plan for one cycle: the remote operations to
// execute plus the queue entries that replace operations the active
// policy diverted.
type ChangeSet struct {
	Ops []gateway.Operation

	// Deletions are safety-net diversions. Nothing is sent for them
	// this cycle; they wait for an explicit decision.
	Deletions []state.PendingDeletion

	// Severances are drift conditions detected without any remote
	// call, currently only recurrence-rule divergence.
	Severances []state.PendingSeverance

	// Skipped lists pairs dropped from the plan with the reason,
	// usually an unparseable date. Logged, never fatal.
	Skipped []SkipNote
}

// SkipNote records one pair excluded from the plan.
type SkipNote struct {
	TaskID string
	Title  string
	Reason string
}

// BuildChangeSet turns a diff into a change set under the given policy.
// Pure planning: no I/O, no state mutation. Queue entries already
// present in st are not re-queued.
func BuildChangeSet(d *Diff, st *state.SyncState, pol policy.SyncPolicy) *ChangeSet {
	cs := &ChangeSet{}
	loc := policyLocation(pol)

	// Completions run first so a completed-then-deleted task never
	// races its own update.
	for _, p := range d.Completed {
		switch pol.Completion {
		case policy.CompletionDelete:
			// Completion deletes are an explicit local action and
			// bypass the safety net.
			cs.Ops = append(cs.Ops, gateway.DeleteOp{
				CalendarID: p.Record.CalendarID,
				EventID:    p.Record.EventID,
				TaskKey:    p.Record.TaskID,
			})
		case policy.CompletionMark:
			title := completedPrefix + p.Task.Title
			cs.Ops = append(cs.Ops, gateway.CompleteOp{
				CalendarID: p.Record.CalendarID,
				EventID:    p.Record.EventID,
				Payload:    gateway.EventPayload{Title: &title},
				TaskKey:    p.Record.TaskID,
			})
		}
	}

	for _, r := range d.ToCreate {
		cs.Ops = append(cs.Ops, gateway.CreateOp{
			CalendarID: r.CalendarID,
			Spec:       buildCreateSpec(r.Task, r.CalendarID, pol),
			TaskKey:    r.Task.ID(),
		})
	}

	for _, p := range d.ToUpdate {
		payload, err := buildUpdatePayload(p, loc, pol)
		if err != nil {
			cs.Skipped = append(cs.Skipped, SkipNote{
				TaskID: p.Record.TaskID,
				Title:  p.Task.Title,
				Reason: err.Error(),
			})
			continue
		}
		cs.Ops = append(cs.Ops, gateway.UpdateOp{
			CalendarID: p.Record.CalendarID,
			EventID:    p.Record.EventID,
			Payload:    payload,
			TaskKey:    p.Record.TaskID,
		})
	}

	for _, rr := range d.ToReroute {
		cs.planReroute(rr, st, pol)
	}

	for _, rec := range d.Orphaned {
		if pol.SafetyNet {
			if !pendingDeletionQueued(st, rec.TaskID) {
				// The line is gone, so the restore hint is rebuilt
				// from the record's last-synced fields.
				cs.Deletions = append(cs.Deletions, state.PendingDeletion{
					TaskID:     rec.TaskID,
					CalendarID: rec.CalendarID,
					EventID:    rec.EventID,
					Reason:     state.DeletionOrphaned,
					Task:       taskFromRecord(rec),
				})
			}
			continue
		}
		cs.Ops = append(cs.Ops, gateway.DeleteOp{
			CalendarID: rec.CalendarID,
			EventID:    rec.EventID,
			TaskKey:    rec.TaskID,
		})
	}

	for _, p := range d.RecurrenceChanged {
		if pendingSeveranceQueued(st, p.Record.TaskID) {
			continue
		}
		t := p.Task
		cs.Severances = append(cs.Severances, state.PendingSeverance{
			TaskID:     p.Record.TaskID,
			CalendarID: p.Record.CalendarID,
			EventID:    p.Record.EventID,
			Reason:     state.SeveranceRecurrenceChanged,
			Detail:     fmt.Sprintf("rule changed from %q to %q", p.Record.RecurrenceRule, t.RecurrenceRule),
			Task:       &t,
		})
	}

	return cs
}

// planReroute applies the routing behavior to one calendar change.
func (cs *ChangeSet) planReroute(rr Reroute, st *state.SyncState, pol policy.SyncPolicy) {
	rec := rr.Record
	switch pol.Routing {
	case policy.RoutingPreserve:
		cs.Ops = append(cs.Ops, gateway.MoveOp{
			FromCalendarID: rec.CalendarID,
			ToCalendarID:   rr.TargetCalendarID,
			EventID:        rec.EventID,
			TaskKey:        rec.TaskID,
		})
	case policy.RoutingKeepBoth:
		// Old event stays behind untracked; only the new one is
		// followed from here on.
		cs.Ops = append(cs.Ops, gateway.CreateOp{
			CalendarID: rr.TargetCalendarID,
			Spec:       buildCreateSpec(rr.Task, rr.TargetCalendarID, pol),
			TaskKey:    rec.TaskID,
		})
	case policy.RoutingFreshStart:
		if pol.SafetyNet {
			// The delete is diverted, and the linked create waits for
			// its confirmation so the pair never exists twice.
			if !pendingDeletionQueued(st, rec.TaskID) {
				t := rr.Task
				cs.Deletions = append(cs.Deletions, state.PendingDeletion{
					TaskID:           rec.TaskID,
					CalendarID:       rec.CalendarID,
					EventID:          rec.EventID,
					Reason:           state.DeletionRoutingChange,
					Task:             &t,
					TargetCalendarID: rr.TargetCalendarID,
				})
			}
			return
		}
		cs.Ops = append(cs.Ops, gateway.DeleteOp{
			CalendarID: rec.CalendarID,
			EventID:    rec.EventID,
			TaskKey:    rec.TaskID,
		})
		cs.Ops = append(cs.Ops, gateway.CreateOp{
			CalendarID:   rr.TargetCalendarID,
			Spec:         buildCreateSpec(rr.Task, rr.TargetCalendarID, pol),
			TaskKey:      rec.TaskID,
			LinkedDelete: true,
		})
	}
}

// buildCreateSpec fills in policy defaults for a first-time create.
func buildCreateSpec(t task.Task, calendarID string, pol policy.SyncPolicy) gateway.CreateSpec {
	dur := t.DurationMinutes
	if dur == 0 {
		dur = pol.DefaultDurationMinutes
	}
	return gateway.CreateSpec{
		Task:            t,
		CalendarID:      calendarID,
		DurationMinutes: dur,
		ReminderMinutes: t.ReminderMinutes,
		TimeZone:        pol.TimeZone,
	}
}

// buildUpdatePayload computes the patch for a content change. Only the
// locally-owned fields are included; remote description text and other
// fields the vault does not express are never touched.
func buildUpdatePayload(p Pair, loc *time.Location, pol policy.SyncPolicy) (gateway.EventPayload, error) {
	t := p.Task
	start, err := t.StartTime(loc)
	if err != nil {
		return gateway.EventPayload{}, fmt.Errorf("resolving start time: %w", err)
	}

	allDay := t.Time == ""
	var end time.Time
	if allDay {
		end = start.AddDate(0, 0, 1)
	} else {
		dur := t.DurationMinutes
		if dur == 0 {
			dur = pol.DefaultDurationMinutes
		}
		end = start.Add(time.Duration(dur) * time.Minute)
	}

	title := t.Title
	payload := gateway.EventPayload{
		Title:  &title,
		Start:  &start,
		End:    &end,
		AllDay: &allDay,
	}

	// Recurrence is only patched when the local rule diverged from the
	// last synced one, so a remote exception edit is not clobbered on
	// every unrelated content change.
	if t.RecurrenceRule != p.Record.RecurrenceRule {
		if t.RecurrenceRule == "" {
			payload.Recurrence = []string{}
		} else {
			payload.Recurrence = []string{t.RecurrenceRule}
		}
	}

	if t.ReminderMinutes != nil {
		payload.Reminders = t.ReminderMinutes
	}
	return payload, nil
}

func policyLocation(pol policy.SyncPolicy) *time.Location {
	if pol.TimeZone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(pol.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

// taskFromRecord reconstructs an orphaned task from its last-synced
// record fields, enough for a restore hint or a recreate.
func taskFromRecord(rec state.SyncRecord) *task.Task {
	return &task.Task{
		Title:          rec.Title,
		Date:           rec.Date,
		Time:           rec.Time,
		FilePath:       rec.FilePath,
		LineNumber:     rec.LineNumber,
		RecurrenceRule: rec.RecurrenceRule,
	}
}

func pendingDeletionQueued(st *state.SyncState, taskID string) bool {
	for _, pd := range st.PendingDeletions {
		if pd.TaskID == taskID {
			return true
		}
	}
	return false
}

func pendingSeveranceQueued(st *state.SyncState, taskID string) bool {
	for _, ps := range st.PendingSeverances {
		if ps.TaskID == taskID {
			return true
		}
	}
	return false
}
