package engine

import (
	"context"

	"github.com/wrenware/taskmirror/internal/gateway"
	"github.com/wrenware/taskmirror/internal/state"
)

// enrichDeletions fetches a risk snapshot for each newly-diverted
// deletion so the review UI can show attendee and attachment signals
// before the user confirms.
//
// An event that turns out to be gone already is auto-resolved: its
// taskID is reported in gone and the entry is dropped from the queue,
// since there is nothing left to protect.
func (e *Engine) enrichDeletions(ctx context.Context, ex *Executor, dels []state.PendingDeletion) ([]state.PendingDeletion, map[string]bool, error) {
	gone := make(map[string]bool)
	if len(dels) == 0 {
		return dels, gone, nil
	}

	ops := make([]gateway.Operation, 0, len(dels))
	for _, pd := range dels {
		ops = append(ops, gateway.GetOp{
			CalendarID: pd.CalendarID,
			EventID:    pd.EventID,
			TaskKey:    pd.TaskID,
		})
	}

	out, err := ex.Execute(ctx, ops, nil)

	snaps := make(map[string]*gateway.EventSnapshot, len(out.Executed))
	for _, exop := range out.Executed {
		id := exop.Op.TaskID()
		switch {
		case exop.Result.Success:
			snaps[id] = exop.Result.Snapshot
		case exop.Class == gateway.ClassDrift:
			gone[id] = true
		default:
			// Snapshot unavailable; the entry is queued without risk
			// signals rather than blocking the cycle.
			e.logger.Warn("risk snapshot unavailable for pending deletion",
				"task", id, "error", exop.Result.Err)
		}
	}

	kept := dels[:0]
	for _, pd := range dels {
		if gone[pd.TaskID] {
			e.logger.Info("pending deletion auto-resolved, event already gone",
				"task", pd.TaskID, "event", pd.EventID)
			continue
		}
		pd.Event = snaps[pd.TaskID]
		kept = append(kept, pd)
	}
	return kept, gone, err
}
