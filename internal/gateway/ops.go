package gateway

import "github.com/wrenware/taskmirror/internal/task"

// Operation is one typed, directed unit of remote work. It is a sealed
// sum: exactly the variants below implement it, each carrying only the
// fields its kind needs, and executors dispatch with an exhaustive
// type switch rather than string comparison.
type Operation interface {
	// Calendar returns the destination calendar the operation targets.
	// Batches are grouped on this value.
	Calendar() string

	// TaskID links the operation back to the originating sync record,
	// empty when there is none (pure gets).
	TaskID() string

	sealed()
}

// CreateOp inserts a new remote event for a task.
type CreateOp struct {
	CalendarID string
	Spec       CreateSpec
	TaskKey    string

	// LinkedDelete marks a create that is the second half of a
	// freshStart reroute pair; used for audit attribution only.
	LinkedDelete bool
}

// UpdateOp patches an existing event.
type UpdateOp struct {
	CalendarID string
	EventID    string
	Payload    EventPayload
	TaskKey    string
}

// DeleteOp removes an existing event.
type DeleteOp struct {
	CalendarID string
	EventID    string
	TaskKey    string
}

// MoveOp relocates an event to another calendar. Calendar() reports
// the source calendar, which is where the batch must be addressed.
type MoveOp struct {
	FromCalendarID string
	ToCalendarID   string
	EventID        string
	TaskKey        string
}

// CompleteOp retitles an event to its completed form. Distinct from
// UpdateOp so the completion policy is visible in the audit log.
type CompleteOp struct {
	CalendarID string
	EventID    string
	Payload    EventPayload
	TaskKey    string
}

// GetOp fetches an event snapshot (existence checks, risk display).
type GetOp struct {
	CalendarID string
	EventID    string
	TaskKey    string
}

func (o CreateOp) Calendar() string   { return o.CalendarID }
func (o UpdateOp) Calendar() string   { return o.CalendarID }
func (o DeleteOp) Calendar() string   { return o.CalendarID }
func (o MoveOp) Calendar() string     { return o.FromCalendarID }
func (o CompleteOp) Calendar() string { return o.CalendarID }
func (o GetOp) Calendar() string      { return o.CalendarID }

func (o CreateOp) TaskID() string   { return o.TaskKey }
func (o UpdateOp) TaskID() string   { return o.TaskKey }
func (o DeleteOp) TaskID() string   { return o.TaskKey }
func (o MoveOp) TaskID() string     { return o.TaskKey }
func (o CompleteOp) TaskID() string { return o.TaskKey }
func (o GetOp) TaskID() string      { return o.TaskKey }

func (CreateOp) sealed()   {}
func (UpdateOp) sealed()   {}
func (DeleteOp) sealed()   {}
func (MoveOp) sealed()     {}
func (CompleteOp) sealed() {}
func (GetOp) sealed()      {}

// Kind returns a stable name for audit entries.
func Kind(op Operation) string {
	switch op.(type) {
	case CreateOp:
		return "create"
	case UpdateOp:
		return "update"
	case DeleteOp:
		return "delete"
	case MoveOp:
		return "move"
	case CompleteOp:
		return "complete"
	case GetOp:
		return "get"
	default:
		return "unknown"
	}
}

// TaskOf returns the task carried by a create, if any.
func TaskOf(op Operation) (task.Task, bool) {
	if c, ok := op.(CreateOp); ok {
		return c.Spec.Task, true
	}
	return task.Task{}, false
}
