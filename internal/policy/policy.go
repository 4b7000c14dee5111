// Package policy defines the immutable SyncPolicy value that the diff
// engine and change-set builder receive as an argument. Policy is never
// read from ambient state: the CLI loads it once, validates it, and
// threads it through explicitly.
package policy

import "fmt"

// CompletionBehavior controls what happens remotely when a task is
// completed locally.
type CompletionBehavior string

const (
	// CompletionDelete removes the remote event.
	CompletionDelete CompletionBehavior = "delete"
	// CompletionMark retitles the remote event instead of deleting it.
	CompletionMark CompletionBehavior = "markComplete"
)

// RoutingBehavior controls how a calendar change is applied to an
// already-synced event.
type RoutingBehavior string

const (
	// RoutingPreserve moves the event to the new calendar.
	RoutingPreserve RoutingBehavior = "preserve"
	// RoutingKeepBoth creates on the new calendar and leaves the old
	// event untouched.
	RoutingKeepBoth RoutingBehavior = "keepBoth"
	// RoutingFreshStart deletes the old event and creates a new one.
	RoutingFreshStart RoutingBehavior = "freshStart"
)

// DriftBehavior controls what happens when an expected remote event is
// missing or time-shifted.
type DriftBehavior string

const (
	// DriftRecreate queues a replacement without asking.
	DriftRecreate DriftBehavior = "recreate"
	// DriftSever stops tracking the pair until the task changes again.
	DriftSever DriftBehavior = "sever"
	// DriftAsk queues a pending severance for explicit resolution.
	DriftAsk DriftBehavior = "ask"
)

// SyncPolicy is the complete, immutable knob set for one sync run.
type SyncPolicy struct {
	Completion CompletionBehavior
	Routing    RoutingBehavior
	Drift      DriftBehavior

	// SafetyNet diverts non-exempt deletions into the pending-deletion
	// queue for explicit confirmation.
	SafetyNet bool

	// StrictTime makes the severance check compare start times, not
	// just existence.
	StrictTime bool

	// DefaultCalendarID receives tasks whose tags route nowhere, or
	// ambiguously.
	DefaultCalendarID string

	// TagRoutes maps a tag to a destination calendar ID.
	TagRoutes map[string]string

	// TimeZone is the IANA zone used when building remote payloads.
	TimeZone string

	// DefaultDurationMinutes is used for timed tasks that specify no
	// duration of their own.
	DefaultDurationMinutes int
}

// Validate checks enum fields and required values.
func (p SyncPolicy) Validate() error {
	switch p.Completion {
	case CompletionDelete, CompletionMark:
	default:
		return fmt.Errorf("invalid completion behavior %q", p.Completion)
	}
	switch p.Routing {
	case RoutingPreserve, RoutingKeepBoth, RoutingFreshStart:
	default:
		return fmt.Errorf("invalid routing behavior %q", p.Routing)
	}
	switch p.Drift {
	case DriftRecreate, DriftSever, DriftAsk:
	default:
		return fmt.Errorf("invalid drift behavior %q", p.Drift)
	}
	if p.DefaultCalendarID == "" {
		return fmt.Errorf("default calendar is required")
	}
	if p.DefaultDurationMinutes <= 0 {
		return fmt.Errorf("default duration must be positive, got %d", p.DefaultDurationMinutes)
	}
	return nil
}

// RouteWarning describes a routing ambiguity that fell back to the
// default calendar.
type RouteWarning struct {
	TaskTitle string
	Tags      []string
	Calendars []string
}

func (w RouteWarning) String() string {
	return fmt.Sprintf("task %q tags %v map to multiple calendars %v; using default",
		w.TaskTitle, w.Tags, w.Calendars)
}
