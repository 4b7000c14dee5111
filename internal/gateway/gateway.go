// Package gateway defines the remote calendar contract the engine
// executes against, the typed operation set it submits, and the error
// classification shared by every implementation.
//
// The engine never imports a concrete provider; it sees this interface
// only. internal/gateway/google is the production implementation and
// internal/testutil carries the in-memory fake.
package gateway

import (
	"context"
	"time"

	"github.com/wrenware/taskmirror/internal/task"
)

// EventSnapshot is the provider-independent view of a remote event.
// Used for drift checks, update-payload construction, and the risk
// display on pending deletions.
type EventSnapshot struct {
	ID          string
	CalendarID  string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Recurrence  []string

	// Risk signals for the deletion safety net.
	AttendeeCount  int
	HasAttachments bool
}

// CalendarInfo describes one destination calendar.
type CalendarInfo struct {
	ID          string
	DisplayName string
	IsPrimary   bool
	Color       string
}

// EventPayload carries the fields an update is allowed to touch.
// Nil pointer fields are left untouched remotely, which is how
// user-authored remote content (free-text description edits and the
// like) survives an update.
type EventPayload struct {
	Title      *string
	Start      *time.Time
	End        *time.Time
	AllDay     *bool
	Recurrence []string // nil = leave alone, empty slice = clear
	Reminders  []int    // minutes before start; nil = leave alone
	ColorID    *string
}

// CreateSpec bundles everything needed to materialize a task remotely.
type CreateSpec struct {
	Task            task.Task
	CalendarID      string
	DurationMinutes int
	ReminderMinutes []int
	TimeZone        string
}

// Calendar is the remote calendar service consumed by the engine.
//
// Every call suspends on network I/O; there are no other suspension
// points in a sync cycle. NotFound conditions are reported through
// errors matching IsNotFound, never through nil results.
type Calendar interface {
	CreateEvent(ctx context.Context, spec CreateSpec) (string, error)
	UpdateEvent(ctx context.Context, calendarID, eventID string, payload EventPayload) error
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
	MoveEvent(ctx context.Context, fromCalendarID, eventID, toCalendarID string) (string, error)
	GetEvent(ctx context.Context, calendarID, eventID string) (*EventSnapshot, error)
	ListCalendars(ctx context.Context) ([]CalendarInfo, error)

	// ExecuteBatch submits one group of operations in a single round
	// trip. Hard constraint: every operation in the group must target
	// the same calendar; implementations reject mixed groups with a
	// structural error.
	ExecuteBatch(ctx context.Context, ops []Operation) (*BatchResult, error)
}

// OpResult is the per-operation outcome inside a batch.
type OpResult struct {
	// Index mirrors the position of the operation in the submitted
	// group.
	Index   int
	Success bool
	Status  int

	// EventID is set for successful creates and moves.
	EventID string

	// Snapshot is set for successful gets.
	Snapshot *EventSnapshot

	Err error
}

// BatchResult reports one batch call.
type BatchResult struct {
	Results []OpResult

	// BatchFailed is set when the request as a whole was rejected, as
	// opposed to individual operations failing.
	BatchFailed bool
	BatchStatus int
}
