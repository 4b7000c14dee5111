// Package state persists the engine's sync state in SQLite: the
// task→event mapping, the retry/safety-net/severance queues, the
// recovery log, and the per-batch audit log.
//
// The whole state is loaded at the start of a cycle and written back in
// a single transaction at the end. Partial writes mid-cycle are never
// attempted; a crash between remote effect and commit shows up as a
// retried operation on the next run, not as data loss.
package state

import (
	"time"

	"github.com/wrenware/taskmirror/internal/gateway"
	"github.com/wrenware/taskmirror/internal/task"
)

// SyncRecord links one task identity to its remote event.
//
// The location and content fields are matching hints for the next
// cycle's reconciliation, not a source of truth. Invariants: at most
// one record per TaskID, at most one record per (CalendarID, EventID).
type SyncRecord struct {
	TaskID      string
	EventID     string
	CalendarID  string
	ContentHash string

	FilePath   string
	LineNumber int
	Title      string
	Date       string
	Time       string

	RecurrenceRule string
	Severed        bool
}

// IsRecurring reports whether the record tracks a recurring series.
func (r *SyncRecord) IsRecurring() bool {
	return r.RecurrenceRule != ""
}

// OpKind names a retryable remote mutation.
type OpKind string

const (
	OpCreate   OpKind = "create"
	OpDelete   OpKind = "delete"
	OpComplete OpKind = "complete"
)

// PendingOperation is a remote mutation that failed transiently and
// waits in the retry queue. The task snapshot is sufficient to rebuild
// the payload without re-reading the vault.
type PendingOperation struct {
	ID         int64
	TaskID     string
	Kind       OpKind
	CalendarID string
	EventID    string // empty for creates
	Task       *task.Task
	RetryCount int
	LastError  string
	CreatedAt  time.Time
}

// DeletionReason explains why a deletion entered the safety net.
type DeletionReason string

const (
	DeletionOrphaned      DeletionReason = "orphaned"
	DeletionRoutingChange DeletionReason = "routingChange"
)

// PendingDeletion is a deletion diverted by the safety net, waiting
// for an explicit decision.
type PendingDeletion struct {
	ID         int64
	TaskID     string
	CalendarID string
	EventID    string
	Reason     DeletionReason

	// Event is the best-effort risk snapshot shown before deciding.
	Event *gateway.EventSnapshot

	// Task is the last known task content, used by the restore path.
	Task *task.Task

	// TargetCalendarID is set for routing-change deletions: confirming
	// the delete also performs the linked create on this calendar.
	TargetCalendarID string

	CreatedAt time.Time
}

// DeletedSnapshot archives a confirmed deletion for a bounded time.
type DeletedSnapshot struct {
	ID         int64
	TaskID     string
	CalendarID string
	EventID    string
	Title      string
	Event      *gateway.EventSnapshot
	DeletedAt  time.Time
}

// SeveranceReason explains detected remote drift.
type SeveranceReason string

const (
	SeveranceMissing           SeveranceReason = "missing"
	SeveranceTimeShifted       SeveranceReason = "timeShifted"
	SeveranceRecurrenceChanged SeveranceReason = "recurrenceChanged"
)

// PendingSeverance records remote drift awaiting a policy decision.
// While queued, the record is provisionally severed so the same drift
// is not re-flagged every cycle.
type PendingSeverance struct {
	ID         int64
	TaskID     string
	CalendarID string
	EventID    string
	Reason     SeveranceReason
	Detail     string
	Task       *task.Task
	CreatedAt  time.Time
}

// SuccessorCheck defers a recurring record whose successor task has
// not appeared yet. Bounded by maxAttempts in the engine.
type SuccessorCheck struct {
	TaskID   string
	Attempts int
}

// SyncLogEntry is one executed operation's outcome. Entries of one
// cycle share a BatchID.
type SyncLogEntry struct {
	ID         int64
	BatchID    string
	TaskID     string
	Kind       string
	CalendarID string
	EventID    string
	Success    bool
	Status     int
	Error      string
	At         time.Time
}

// SyncState is the complete persisted record.
type SyncState struct {
	SyncedTasks       map[string]SyncRecord
	PendingOperations []PendingOperation
	PendingDeletions  []PendingDeletion
	RecentlyDeleted   []DeletedSnapshot
	PendingSeverances []PendingSeverance

	// SeveredContent pins released pairs by content hash, so a severed
	// task stays untracked across file moves and line shifts. An edit
	// to the line's content produces a new hash and re-engages sync.
	SeveredContent map[string]bool

	SuccessorChecks []SuccessorCheck
	LastSyncAt      time.Time
}

// NewSyncState returns an empty state with initialized maps.
func NewSyncState() *SyncState {
	return &SyncState{
		SyncedTasks:    make(map[string]SyncRecord),
		SeveredContent: make(map[string]bool),
	}
}

// RecordForEvent finds the record referencing a (calendar, event)
// pair. Used to enforce the one-record-per-event invariant.
func (s *SyncState) RecordForEvent(calendarID, eventID string) (SyncRecord, bool) {
	for _, rec := range s.SyncedTasks {
		if rec.CalendarID == calendarID && rec.EventID == eventID {
			return rec, true
		}
	}
	return SyncRecord{}, false
}
