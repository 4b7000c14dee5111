// Package task defines the local task model and its derived identity.
//
// Tasks are plain-text lines. They carry no stable handle of their own:
// identity is recomputed every cycle from content and location, which is
// why the reconciliation engine needs multiple matching passes to follow
// a task across edits (see internal/engine).
package task

import (
	"sort"
	"strings"
	"time"
)

// Task is one schedulable item observed in the vault. Produced fresh
// each cycle by a Source; never persisted.
type Task struct {
	Title      string
	Date       string // calendar day, "2006-01-02"
	Time       string // clock time "15:04", empty for all-day tasks
	IsAllDay   bool
	FilePath   string
	LineNumber int
	Tags       []string // sorted, deduplicated
	Completed  bool

	RecurrenceRule  string // RRULE text, empty when not recurring
	ReminderMinutes []int  // minutes before start, nil when unset
	DurationMinutes int    // 0 means "use the policy default"

	RawText string
}

// IsRecurring reports whether the task carries a recurrence marker.
func (t *Task) IsRecurring() bool {
	return strings.TrimSpace(t.RecurrenceRule) != ""
}

// StartTime resolves the task's start instant in the given location.
// All-day tasks resolve to midnight.
func (t *Task) StartTime(loc *time.Location) (time.Time, error) {
	if t.Time == "" {
		return time.ParseInLocation("2006-01-02", t.Date, loc)
	}
	return time.ParseInLocation("2006-01-02 15:04", t.Date+" "+t.Time, loc)
}

// NormalizeTags sorts and deduplicates the tag set in place.
func (t *Task) NormalizeTags() {
	if len(t.Tags) == 0 {
		return
	}
	sort.Strings(t.Tags)
	out := t.Tags[:0]
	var prev string
	for i, tag := range t.Tags {
		if i == 0 || tag != prev {
			out = append(out, tag)
		}
		prev = tag
	}
	t.Tags = out
}

// Snapshot is the full set of tasks observed in one cycle.
type Snapshot struct {
	Tasks      []Task
	ObservedAt time.Time
}

// Source produces task snapshots on demand. Implementations parse
// whatever text format the vault uses; the engine only sees Tasks.
type Source interface {
	// Snapshot returns all current tasks, completed and active,
	// excluding any configured paths.
	Snapshot() (*Snapshot, error)
}
