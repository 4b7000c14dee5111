package engine

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/wrenware/taskmirror/internal/policy"
	"github.com/wrenware/taskmirror/internal/state"
	"github.com/wrenware/taskmirror/internal/task"
)

// maxSuccessorAttempts bounds how many cycles a recurring record waits
// for its successor task before degrading to orphaned. Absorbs the
// race between the task source producing the successor line and the
// sync cycle observing it.
const maxSuccessorAttempts = 3

// MatchOutcome tags how a sync record was paired with a current task.
type MatchOutcome int

const (
	// NoMatch: no current task corresponds to the record.
	NoMatch MatchOutcome = iota
	// ExactMatch: same file and line (pass 1).
	ExactMatch
	// RelocatedMatch: same title/date/time at a different location
	// (pass 2); prevents a delete+create pair on moves.
	RelocatedMatch
	// SuccessorMatch: recurring record migrated onto the next instance
	// spawned by completion (pass 3); no remote call is made.
	SuccessorMatch
)

func (m MatchOutcome) String() string {
	switch m {
	case ExactMatch:
		return "exact"
	case RelocatedMatch:
		return "relocated"
	case SuccessorMatch:
		return "successor"
	default:
		return "none"
	}
}

// Pair is a current task matched to its carried-forward record. The
// record's identity and location fields are already refreshed from the
// task; ContentHash still holds the last synced digest so callers can
// tell whether content changed.
type Pair struct {
	Task    task.Task
	Record  state.SyncRecord
	Outcome MatchOutcome
}

// Routed is a task headed for first-time creation.
type Routed struct {
	Task       task.Task
	CalendarID string
}

// Reroute is a matched pair whose routed destination no longer matches
// the record's calendar. Calendar-level movement, not a content update.
type Reroute struct {
	Pair
	TargetCalendarID string
}

// Diff is the output of one reconciliation over a snapshot.
type Diff struct {
	ToCreate  []Routed
	ToUpdate  []Pair
	Unchanged []Pair
	ToReroute []Reroute
	Orphaned  []state.SyncRecord

	// Completed pairs are surfaced separately: the change-set builder
	// applies the completion policy to them before anything else.
	Completed []Pair

	// Successors migrated an eventId onto a new task key with zero
	// remote calls.
	Successors []Pair

	// RecurrenceChanged flags successor matches whose recurrence rule
	// text differs from the record's. Any string mismatch counts;
	// these become pending severances, never silent merges.
	RecurrenceChanged []Pair

	// Carried are records preserved as-is this cycle: severed records
	// matched to an unchanged task, and recurring records waiting for
	// a successor. Excluded from updates and severance checks.
	Carried []state.SyncRecord

	// Deferred holds updated successor-check attempts to persist.
	Deferred []state.SuccessorCheck

	Warnings []policy.RouteWarning
}

type candidate struct {
	t       task.Task
	hash    string
	matched bool
}

type locKey struct {
	path string
	line int
}

type contentKey struct {
	title string
	date  string
	time  string
}

func titleKey(title string) string {
	return norm.NFC.String(strings.TrimSpace(title))
}

// ComputeDiff reconciles the current snapshot against the persisted
// records in ordered passes, each considering only items the earlier
// passes left unresolved.
func ComputeDiff(tasks []task.Task, st *state.SyncState, pol policy.SyncPolicy) *Diff {
	d := &Diff{}

	cands := make([]*candidate, 0, len(tasks))
	byLocation := make(map[locKey]*candidate, len(tasks))
	for i := range tasks {
		t := tasks[i]
		t.NormalizeTags()
		c := &candidate{t: t, hash: t.ContentHash()}
		cands = append(cands, c)
		byLocation[locKey{t.FilePath, t.LineNumber}] = c
	}

	prevAttempts := make(map[string]int, len(st.SuccessorChecks))
	for _, sc := range st.SuccessorChecks {
		prevAttempts[sc.TaskID] = sc.Attempts
	}

	// Pass 1: in-place match on (filePath, lineNumber). Two recurring
	// cases are excluded and left for pass 3: a completed task (the
	// record belongs to the series, not the checked-off line) and a
	// later-dated instance (occurrence advance, not a content edit).
	var unmatched []state.SyncRecord
	for _, rec := range st.SyncedTasks {
		c, ok := byLocation[locKey{rec.FilePath, rec.LineNumber}]
		if ok && !c.matched &&
			!(rec.RecurrenceRule != "" && c.t.Completed) &&
			!successorCandidate(rec, c.t) {
			c.matched = true
			d.assign(c, rec, ExactMatch, pol)
			continue
		}
		unmatched = append(unmatched, rec)
	}

	// Pass 2: cross-file / line-shift match on exact (title, date,
	// time), which keeps a moved task from becoming delete+create.
	byContent := make(map[contentKey][]*candidate)
	for _, c := range cands {
		if !c.matched {
			k := contentKey{titleKey(c.t.Title), c.t.Date, c.t.Time}
			byContent[k] = append(byContent[k], c)
		}
	}
	var stillOpen []state.SyncRecord
	for _, rec := range unmatched {
		k := contentKey{titleKey(rec.Title), rec.Date, rec.Time}
		if c := takeFirst(byContent, k, rec.RecurrenceRule != ""); c != nil {
			c.matched = true
			d.assign(c, rec, RelocatedMatch, pol)
			continue
		}
		stillOpen = append(stillOpen, rec)
	}

	// Pass 3: recurring-successor match. Same title, time and file,
	// strictly later date, recurrence marker present on the task. The
	// remote event already represents the whole series, so only the
	// eventId's task key migrates; nothing is sent to the calendar.
	for _, rec := range stillOpen {
		if rec.RecurrenceRule != "" {
			if c := findSuccessor(cands, rec); c != nil {
				c.matched = true
				carried := carryForward(rec, c.t)
				pair := Pair{Task: c.t, Record: carried, Outcome: SuccessorMatch}
				if strings.TrimSpace(rec.RecurrenceRule) != strings.TrimSpace(c.t.RecurrenceRule) {
					d.RecurrenceChanged = append(d.RecurrenceChanged, pair)
					continue
				}
				pair.Record.RecurrenceRule = c.t.RecurrenceRule
				d.Successors = append(d.Successors, pair)
				continue
			}
			// Defer before orphaning: the successor line may simply
			// not exist yet.
			attempts := prevAttempts[rec.TaskID] + 1
			if attempts < maxSuccessorAttempts {
				d.Deferred = append(d.Deferred, state.SuccessorCheck{TaskID: rec.TaskID, Attempts: attempts})
				d.Carried = append(d.Carried, rec)
				continue
			}
			if c := completedInstance(cands, rec); c != nil {
				// The series was checked off and no successor line
				// ever appeared. The remote event represents the
				// whole series, so the record is released without
				// touching the calendar.
				c.matched = true
				continue
			}
		}
		if rec.Severed {
			// Severed and gone from the source: the pair was already
			// released from tracking, drop the record silently.
			continue
		}
		d.Orphaned = append(d.Orphaned, rec)
	}

	// Remaining tasks with no record are new. Completed tasks are
	// never created, and severed content stays untracked until the
	// line's content changes, no matter where the line moves.
	for _, c := range cands {
		if c.matched || c.t.Completed || st.SeveredContent[c.hash] {
			continue
		}
		calID, warn := pol.Route(c.t.Title, c.t.Tags)
		if warn != nil {
			d.Warnings = append(d.Warnings, *warn)
		}
		d.ToCreate = append(d.ToCreate, Routed{Task: c.t, CalendarID: calID})
	}

	return d
}

// assign classifies a matched pair into the diff buckets, applying the
// reroute check and the severed-record carve-out.
func (d *Diff) assign(c *candidate, rec state.SyncRecord, outcome MatchOutcome, pol policy.SyncPolicy) {
	carried := carryForward(rec, c.t)

	if rec.Severed {
		if c.hash == rec.ContentHash {
			// Unchanged since severance: stays out of tracking.
			d.Carried = append(d.Carried, carried)
			return
		}
		// Content changed after severance: the pair re-enters
		// tracking and syncs like any other edit.
		carried.Severed = false
	}

	pair := Pair{Task: c.t, Record: carried, Outcome: outcome}

	if c.t.Completed {
		// Hash equality means the completion was already applied
		// remotely (markComplete mode); nothing left to do.
		if c.hash == rec.ContentHash {
			d.Unchanged = append(d.Unchanged, pair)
			return
		}
		d.Completed = append(d.Completed, pair)
		return
	}

	calID, warn := pol.Route(c.t.Title, c.t.Tags)
	if warn != nil {
		d.Warnings = append(d.Warnings, *warn)
	}
	if calID != rec.CalendarID {
		d.ToReroute = append(d.ToReroute, Reroute{Pair: pair, TargetCalendarID: calID})
		return
	}

	if c.hash == rec.ContentHash && !rec.Severed {
		d.Unchanged = append(d.Unchanged, pair)
	} else {
		d.ToUpdate = append(d.ToUpdate, pair)
	}
}

// carryForward refreshes a record's identity and matching hints from
// the task it matched. EventID, CalendarID and ContentHash survive;
// the hash is only replaced after a successful remote write.
func carryForward(rec state.SyncRecord, t task.Task) state.SyncRecord {
	rec.TaskID = t.ID()
	rec.FilePath = t.FilePath
	rec.LineNumber = t.LineNumber
	rec.Title = t.Title
	rec.Date = t.Date
	rec.Time = t.Time
	return rec
}

func takeFirst(m map[contentKey][]*candidate, k contentKey, recurring bool) *candidate {
	for _, c := range m[k] {
		if c.matched {
			continue
		}
		if recurring && c.t.Completed {
			continue
		}
		return c
	}
	return nil
}

// successorCandidate reports whether t looks like the next instance of
// the recurring series rec tracks. Dates compare lexically in ISO form.
func successorCandidate(rec state.SyncRecord, t task.Task) bool {
	return rec.RecurrenceRule != "" && t.IsRecurring() &&
		titleKey(t.Title) == titleKey(rec.Title) &&
		t.Time == rec.Time &&
		t.Date > rec.Date
}

// completedInstance finds the checked-off line a recurring record still
// points at. Its presence means the series ended locally rather than
// being deleted, so the record must not become an orphan.
func completedInstance(cands []*candidate, rec state.SyncRecord) *candidate {
	for _, c := range cands {
		if c.matched || !c.t.Completed || c.t.FilePath != rec.FilePath {
			continue
		}
		if titleKey(c.t.Title) == titleKey(rec.Title) && c.t.Time == rec.Time {
			return c
		}
	}
	return nil
}

func findSuccessor(cands []*candidate, rec state.SyncRecord) *candidate {
	for _, c := range cands {
		if c.matched || c.t.Completed || c.t.FilePath != rec.FilePath {
			continue
		}
		if successorCandidate(rec, c.t) {
			return c
		}
	}
	return nil
}
