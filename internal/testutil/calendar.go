package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/wrenware/taskmirror/internal/gateway"
)

// FakeCalendar is an in-memory gateway.Calendar. Events live in nested
// maps keyed by calendar then event id. Failures are injected per
// operation kind, optionally scoped to a single event id.
//
// Thread-safe: all methods lock the internal mutex.
type FakeCalendar struct {
	mu     sync.Mutex
	events map[string]map[string]gateway.EventSnapshot
	nextID int

	// Fail maps "kind" or "kind:eventID" to a persistent error.
	Fail map[string]error

	// FailOnce is like Fail but each entry fires a single time.
	FailOnce map[string]error

	// BatchErrs are consumed one per ExecuteBatch call; a nil entry
	// means that call proceeds normally.
	BatchErrs []error

	// Calendars is returned by ListCalendars.
	Calendars []gateway.CalendarInfo

	// Calls records every operation kind executed, in order.
	Calls []string
}

// NewFakeCalendar creates an empty fake.
func NewFakeCalendar() *FakeCalendar {
	return &FakeCalendar{
		events:   make(map[string]map[string]gateway.EventSnapshot),
		Fail:     make(map[string]error),
		FailOnce: make(map[string]error),
	}
}

// Seed inserts an event directly, returning its id.
func (f *FakeCalendar) Seed(calendarID string, snap gateway.EventSnapshot) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if snap.ID == "" {
		f.nextID++
		snap.ID = fmt.Sprintf("evt-%d", f.nextID)
	}
	snap.CalendarID = calendarID
	f.put(snap)
	return snap.ID
}

// Event returns a stored event and whether it exists.
func (f *FakeCalendar) Event(calendarID, eventID string) (gateway.EventSnapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.events[calendarID][eventID]
	return snap, ok
}

// EventCount returns the number of events on one calendar.
func (f *FakeCalendar) EventCount(calendarID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events[calendarID])
}

// TotalEvents returns the number of events across all calendars.
func (f *FakeCalendar) TotalEvents() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, cal := range f.events {
		n += len(cal)
	}
	return n
}

func (f *FakeCalendar) put(snap gateway.EventSnapshot) {
	cal, ok := f.events[snap.CalendarID]
	if !ok {
		cal = make(map[string]gateway.EventSnapshot)
		f.events[snap.CalendarID] = cal
	}
	cal[snap.ID] = snap
}

// failure checks the injection maps, most specific key first.
func (f *FakeCalendar) failure(kind, eventID string) error {
	for _, key := range []string{kind + ":" + eventID, kind} {
		if err, ok := f.FailOnce[key]; ok {
			delete(f.FailOnce, key)
			return err
		}
		if err, ok := f.Fail[key]; ok {
			return err
		}
	}
	return nil
}

func notFound(kind, eventID string) error {
	return gateway.NewStatusError(kind, http.StatusNotFound, "event "+eventID+" not found")
}

func (f *FakeCalendar) CreateEvent(_ context.Context, spec gateway.CreateSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createLocked(spec)
}

func (f *FakeCalendar) createLocked(spec gateway.CreateSpec) (string, error) {
	f.Calls = append(f.Calls, "create")
	if err := f.failure("create", ""); err != nil {
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("evt-%d", f.nextID)

	loc := time.UTC
	if spec.TimeZone != "" {
		if l, err := time.LoadLocation(spec.TimeZone); err == nil {
			loc = l
		}
	}
	start, _ := spec.Task.StartTime(loc)
	allDay := spec.Task.Time == ""
	end := start.Add(time.Duration(spec.DurationMinutes) * time.Minute)
	if allDay {
		end = start.AddDate(0, 0, 1)
	}

	snap := gateway.EventSnapshot{
		ID:         id,
		CalendarID: spec.CalendarID,
		Title:      spec.Task.Title,
		Start:      start,
		End:        end,
		AllDay:     allDay,
	}
	if spec.Task.RecurrenceRule != "" {
		snap.Recurrence = []string{spec.Task.RecurrenceRule}
	}
	f.put(snap)
	return id, nil
}

func (f *FakeCalendar) UpdateEvent(_ context.Context, calendarID, eventID string, payload gateway.EventPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updateLocked("update", calendarID, eventID, payload)
}

func (f *FakeCalendar) updateLocked(kind, calendarID, eventID string, payload gateway.EventPayload) error {
	f.Calls = append(f.Calls, kind)
	if err := f.failure(kind, eventID); err != nil {
		return err
	}
	snap, ok := f.events[calendarID][eventID]
	if !ok {
		return notFound(kind, eventID)
	}
	if payload.Title != nil {
		snap.Title = *payload.Title
	}
	if payload.Start != nil {
		snap.Start = *payload.Start
	}
	if payload.End != nil {
		snap.End = *payload.End
	}
	if payload.AllDay != nil {
		snap.AllDay = *payload.AllDay
	}
	if payload.Recurrence != nil {
		snap.Recurrence = payload.Recurrence
	}
	f.events[calendarID][eventID] = snap
	return nil
}

func (f *FakeCalendar) DeleteEvent(_ context.Context, calendarID, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteLocked(calendarID, eventID)
}

func (f *FakeCalendar) deleteLocked(calendarID, eventID string) error {
	f.Calls = append(f.Calls, "delete")
	if err := f.failure("delete", eventID); err != nil {
		return err
	}
	if _, ok := f.events[calendarID][eventID]; !ok {
		return notFound("delete", eventID)
	}
	delete(f.events[calendarID], eventID)
	return nil
}

func (f *FakeCalendar) MoveEvent(_ context.Context, fromCalendarID, eventID, toCalendarID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.moveLocked(fromCalendarID, eventID, toCalendarID)
}

func (f *FakeCalendar) moveLocked(fromCalendarID, eventID, toCalendarID string) (string, error) {
	f.Calls = append(f.Calls, "move")
	if err := f.failure("move", eventID); err != nil {
		return "", err
	}
	snap, ok := f.events[fromCalendarID][eventID]
	if !ok {
		return "", notFound("move", eventID)
	}
	delete(f.events[fromCalendarID], eventID)
	snap.CalendarID = toCalendarID
	f.put(snap)
	return eventID, nil
}

func (f *FakeCalendar) GetEvent(_ context.Context, calendarID, eventID string) (*gateway.EventSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getLocked(calendarID, eventID)
}

func (f *FakeCalendar) getLocked(calendarID, eventID string) (*gateway.EventSnapshot, error) {
	f.Calls = append(f.Calls, "get")
	if err := f.failure("get", eventID); err != nil {
		return nil, err
	}
	snap, ok := f.events[calendarID][eventID]
	if !ok {
		return nil, notFound("get", eventID)
	}
	out := snap
	return &out, nil
}

func (f *FakeCalendar) ListCalendars(_ context.Context) ([]gateway.CalendarInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "list")
	if err := f.failure("list", ""); err != nil {
		return nil, err
	}
	return append([]gateway.CalendarInfo(nil), f.Calendars...), nil
}

// ExecuteBatch runs each operation sequentially against the in-memory
// store, mirroring the per-op result shape of the real implementation.
func (f *FakeCalendar) ExecuteBatch(_ context.Context, ops []gateway.Operation) (*gateway.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.BatchErrs) > 0 {
		err := f.BatchErrs[0]
		f.BatchErrs = f.BatchErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	cal := ""
	for _, op := range ops {
		if cal == "" {
			cal = op.Calendar()
		} else if op.Calendar() != cal {
			return nil, gateway.ErrMixedBatch
		}
	}

	res := &gateway.BatchResult{}
	for i, op := range ops {
		r := gateway.OpResult{Index: i}
		var err error
		switch o := op.(type) {
		case gateway.CreateOp:
			r.EventID, err = f.createLocked(o.Spec)
		case gateway.UpdateOp:
			err = f.updateLocked("update", o.CalendarID, o.EventID, o.Payload)
		case gateway.CompleteOp:
			err = f.updateLocked("complete", o.CalendarID, o.EventID, o.Payload)
		case gateway.DeleteOp:
			err = f.deleteLocked(o.CalendarID, o.EventID)
		case gateway.MoveOp:
			r.EventID, err = f.moveLocked(o.FromCalendarID, o.EventID, o.ToCalendarID)
		case gateway.GetOp:
			r.Snapshot, err = f.getLocked(o.CalendarID, o.EventID)
		}
		if err != nil {
			r.Err = err
			if status, ok := gateway.StatusOf(err); ok {
				r.Status = status
			}
		} else {
			r.Success = true
			r.Status = http.StatusOK
		}
		res.Results = append(res.Results, r)
	}
	return res, nil
}
