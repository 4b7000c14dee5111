package google

import (
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/wrenware/taskmirror/internal/gateway"
)

// taskKeyProperty is the private extended property linking a remote
// event back to the task that created it. Purely diagnostic; the sync
// state, not this property, is the authoritative mapping.
const taskKeyProperty = "taskmirror_id"

// eventFromSpec converts a create spec into the API payload.
func eventFromSpec(spec gateway.CreateSpec) (*calendar.Event, error) {
	t := spec.Task

	loc := time.Local
	if spec.TimeZone != "" && spec.TimeZone != "Local" {
		var err error
		loc, err = time.LoadLocation(spec.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("load time zone %q: %w", spec.TimeZone, err)
		}
	}

	ev := &calendar.Event{
		Summary: t.Title,
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{taskKeyProperty: t.ID()},
		},
	}

	if len(t.Tags) > 0 {
		ev.Description = "#" + strings.Join(t.Tags, " #")
	}

	if t.Time == "" {
		// All-day events use date-only boundaries; the end date is
		// exclusive per the Calendar API.
		start, err := time.ParseInLocation("2006-01-02", t.Date, loc)
		if err != nil {
			return nil, fmt.Errorf("parse task date %q: %w", t.Date, err)
		}
		ev.Start = &calendar.EventDateTime{Date: t.Date}
		ev.End = &calendar.EventDateTime{Date: start.AddDate(0, 0, 1).Format("2006-01-02")}
	} else {
		start, err := t.StartTime(loc)
		if err != nil {
			return nil, fmt.Errorf("parse task start: %w", err)
		}
		minutes := spec.DurationMinutes
		if minutes <= 0 {
			minutes = 30
		}
		end := start.Add(time.Duration(minutes) * time.Minute)
		ev.Start = &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: loc.String()}
		ev.End = &calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: loc.String()}
	}

	if rule := strings.TrimSpace(t.RecurrenceRule); rule != "" {
		ev.Recurrence = []string{normalizeRRule(rule)}
	}

	if len(spec.ReminderMinutes) > 0 {
		overrides := make([]*calendar.EventReminder, 0, len(spec.ReminderMinutes))
		for _, m := range spec.ReminderMinutes {
			overrides = append(overrides, &calendar.EventReminder{
				Method:  "popup",
				Minutes: int64(m),
			})
		}
		ev.Reminders = &calendar.EventReminders{
			UseDefault:      false,
			Overrides:       overrides,
			ForceSendFields: []string{"UseDefault"},
		}
	}

	return ev, nil
}

// patchFromPayload builds the partial event for Events.Patch. Only the
// set pointer fields are sent; everything else on the remote event is
// left alone, which is what preserves user-authored content.
func patchFromPayload(p gateway.EventPayload) *calendar.Event {
	patch := &calendar.Event{}
	if p.Title != nil {
		patch.Summary = *p.Title
		if *p.Title == "" {
			patch.ForceSendFields = append(patch.ForceSendFields, "Summary")
		}
	}
	if p.Start != nil && p.End != nil {
		if p.AllDay != nil && *p.AllDay {
			patch.Start = &calendar.EventDateTime{Date: p.Start.Format("2006-01-02")}
			patch.End = &calendar.EventDateTime{Date: p.End.Format("2006-01-02")}
		} else {
			patch.Start = &calendar.EventDateTime{DateTime: p.Start.Format(time.RFC3339)}
			patch.End = &calendar.EventDateTime{DateTime: p.End.Format(time.RFC3339)}
		}
	}
	if p.Recurrence != nil {
		rules := make([]string, 0, len(p.Recurrence))
		for _, r := range p.Recurrence {
			rules = append(rules, normalizeRRule(r))
		}
		patch.Recurrence = rules
		if len(rules) == 0 {
			patch.ForceSendFields = append(patch.ForceSendFields, "Recurrence")
		}
	}
	if p.Reminders != nil {
		overrides := make([]*calendar.EventReminder, 0, len(p.Reminders))
		for _, m := range p.Reminders {
			overrides = append(overrides, &calendar.EventReminder{Method: "popup", Minutes: int64(m)})
		}
		patch.Reminders = &calendar.EventReminders{
			UseDefault:      false,
			Overrides:       overrides,
			ForceSendFields: []string{"UseDefault"},
		}
	}
	if p.ColorID != nil {
		patch.ColorId = *p.ColorID
	}
	return patch
}

// snapshotFromEvent converts an API event into the provider-neutral
// snapshot the engine works with.
func snapshotFromEvent(calendarID string, ev *calendar.Event) *gateway.EventSnapshot {
	snap := &gateway.EventSnapshot{
		ID:             ev.Id,
		CalendarID:     calendarID,
		Title:          ev.Summary,
		Description:    ev.Description,
		Recurrence:     ev.Recurrence,
		HasAttachments: len(ev.Attachments) > 0,
	}
	for _, a := range ev.Attendees {
		if a != nil && !a.Self {
			snap.AttendeeCount++
		}
	}
	if ev.Start != nil {
		if ev.Start.Date != "" {
			snap.AllDay = true
			if ts, err := time.Parse("2006-01-02", ev.Start.Date); err == nil {
				snap.Start = ts
			}
		} else if ts, err := time.Parse(time.RFC3339, ev.Start.DateTime); err == nil {
			snap.Start = ts
		}
	}
	if ev.End != nil {
		if ev.End.Date != "" {
			if ts, err := time.Parse("2006-01-02", ev.End.Date); err == nil {
				snap.End = ts
			}
		} else if ts, err := time.Parse(time.RFC3339, ev.End.DateTime); err == nil {
			snap.End = ts
		}
	}
	return snap
}

func normalizeRRule(rule string) string {
	if strings.HasPrefix(rule, "RRULE:") {
		return rule
	}
	return "RRULE:" + rule
}
