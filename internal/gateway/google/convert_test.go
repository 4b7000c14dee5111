package google

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"

	"github.com/wrenware/taskmirror/internal/gateway"
	"github.com/wrenware/taskmirror/internal/task"
)

func TestEventFromSpec_Timed(t *testing.T) {
	spec := gateway.CreateSpec{
		Task: task.Task{
			Title:    "Call Mom",
			Date:     "2026-01-15",
			Time:     "14:00",
			Tags:     []string{"family"},
			FilePath: "daily.md",
		},
		CalendarID:      "primary",
		DurationMinutes: 45,
		ReminderMinutes: []int{10},
		TimeZone:        "UTC",
	}
	ev, err := eventFromSpec(spec)
	require.NoError(t, err)

	assert.Equal(t, "Call Mom", ev.Summary)
	assert.Equal(t, "#family", ev.Description)
	assert.Equal(t, "2026-01-15T14:00:00Z", ev.Start.DateTime)
	assert.Equal(t, "2026-01-15T14:45:00Z", ev.End.DateTime)
	require.NotNil(t, ev.Reminders)
	assert.False(t, ev.Reminders.UseDefault)
	require.Len(t, ev.Reminders.Overrides, 1)
	assert.Equal(t, int64(10), ev.Reminders.Overrides[0].Minutes)
	assert.NotEmpty(t, ev.ExtendedProperties.Private[taskKeyProperty])
}

func TestEventFromSpec_AllDay(t *testing.T) {
	spec := gateway.CreateSpec{
		Task:       task.Task{Title: "Trip", Date: "2026-03-01", IsAllDay: true},
		CalendarID: "primary",
		TimeZone:   "UTC",
	}
	ev, err := eventFromSpec(spec)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", ev.Start.Date)
	assert.Equal(t, "2026-03-02", ev.End.Date, "all-day end date is exclusive")
	assert.Empty(t, ev.Start.DateTime)
}

func TestEventFromSpec_Recurrence(t *testing.T) {
	spec := gateway.CreateSpec{
		Task: task.Task{
			Title:          "Standup",
			Date:           "2026-01-05",
			Time:           "09:30",
			RecurrenceRule: "FREQ=WEEKLY;BYDAY=MO",
		},
		CalendarID: "primary",
		TimeZone:   "UTC",
	}
	ev, err := eventFromSpec(spec)
	require.NoError(t, err)
	require.Len(t, ev.Recurrence, 1)
	assert.Equal(t, "RRULE:FREQ=WEEKLY;BYDAY=MO", ev.Recurrence[0])
}

func TestPatchFromPayload_OnlySetFields(t *testing.T) {
	title := "New title"
	patch := patchFromPayload(gateway.EventPayload{Title: &title})

	assert.Equal(t, "New title", patch.Summary)
	assert.Nil(t, patch.Start, "unset time must not be sent")
	assert.Nil(t, patch.Reminders)
	assert.Nil(t, patch.Recurrence)
}

func TestPatchFromPayload_TimeChange(t *testing.T) {
	start := time.Date(2026, 1, 15, 15, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	patch := patchFromPayload(gateway.EventPayload{Start: &start, End: &end})

	assert.Equal(t, "2026-01-15T15:00:00Z", patch.Start.DateTime)
	assert.Equal(t, "2026-01-15T15:30:00Z", patch.End.DateTime)
	assert.Empty(t, patch.Summary)
}

func TestSnapshotFromEvent(t *testing.T) {
	ev := &calendar.Event{
		Id:      "E1",
		Summary: "Call Mom",
		Start:   &calendar.EventDateTime{DateTime: "2026-01-15T14:00:00Z"},
		End:     &calendar.EventDateTime{DateTime: "2026-01-15T14:30:00Z"},
		Attendees: []*calendar.EventAttendee{
			{Email: "me@example.com", Self: true},
			{Email: "mom@example.com"},
		},
		Attachments: []*calendar.EventAttachment{{FileUrl: "https://example.com/f"}},
	}
	snap := snapshotFromEvent("primary", ev)

	assert.Equal(t, "E1", snap.ID)
	assert.Equal(t, "primary", snap.CalendarID)
	assert.Equal(t, 14, snap.Start.Hour())
	assert.False(t, snap.AllDay)
	assert.Equal(t, 1, snap.AttendeeCount, "self is not counted")
	assert.True(t, snap.HasAttachments)
}

func TestSnapshotFromEvent_AllDay(t *testing.T) {
	ev := &calendar.Event{
		Id:    "E2",
		Start: &calendar.EventDateTime{Date: "2026-03-01"},
		End:   &calendar.EventDateTime{Date: "2026-03-02"},
	}
	snap := snapshotFromEvent("primary", ev)
	assert.True(t, snap.AllDay)
	assert.Equal(t, "2026-03-01", snap.Start.Format("2006-01-02"))
}
