// Package google implements the gateway.Calendar contract against the
// Google Calendar v3 API.
package google

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/wrenware/taskmirror/internal/auth"
	"github.com/wrenware/taskmirror/internal/gateway"
)

// Client is the production gateway. All methods go through the Events
// and CalendarList services of calendar/v3.
type Client struct {
	srv *calendar.Service
}

var _ gateway.Calendar = (*Client)(nil)

// New builds an authenticated client, running the OAuth flow when no
// token is stored.
func New(ctx context.Context) (*Client, error) {
	httpClient, err := auth.Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	return NewWithHTTPClient(ctx, httpClient)
}

// NewWithHTTPClient builds a client over an existing HTTP client.
func NewWithHTTPClient(ctx context.Context, httpClient *http.Client) (*Client, error) {
	srv, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &Client{srv: srv}, nil
}

// CreateEvent inserts a new event and returns its remote ID.
func (c *Client) CreateEvent(ctx context.Context, spec gateway.CreateSpec) (string, error) {
	ev, err := eventFromSpec(spec)
	if err != nil {
		return "", err
	}
	created, err := c.srv.Events.Insert(spec.CalendarID, ev).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return created.Id, nil
}

// UpdateEvent applies a partial patch. Fields absent from the payload
// are untouched remotely.
func (c *Client) UpdateEvent(ctx context.Context, calendarID, eventID string, payload gateway.EventPayload) error {
	patch := patchFromPayload(payload)
	if _, err := c.srv.Events.Patch(calendarID, eventID, patch).Context(ctx).Do(); err != nil {
		return fmt.Errorf("patch event %s: %w", eventID, err)
	}
	return nil
}

// DeleteEvent removes an event. A 404/410 surfaces as-is so callers
// can classify it as drift.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if err := c.srv.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}
	return nil
}

// MoveEvent relocates an event to another calendar.
func (c *Client) MoveEvent(ctx context.Context, fromCalendarID, eventID, toCalendarID string) (string, error) {
	moved, err := c.srv.Events.Move(fromCalendarID, eventID, toCalendarID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("move event %s: %w", eventID, err)
	}
	return moved.Id, nil
}

// GetEvent fetches a snapshot of one event.
func (c *Client) GetEvent(ctx context.Context, calendarID, eventID string) (*gateway.EventSnapshot, error) {
	ev, err := c.srv.Events.Get(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", eventID, err)
	}
	return snapshotFromEvent(calendarID, ev), nil
}

// ListCalendars returns the user's calendar list.
func (c *Client) ListCalendars(ctx context.Context) ([]gateway.CalendarInfo, error) {
	list, err := c.srv.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	infos := make([]gateway.CalendarInfo, 0, len(list.Items))
	for _, item := range list.Items {
		infos = append(infos, gateway.CalendarInfo{
			ID:          item.Id,
			DisplayName: item.Summary,
			IsPrimary:   item.Primary,
			Color:       item.BackgroundColor,
		})
	}
	return infos, nil
}

// ExecuteBatch runs one calendar-homogeneous group of operations.
// Operations execute in submission order but the remote side gives no
// ordering guarantee between them, so callers must not rely on it.
func (c *Client) ExecuteBatch(ctx context.Context, ops []gateway.Operation) (*gateway.BatchResult, error) {
	if len(ops) == 0 {
		return &gateway.BatchResult{}, nil
	}
	calID := ops[0].Calendar()
	for _, op := range ops {
		if op.Calendar() != calID {
			return nil, gateway.ErrMixedBatch
		}
	}

	result := &gateway.BatchResult{Results: make([]gateway.OpResult, len(ops))}
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Results[i] = c.executeOne(ctx, i, op)
	}
	return result, nil
}

func (c *Client) executeOne(ctx context.Context, index int, op gateway.Operation) gateway.OpResult {
	res := gateway.OpResult{Index: index}
	var err error

	switch o := op.(type) {
	case gateway.CreateOp:
		res.EventID, err = c.CreateEvent(ctx, o.Spec)
	case gateway.UpdateOp:
		err = c.UpdateEvent(ctx, o.CalendarID, o.EventID, o.Payload)
	case gateway.CompleteOp:
		err = c.UpdateEvent(ctx, o.CalendarID, o.EventID, o.Payload)
	case gateway.DeleteOp:
		err = c.DeleteEvent(ctx, o.CalendarID, o.EventID)
	case gateway.MoveOp:
		res.EventID, err = c.MoveEvent(ctx, o.FromCalendarID, o.EventID, o.ToCalendarID)
	case gateway.GetOp:
		res.Snapshot, err = c.GetEvent(ctx, o.CalendarID, o.EventID)
	}

	if err != nil {
		res.Err = err
		if status, ok := gateway.StatusOf(err); ok {
			res.Status = status
		}
		return res
	}
	res.Success = true
	res.Status = 200
	return res
}
