package state

import (
	"encoding/json"
	"fmt"

	"github.com/wrenware/taskmirror/internal/gateway"
	"github.com/wrenware/taskmirror/internal/task"
)

// JSON columns hold optional snapshots (task payloads, event risk
// snapshots). NULL maps to nil on both sides.

func marshalTask(t *task.Task) (any, error) {
	if t == nil {
		return nil, nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal task snapshot: %w", err)
	}
	return string(data), nil
}

func unmarshalTask(data *string) (*task.Task, error) {
	if data == nil || *data == "" {
		return nil, nil
	}
	var t task.Task
	if err := json.Unmarshal([]byte(*data), &t); err != nil {
		return nil, fmt.Errorf("unmarshal task snapshot: %w", err)
	}
	return &t, nil
}

func marshalEvent(e *gateway.EventSnapshot) (any, error) {
	if e == nil {
		return nil, nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event snapshot: %w", err)
	}
	return string(data), nil
}

func unmarshalEvent(data *string) (*gateway.EventSnapshot, error) {
	if data == nil || *data == "" {
		return nil, nil
	}
	var e gateway.EventSnapshot
	if err := json.Unmarshal([]byte(*data), &e); err != nil {
		return nil, fmt.Errorf("unmarshal event snapshot: %w", err)
	}
	return &e, nil
}
