package engine

import (
	"errors"
	"fmt"

	"github.com/wrenware/taskmirror/internal/gateway"
)

// ErrCycleInFlight is returned when a sync cycle is requested while
// one is already running. Callers coalesce the trigger and re-fire
// after the running cycle finishes.
var ErrCycleInFlight = errors.New("sync cycle already in flight")

// CycleError wraps a failure that aborted a sync cycle. Only
// authorization failures and internal bugs abort a cycle; transient
// and drift conditions are absorbed by the queues.
type CycleError struct {
	Class gateway.Class
	Stage string // "retry", "snapshot", "execute", "severance", "persist"
	Err   error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("sync cycle aborted at %s: %s: %v", e.Stage, e.Class, e.Err)
}

func (e *CycleError) Unwrap() error { return e.Err }

// IsAuthError reports whether the error chain carries an authorization
// failure. The CLI maps this to "run `taskmirror auth` again".
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce.Class == gateway.ClassAuthorization
	}
	return gateway.Classify(err) == gateway.ClassAuthorization
}

func abort(stage string, err error) *CycleError {
	return &CycleError{Class: gateway.Classify(err), Stage: stage, Err: err}
}
