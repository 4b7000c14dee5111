package gateway

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
)

// Class buckets a remote failure for the engine's handling rules.
type Class string

const (
	// ClassTransient: network failures, timeouts, 429, 5xx. Retried
	// through the pending-operation queue up to the retry ceiling.
	ClassTransient Class = "transient"
	// ClassDrift: 404/410 on a resource we expected to exist. Never a
	// failure; routed to the severance handler or re-create logic.
	ClassDrift Class = "drift"
	// ClassAuthorization: 401/403. Aborts the cycle; requires
	// re-authentication.
	ClassAuthorization Class = "authorization"
	// ClassStructural: malformed batch, mixed-calendar group. Bug
	// class; the whole batch is requeued, never partially trusted.
	ClassStructural Class = "structural"
)

// StatusError is a provider-independent HTTP-status failure. The
// google implementation converts googleapi errors into it; fakes
// construct it directly.
type StatusError struct {
	Status int
	Op     string
	Msg    string
}

func (e *StatusError) Error() string {
	if e.Msg != "" {
		return e.Op + ": " + e.Msg
	}
	return e.Op + ": remote returned " + http.StatusText(e.Status)
}

// NewStatusError builds a StatusError.
func NewStatusError(op string, status int, msg string) *StatusError {
	return &StatusError{Status: status, Op: op, Msg: msg}
}

// ErrMixedBatch is returned when a batch group targets more than one
// calendar. Always structural.
var ErrMixedBatch = errors.New("batch contains operations for more than one calendar")

// StatusOf extracts an HTTP status from an error chain. Covers both
// our StatusError and googleapi.Error. ok is false for plain transport
// errors (treated as transient).
func StatusOf(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status, true
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return ge.Code, true
	}
	return 0, false
}

// Classify maps an error to the handling taxonomy. A nil error has no
// class; callers must check first.
func Classify(err error) Class {
	if errors.Is(err, ErrMixedBatch) {
		return ClassStructural
	}
	status, ok := StatusOf(err)
	if !ok {
		// No HTTP status means the request never completed: network
		// failure or timeout.
		return ClassTransient
	}
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return ClassDrift
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuthorization
	case status == http.StatusTooManyRequests:
		return ClassTransient
	case status >= 500:
		return ClassTransient
	default:
		return ClassStructural
	}
}

// IsNotFound reports whether the error is a 404/410 on the target.
func IsNotFound(err error) bool {
	status, ok := StatusOf(err)
	return ok && (status == http.StatusNotFound || status == http.StatusGone)
}
