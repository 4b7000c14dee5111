package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Commands exit 0 on success, 1 when a cycle or resolution fails, and
// 2 when the invocation itself is wrong (bad flags, missing config,
// expired auth).
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
)

// ExitError pairs an error with the process status it should produce.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// WrapExitError tags err with the code main should exit with.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode walks the chain for an ExitError. Anything else counts
// as a plain failure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Formatter renders command output as text or JSON.
type Formatter struct {
	Format  string
	Writer  io.Writer
	Verbose bool
}

// response is the JSON envelope for machine-readable output.
type response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// JSON reports whether the machine-readable format is active.
func (f *Formatter) JSON() bool {
	return f.Format == "json"
}

// Emit writes data as the success payload (JSON mode) or via render
// (text mode).
func (f *Formatter) Emit(data any, render func(io.Writer)) error {
	if f.JSON() {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(response{Status: "ok", Data: data})
	}
	render(f.Writer)
	return nil
}

// Fail writes an error payload and returns an ExitError with code.
func (f *Formatter) Fail(code int, message string, err error) error {
	if f.JSON() {
		msg := message
		if err != nil {
			msg = fmt.Sprintf("%s: %v", message, err)
		}
		_ = json.NewEncoder(f.Writer).Encode(response{Status: "error", Error: msg})
	}
	return WrapExitError(code, message, err)
}
