package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "bad flag", nil)))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitFailure, "inner", errors.New("cause")))
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
}

func TestExitError_Unwrap(t *testing.T) {
	cause := errors.New("token expired")
	err := WrapExitError(ExitCommandError, "not authenticated", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "not authenticated: token expired", err.Error())

	bare := WrapExitError(ExitFailure, "sync cycle failed", nil)
	assert.Equal(t, "sync cycle failed", bare.Error())
}

func TestFormatter_EmitJSON(t *testing.T) {
	var buf bytes.Buffer
	f := &Formatter{Format: "json", Writer: &buf}

	err := f.Emit(map[string]int{"created": 3}, func(io.Writer) {
		t.Fatal("text renderer must not run in json mode")
	})
	require.NoError(t, err)

	var got response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "ok", got.Status)
	assert.Empty(t, got.Error)
}

func TestFormatter_EmitText(t *testing.T) {
	var buf bytes.Buffer
	f := &Formatter{Format: "text", Writer: &buf}

	err := f.Emit(nil, func(w io.Writer) { fmt.Fprintln(w, "hello") })
	require.NoError(t, err)
	assert.Equal(t, "hello\n", buf.String())
}

func TestFormatter_Fail(t *testing.T) {
	var buf bytes.Buffer
	f := &Formatter{Format: "json", Writer: &buf}

	err := f.Fail(ExitFailure, "loading state", errors.New("disk io"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var got response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "error", got.Status)
	assert.Equal(t, "loading state: disk io", got.Error)

	// Text mode writes nothing; the error surfaces through the exit path.
	buf.Reset()
	f.Format = "text"
	err = f.Fail(ExitCommandError, "bad id", nil)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Empty(t, buf.String())
}
