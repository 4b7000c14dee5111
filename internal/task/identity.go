package task

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for derived identity. The version suffix leaves room
// for an algorithm migration without colliding with old records.
const (
	domainID      = "taskmirror/task/v1"
	domainContent = "taskmirror/content/v1"
)

// ID derives the task's identity key from content and location.
//
// The key is deliberately unstable: editing the title, moving the line,
// or renaming the file all produce a new ID. The reconciliation passes
// in internal/engine recover the old record in those cases; the ID
// only has to be collision-resistant within one snapshot.
func (t *Task) ID() string {
	return hashFields(domainID,
		normTitle(t.Title),
		t.Date,
		t.Time,
		t.FilePath,
		strconv.Itoa(t.LineNumber),
	)
}

// ContentHash digests the fields that define "this task changed":
// title, date, time, tags, duration, reminders, recurrence and
// completion state. Location is excluded so a pure move hashes equal
// and pass 2 can classify it as unchanged.
func (t *Task) ContentHash() string {
	reminders := make([]string, len(t.ReminderMinutes))
	for i, m := range t.ReminderMinutes {
		reminders[i] = strconv.Itoa(m)
	}
	return hashFields(domainContent,
		normTitle(t.Title),
		t.Date,
		t.Time,
		strings.Join(t.Tags, ","),
		strconv.Itoa(t.DurationMinutes),
		strings.Join(reminders, ","),
		strings.TrimSpace(t.RecurrenceRule),
		strconv.FormatBool(t.Completed),
	)
}

// normTitle applies NFC normalization and trims surrounding space so
// that editors which re-encode combining characters do not break
// identity.
func normTitle(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// hashFields computes SHA-256 with domain separation. Fields are
// joined with a null byte so field boundaries are unambiguous.
func hashFields(domain string, fields ...string) string {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, f := range fields {
		h.Write([]byte{0x00})
		h.Write([]byte(f))
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
