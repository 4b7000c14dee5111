package vault

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Annotation markers recognized on a task line.
const (
	markerDate       = "\U0001F4C5" // 📅
	markerTime       = "⏰"     // ⏰
	markerRecurrence = "\U0001F501" // 🔁
	markerDuration   = "⏳"     // ⏳
	markerReminder   = "\U0001F514" // 🔔
)

var (
	checkboxRe = regexp.MustCompile(`^\s*[-*]\s+\[([ xX])\]\s+(.*)$`)
	dateRe     = regexp.MustCompile(markerDate + `\s*(\d{4}-\d{2}-\d{2})`)
	timeRe     = regexp.MustCompile(markerTime + `\s*(\d{1,2}:\d{2})`)
	recurRe    = regexp.MustCompile(markerRecurrence + `\s*([^` + markerDate + markerTime + markerDuration + markerReminder + `#]+)`)
	durRe      = regexp.MustCompile(markerDuration + `\s*(\S+)`)
	remindRe   = regexp.MustCompile(markerReminder + `\s*(\S+)`)
	tagRe      = regexp.MustCompile(`#([\p{L}\p{N}_/-]+)`)

	everyNRe = regexp.MustCompile(`^every\s+(\d+)\s+(day|week|month|year)s?$`)
)

// parsedLine is one recognized task line before model conversion.
type parsedLine struct {
	title      string
	date       string
	timeOfDay  string
	tags       []string
	completed  bool
	recurrence string
	duration   int
	reminders  []int
	raw        string
}

// parseLine recognizes a checkbox task line carrying a date marker.
// Lines without the marker are not schedulable and return ok=false.
func parseLine(line string) (parsedLine, bool, error) {
	m := checkboxRe.FindStringSubmatch(line)
	if m == nil {
		return parsedLine{}, false, nil
	}
	body := m[2]

	dm := dateRe.FindStringSubmatch(body)
	if dm == nil {
		return parsedLine{}, false, nil
	}
	if _, err := time.Parse("2006-01-02", dm[1]); err != nil {
		return parsedLine{}, false, fmt.Errorf("invalid date %q: %w", dm[1], err)
	}

	p := parsedLine{
		date:      dm[1],
		completed: m[1] != " ",
		raw:       strings.TrimSpace(line),
	}

	if tm := timeRe.FindStringSubmatch(body); tm != nil {
		hm, err := time.Parse("15:04", pad(tm[1]))
		if err != nil {
			return parsedLine{}, false, fmt.Errorf("invalid time %q: %w", tm[1], err)
		}
		p.timeOfDay = hm.Format("15:04")
	}

	if rm := recurRe.FindStringSubmatch(body); rm != nil {
		p.recurrence = normalizeRecurrence(strings.TrimSpace(rm[1]))
	}

	if dm := durRe.FindStringSubmatch(body); dm != nil {
		mins, err := parseMinutes(dm[1])
		if err != nil {
			return parsedLine{}, false, fmt.Errorf("invalid duration %q: %w", dm[1], err)
		}
		p.duration = mins
	}

	for _, rm := range remindRe.FindAllStringSubmatch(body, -1) {
		mins, err := parseMinutes(rm[1])
		if err != nil {
			return parsedLine{}, false, fmt.Errorf("invalid reminder %q: %w", rm[1], err)
		}
		p.reminders = append(p.reminders, mins)
	}

	for _, tm := range tagRe.FindAllStringSubmatch(body, -1) {
		p.tags = append(p.tags, tm[1])
	}

	p.title = extractTitle(body)
	if p.title == "" {
		return parsedLine{}, false, nil
	}
	return p, true, nil
}

// extractTitle strips every annotation and tag, leaving the task text.
func extractTitle(body string) string {
	cut := len(body)
	for _, marker := range []string{markerDate, markerTime, markerRecurrence, markerDuration, markerReminder} {
		if i := strings.Index(body, marker); i >= 0 && i < cut {
			cut = i
		}
	}
	title := body[:cut]
	title = tagRe.ReplaceAllString(title, "")
	return strings.Join(strings.Fields(title), " ")
}

// pad turns "9:30" into "09:30" so a single layout parses both forms.
func pad(hm string) string {
	if len(hm) == 4 {
		return "0" + hm
	}
	return hm
}

// parseMinutes accepts "15m", "1h30m", or a bare integer of minutes.
func parseMinutes(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative minutes")
		}
		return n, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration")
	}
	return int(d / time.Minute), nil
}

// normalizeRecurrence converts the human recurrence phrasing into an
// RRULE. Already-explicit rules pass through; phrases that cannot be
// mapped are carried verbatim so a rule change is still detectable.
func normalizeRecurrence(text string) string {
	rule := strings.TrimPrefix(text, "RRULE:")
	if strings.HasPrefix(strings.ToUpper(rule), "FREQ=") {
		return strings.ToUpper(rule)
	}

	phrase := strings.ToLower(strings.Join(strings.Fields(text), " "))
	switch phrase {
	case "every day", "daily":
		return "FREQ=DAILY"
	case "every week", "weekly":
		return "FREQ=WEEKLY"
	case "every month", "monthly":
		return "FREQ=MONTHLY"
	case "every year", "yearly", "annually":
		return "FREQ=YEARLY"
	case "every weekday":
		return "FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR"
	}
	if m := everyNRe.FindStringSubmatch(phrase); m != nil {
		freq := map[string]string{
			"day":   "DAILY",
			"week":  "WEEKLY",
			"month": "MONTHLY",
			"year":  "YEARLY",
		}[m[2]]
		return "FREQ=" + freq + ";INTERVAL=" + m[1]
	}
	return text
}
