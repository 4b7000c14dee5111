package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
vault_dir: /home/u/vault
state_path: /home/u/.local/share/taskmirror/state.db
default_calendar: primary
tag_routes:
  work: cal-work
  family: cal-personal
completion: markComplete
routing: preserve
drift: ask
safety_net: true
strict_time: false
`

func TestParse_Valid(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, CompletionMark, p.Completion)
	assert.Equal(t, RoutingPreserve, p.Routing)
	assert.Equal(t, DriftAsk, p.Drift)
	assert.True(t, p.SafetyNet)
	assert.Equal(t, "primary", p.DefaultCalendarID)
	assert.Equal(t, 30, p.DefaultDurationMinutes) // default applied
}

func TestParse_RejectsBadEnum(t *testing.T) {
	bad := `
vault_dir: /v
state_path: /s.db
default_calendar: primary
completion: obliterate
routing: preserve
drift: ask
safety_net: true
strict_time: false
`
	_, err := Parse([]byte(bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestParse_RequiresVaultDir(t *testing.T) {
	bad := `
state_path: /s.db
default_calendar: primary
`
	_, err := Parse([]byte(bad))
	require.Error(t, err)
}

func TestParse_RejectsAbsurdDuration(t *testing.T) {
	bad := validYAML + "default_duration_minutes: 4000\n"
	_, err := Parse([]byte(bad))
	require.Error(t, err)
}

func TestRoute_SingleTag(t *testing.T) {
	p := SyncPolicy{
		DefaultCalendarID: "primary",
		TagRoutes:         map[string]string{"work": "cal-work"},
	}
	cal, warn := p.Route("Ship report", []string{"work"})
	assert.Equal(t, "cal-work", cal)
	assert.Nil(t, warn)
}

func TestRoute_NoTagsFallsBack(t *testing.T) {
	p := SyncPolicy{DefaultCalendarID: "primary"}
	cal, warn := p.Route("Untagged", nil)
	assert.Equal(t, "primary", cal)
	assert.Nil(t, warn)
}

func TestRoute_AmbiguousFallsBackWithWarning(t *testing.T) {
	p := SyncPolicy{
		DefaultCalendarID: "primary",
		TagRoutes: map[string]string{
			"work":   "cal-work",
			"family": "cal-personal",
		},
	}
	cal, warn := p.Route("Mixed", []string{"work", "family"})
	assert.Equal(t, "primary", cal)
	require.NotNil(t, warn)
	assert.ElementsMatch(t, []string{"cal-work", "cal-personal"}, warn.Calendars)
}

func TestRoute_SameCalendarTwiceIsNotAmbiguous(t *testing.T) {
	p := SyncPolicy{
		DefaultCalendarID: "primary",
		TagRoutes: map[string]string{
			"work": "cal-work",
			"job":  "cal-work",
		},
	}
	cal, warn := p.Route("Doubly routed", []string{"work", "job"})
	assert.Equal(t, "cal-work", cal)
	assert.Nil(t, warn)
}

func TestPolicyValidate(t *testing.T) {
	p := SyncPolicy{
		Completion:             CompletionDelete,
		Routing:                RoutingKeepBoth,
		Drift:                  DriftRecreate,
		DefaultCalendarID:      "primary",
		DefaultDurationMinutes: 30,
	}
	require.NoError(t, p.Validate())

	p.DefaultCalendarID = ""
	require.Error(t, p.Validate())
}
