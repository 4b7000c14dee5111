package policy

import (
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk YAML configuration. It carries the policy
// knobs plus the paths and intervals the CLI needs.
type Config struct {
	VaultDir     string   `yaml:"vault_dir" json:"vault_dir"`
	ExcludeGlobs []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
	StatePath    string   `yaml:"state_path" json:"state_path"`

	DefaultCalendar string            `yaml:"default_calendar" json:"default_calendar"`
	TagRoutes       map[string]string `yaml:"tag_routes,omitempty" json:"tag_routes,omitempty"`

	Completion string `yaml:"completion" json:"completion"`
	Routing    string `yaml:"routing" json:"routing"`
	Drift      string `yaml:"drift" json:"drift"`
	SafetyNet  bool   `yaml:"safety_net" json:"safety_net"`
	StrictTime bool   `yaml:"strict_time" json:"strict_time"`

	TimeZone               string `yaml:"time_zone,omitempty" json:"time_zone,omitempty"`
	DefaultDurationMinutes int    `yaml:"default_duration_minutes,omitempty" json:"default_duration_minutes,omitempty"`
	SyncIntervalMinutes    int    `yaml:"sync_interval_minutes,omitempty" json:"sync_interval_minutes,omitempty"`
}

// configSchema constrains the YAML document before it is trusted.
// Unified with the decoded config; any mismatch fails loading.
const configSchema = `
vault_dir:    string & !=""
state_path:   string & !=""
exclude?:     [...string]

default_calendar: string & !=""
tag_routes?:      {[string]: string & !=""}

completion: "delete" | "markComplete"
routing:    "preserve" | "keepBoth" | "freshStart"
drift:      "recreate" | "sever" | "ask"
safety_net: bool
strict_time: bool

time_zone?:                string
default_duration_minutes?: int & >0 & <=1440
sync_interval_minutes?:    int & >0
`

// Defaults applied before validation when the file omits a field.
func defaults() Config {
	return Config{
		Completion:             string(CompletionDelete),
		Routing:                string(RoutingPreserve),
		Drift:                  string(DriftAsk),
		SafetyNet:              true,
		StrictTime:             false,
		TimeZone:               "Local",
		DefaultDurationMinutes: 30,
		SyncIntervalMinutes:    15,
	}
}

// Load reads, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes YAML bytes into a validated Config.
func Parse(raw []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate unifies the config with the CUE schema. The schema catches
// typo'd enum values and malformed routes before the engine ever runs.
func validate(cfg Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(configSchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("internal: config schema: %w", err)
	}
	val := ctx.Encode(cfg)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Policy converts the file representation into the immutable value the
// engine consumes.
func (c *Config) Policy() (SyncPolicy, error) {
	p := SyncPolicy{
		Completion:             CompletionBehavior(c.Completion),
		Routing:                RoutingBehavior(c.Routing),
		Drift:                  DriftBehavior(c.Drift),
		SafetyNet:              c.SafetyNet,
		StrictTime:             c.StrictTime,
		DefaultCalendarID:      c.DefaultCalendar,
		TagRoutes:              c.TagRoutes,
		TimeZone:               c.TimeZone,
		DefaultDurationMinutes: c.DefaultDurationMinutes,
	}
	if err := p.Validate(); err != nil {
		return SyncPolicy{}, err
	}
	return p, nil
}

// SyncInterval returns the watch-mode timer period.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMinutes) * time.Minute
}
