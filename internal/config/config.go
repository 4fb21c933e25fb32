package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ConfigError indicates an invalid or unparseable configuration. It is
// fatal at startup; nothing else raises it.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Duration is a time.Duration that (un)marshals as a Go duration string
// ("3s", "5m"), preserving the textual form across load/serialize cycles.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Bare numbers are milliseconds, matching the original config files.
		var ms float64
		if err2 := json.Unmarshal(b, &ms); err2 == nil {
			d.Duration = time.Duration(ms) * time.Millisecond
			return nil
		}
		return &ConfigError{Reason: fmt.Sprintf("invalid duration %s", string(b))}
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return &ConfigError{Reason: fmt.Sprintf("invalid duration %q", s)}
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// Config is the merged, validated orchestrator configuration.
type Config struct {
	Clusters        int                `json:"clusters"`
	RunOnZeroPoints bool               `json:"run_on_zero_points"`
	Parallel        ParallelConfig     `json:"parallel"`
	Workers         WorkersConfig      `json:"workers"`
	SearchSettings  SearchConfig       `json:"search_settings"`
	Humanization    HumanizationConfig `json:"humanization"`
	Execution       ExecutionConfig    `json:"execution"`
	BanDetection    BanDetectionConfig `json:"ban_detection"`
	Schedule        ScheduleConfig     `json:"schedule"`
	Browser         BrowserConfig      `json:"browser"`
	Dashboard       DashboardConfig    `json:"dashboard"`
	Notifications   NotifyConfig       `json:"notifications"`
	State           StateConfig        `json:"state"`
	Logging         LoggingConfig      `json:"logging"`
}

// ParallelConfig controls whether the desktop and mobile personas of one
// account run concurrently on separate sessions. Setting either flag
// enables the concurrent path; the default is sequential, desktop first.
type ParallelConfig struct {
	Desktop bool `json:"desktop"`
	Mobile  bool `json:"mobile"`
}

// WorkersConfig toggles individual work-unit categories.
type WorkersConfig struct {
	DoDailySet       bool `json:"do_daily_set"`
	DoMorePromotions bool `json:"do_more_promotions"`
	DoPunchCards     bool `json:"do_punch_cards"`
	DoDesktopSearch  bool `json:"do_desktop_search"`
	DoMobileSearch   bool `json:"do_mobile_search"`
	DoReadToEarn     bool `json:"do_read_to_earn"`
	DoDailyCheckIn   bool `json:"do_daily_check_in"`
	DoFreeRewards    bool `json:"do_free_rewards"`
}

// SearchConfig tunes the search engine.
type SearchConfig struct {
	RetryMobileSearchAmount int         `json:"retry_mobile_search_amount"`
	SearchDelay             DelayWindow `json:"search_delay"`
	PerSessionMax           int         `json:"per_session_max"`
	RefetchEvery            int         `json:"refetch_every"`
	StallThreshold          int         `json:"stall_threshold"`
}

// DelayWindow is a [min, max] dwell range.
type DelayWindow struct {
	Min Duration `json:"min"`
	Max Duration `json:"max"`
}

// HumanizationConfig tunes the human input model.
type HumanizationConfig struct {
	Enabled            bool    `json:"enabled"`
	MouseOvershootProb float64 `json:"mouse_overshoot_prob"`
	TremorIntensity    float64 `json:"tremor_intensity"`
	TypingVariance     float64 `json:"typing_variance"`
}

// ExecutionConfig controls multi-pass execution.
type ExecutionConfig struct {
	Passes         int      `json:"passes"`
	InterPassDelay Duration `json:"inter_pass_delay"`
}

// BanDetectionConfig tunes the risk detector.
type BanDetectionConfig struct {
	Enabled             bool `json:"enabled"`
	EscalationThreshold int  `json:"escalation_threshold"`
}

// ScheduleConfig holds the clock trigger entries.
type ScheduleConfig struct {
	Times               []string `json:"times"` // "HH:MM" local wall clock
	JitterMinutes       int      `json:"jitter_minutes"`
	VacationProbability float64  `json:"vacation_probability"`
	RunOnStart          bool     `json:"run_on_start"`
}

// BrowserConfig holds persona-independent browser settings.
type BrowserConfig struct {
	Headless    bool     `json:"headless"`
	Locale      string   `json:"locale"`   // BCP-47, e.g. "en-US"
	Timezone    string   `json:"timezone"` // IANA, e.g. "Europe/Berlin"
	ProfilesDir string   `json:"profiles_dir"`
	UnitTimeout Duration `json:"unit_timeout"`
}

// DashboardConfig holds the HTTP gateway settings.
type DashboardConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// NotifyConfig lists notification transports.
type NotifyConfig struct {
	Webhooks        []string `json:"webhooks"`
	SummaryTemplate string   `json:"summary_template"`
	Timeout         Duration `json:"timeout"`
}

// StateConfig holds durable-state locations.
type StateConfig struct {
	Dir        string `json:"dir"`
	ReportsDir string `json:"reports_dir"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	Level     string `json:"level"`
	RedactPII *bool  `json:"redact_pii"`
}

// Default returns the built-in configuration used when a key is absent.
func Default() Config {
	return Config{
		Clusters: 1,
		Workers: WorkersConfig{
			DoDailySet:       true,
			DoMorePromotions: true,
			DoPunchCards:     true,
			DoDesktopSearch:  true,
			DoMobileSearch:   true,
			DoDailyCheckIn:   true,
		},
		SearchSettings: SearchConfig{
			RetryMobileSearchAmount: 2,
			SearchDelay: DelayWindow{
				Min: Duration{3 * time.Second},
				Max: Duration{6 * time.Second},
			},
			PerSessionMax:  40,
			RefetchEvery:   5,
			StallThreshold: 4,
		},
		Humanization: HumanizationConfig{
			Enabled:            true,
			MouseOvershootProb: 0.3,
			TremorIntensity:    1.0,
			TypingVariance:     0.4,
		},
		Execution: ExecutionConfig{
			Passes:         1,
			InterPassDelay: Duration{5 * time.Minute},
		},
		BanDetection: BanDetectionConfig{
			Enabled:             true,
			EscalationThreshold: 3,
		},
		Schedule: ScheduleConfig{
			JitterMinutes: 15,
		},
		Browser: BrowserConfig{
			Headless:    true,
			Locale:      "en-US",
			Timezone:    "America/New_York",
			ProfilesDir: "profiles",
			UnitTimeout: Duration{10 * time.Minute},
		},
		Dashboard: DashboardConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
		},
		Notifications: NotifyConfig{
			Timeout: Duration{10 * time.Second},
		},
		State: StateConfig{
			Dir:        "state",
			ReportsDir: "reports",
		},
		Logging: LoggingConfig{Level: "INFO"},
	}
}

// Load reads, normalizes, validates and decodes a JSONC config file.
// strict rejects unrecognized keys; otherwise unknown keys are ignored
// (the external merger preserves them).
func Load(path string, strict bool) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &ConfigError{Reason: fmt.Sprintf("read %s: %v", path, err)}
	}
	return Parse(raw, strict)
}

// Parse decodes a JSONC config document over the defaults.
func Parse(raw []byte, strict bool) (Config, error) {
	if strict {
		var tree map[string]any
		if err := ParseJSONC(raw, &tree); err != nil {
			return Config{}, &ConfigError{Reason: err.Error()}
		}
		if err := checkRecognized(tree, recognizedKeys, ""); err != nil {
			return Config{}, err
		}
	}

	cfg := Default()
	if err := ParseJSONC(raw, &cfg); err != nil {
		return Config{}, &ConfigError{Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants.
func (c *Config) Validate() error {
	if c.Clusters < 1 {
		return &ConfigError{Field: "clusters", Reason: "must be >= 1"}
	}
	if c.Execution.Passes < 1 {
		return &ConfigError{Field: "execution.passes", Reason: "must be >= 1"}
	}
	if c.SearchSettings.RetryMobileSearchAmount < 0 {
		return &ConfigError{Field: "search_settings.retry_mobile_search_amount", Reason: "must be >= 0"}
	}
	if min, max := c.SearchSettings.SearchDelay.Min.Duration, c.SearchSettings.SearchDelay.Max.Duration; min > max {
		return &ConfigError{Field: "search_settings.search_delay", Reason: "min exceeds max"}
	}
	if p := c.Schedule.VacationProbability; p < 0 || p > 1 {
		return &ConfigError{Field: "schedule.vacation_probability", Reason: "must be in [0,1]"}
	}
	for _, ts := range c.Schedule.Times {
		if _, err := time.Parse("15:04", ts); err != nil {
			return &ConfigError{Field: "schedule.times", Reason: fmt.Sprintf("invalid time %q (want HH:MM)", ts)}
		}
	}
	if c.BanDetection.EscalationThreshold < 1 {
		return &ConfigError{Field: "ban_detection.escalation_threshold", Reason: "must be >= 1"}
	}
	if c.Browser.Timezone != "" {
		if _, err := time.LoadLocation(c.Browser.Timezone); err != nil {
			return &ConfigError{Field: "browser.timezone", Reason: fmt.Sprintf("unknown IANA timezone %q", c.Browser.Timezone)}
		}
	}
	return nil
}

// recognizedKeys mirrors the Config struct. A nil value means leaf;
// a nested map validates the sub-object's keys.
var recognizedKeys = map[string]any{
	"clusters":           nil,
	"run_on_zero_points": nil,
	"parallel":           map[string]any{"desktop": nil, "mobile": nil},
	"workers": map[string]any{
		"do_daily_set": nil, "do_more_promotions": nil, "do_punch_cards": nil,
		"do_desktop_search": nil, "do_mobile_search": nil, "do_read_to_earn": nil,
		"do_daily_check_in": nil, "do_free_rewards": nil,
	},
	"search_settings": map[string]any{
		"retry_mobile_search_amount": nil,
		"search_delay":               map[string]any{"min": nil, "max": nil},
		"per_session_max":            nil,
		"refetch_every":              nil,
		"stall_threshold":            nil,
	},
	"humanization": map[string]any{
		"enabled": nil, "mouse_overshoot_prob": nil, "tremor_intensity": nil, "typing_variance": nil,
	},
	"execution":     map[string]any{"passes": nil, "inter_pass_delay": nil},
	"ban_detection": map[string]any{"enabled": nil, "escalation_threshold": nil},
	"schedule": map[string]any{
		"times": nil, "jitter_minutes": nil, "vacation_probability": nil, "run_on_start": nil,
	},
	"browser": map[string]any{
		"headless": nil, "locale": nil, "timezone": nil, "profiles_dir": nil, "unit_timeout": nil,
	},
	"dashboard":     map[string]any{"enabled": nil, "host": nil, "port": nil},
	"notifications": map[string]any{"webhooks": nil, "summary_template": nil, "timeout": nil},
	"state":         map[string]any{"dir": nil, "reports_dir": nil},
	"logging":       map[string]any{"level": nil, "redact_pii": nil},
}

func checkRecognized(tree map[string]any, allowed map[string]any, prefix string) error {
	for k, v := range tree {
		spec, ok := allowed[k]
		if !ok {
			return &ConfigError{Field: prefix + k, Reason: "unknown configuration key"}
		}
		if sub, isMap := spec.(map[string]any); isMap {
			child, isObj := v.(map[string]any)
			if !isObj {
				return &ConfigError{Field: prefix + k, Reason: "expected an object"}
			}
			if err := checkRecognized(child, sub, prefix+k+"."); err != nil {
				return err
			}
		}
	}
	return nil
}
