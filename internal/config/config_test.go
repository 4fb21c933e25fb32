package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `{
	// two accounts at a time
	"clusters": 2,
	"run_on_zero_points": false,
	"workers": {
		"do_desktop_search": true,
		"do_mobile_search": true,
		"do_free_rewards": false,
	},
	"search_settings": {
		"retry_mobile_search_amount": 2,
		"search_delay": {"min": "3s", "max": "6s"},
	},
	"execution": {"passes": 2, "inter_pass_delay": "10m"},
	"schedule": {"times": ["09:00", "18:30"], "jitter_minutes": 20, "vacation_probability": 0.1},
}`

func TestParseAppliesDefaultsAndOverrides(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig), true)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Clusters)
	assert.Equal(t, 3*time.Second, cfg.SearchSettings.SearchDelay.Min.Duration)
	assert.Equal(t, 6*time.Second, cfg.SearchSettings.SearchDelay.Max.Duration)
	assert.Equal(t, 2, cfg.Execution.Passes)
	assert.Equal(t, 10*time.Minute, cfg.Execution.InterPassDelay.Duration)
	// Defaults survive for untouched sections.
	assert.True(t, cfg.BanDetection.Enabled)
	assert.Equal(t, 3, cfg.BanDetection.EscalationThreshold)
	assert.True(t, cfg.Workers.DoDailySet)
	assert.Equal(t, []string{"09:00", "18:30"}, cfg.Schedule.Times)
}

func TestParseStrictRejectsUnknownKey(t *testing.T) {
	_, err := Parse([]byte(`{"clusters": 1, "clustres": 2}`), true)
	require.Error(t, err)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "clustres", ce.Field)
}

func TestParseStrictRejectsUnknownNestedKey(t *testing.T) {
	_, err := Parse([]byte(`{"search_settings": {"serch_delay": {}}}`), true)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "search_settings.serch_delay", ce.Field)
}

func TestParseLenientIgnoresUnknownKey(t *testing.T) {
	cfg, err := Parse([]byte(`{"clusters": 3, "future_option": true}`), false)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Clusters)
}

func TestParseInvalidDuration(t *testing.T) {
	_, err := Parse([]byte(`{"execution": {"inter_pass_delay": "soon"}}`), true)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"zero clusters", `{"clusters": 0}`, "clusters"},
		{"zero passes", `{"execution": {"passes": 0}}`, "execution.passes"},
		{"negative retry", `{"search_settings": {"retry_mobile_search_amount": -1}}`, "search_settings.retry_mobile_search_amount"},
		{"min over max", `{"search_settings": {"search_delay": {"min": "10s", "max": "2s"}}}`, "search_settings.search_delay"},
		{"bad schedule time", `{"schedule": {"times": ["25:99"]}}`, "schedule.times"},
		{"bad vacation prob", `{"schedule": {"vacation_probability": 1.5}}`, "schedule.vacation_probability"},
		{"bad timezone", `{"browser": {"timezone": "Mars/Olympus"}}`, "browser.timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), true)
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestConfigRoundTripPreservesValues(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig), true)
	require.NoError(t, err)

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	reparsed, err := Parse(data, false)
	require.NoError(t, err)
	assert.Equal(t, cfg, reparsed)
}

func TestDurationAcceptsBareMilliseconds(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte("1500"), &d))
	assert.Equal(t, 1500*time.Millisecond, d.Duration)
}
