package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/config"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/metrics"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/orchestrator"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pipeline"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/logger"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/rewards"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/state"
)

type fixture struct {
	server  *Server
	runner  *orchestrator.Runner
	standby *rewards.Standby
	jobs    *state.JobStore
	history *state.HistoryStore
	deps    Deps
}

func newFixture(t *testing.T, accounts string, mutate func(*Deps)) *fixture {
	t.Helper()

	accountsPath := filepath.Join(t.TempDir(), "accounts.json")
	require.NoError(t, os.WriteFile(accountsPath, []byte(accounts), 0o600))

	standby := &rewards.Standby{}
	jobs := state.NewJobStore(t.TempDir())
	history := state.NewHistoryStore(t.TempDir())
	m := metrics.New()
	runner := orchestrator.New(config.Default(), accountsPath, &pipeline.Deps{}, standby, m, nil)

	d := Deps{
		Runner:       runner,
		Standby:      standby,
		History:      history,
		Jobs:         jobs,
		Metrics:      m,
		AccountsPath: accountsPath,
		ReportsDir:   filepath.Join(t.TempDir(), "reports"),
	}
	if mutate != nil {
		mutate(&d)
	}
	return &fixture{
		server:  NewServer(d),
		runner:  runner,
		standby: standby,
		jobs:    jobs,
		history: history,
		deps:    d,
	}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	f := newFixture(t, `[]`, nil)
	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusReportsIdleState(t *testing.T) {
	f := newFixture(t, `[]`, nil)
	rec := f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	decode(t, rec, &resp)
	assert.Equal(t, false, resp["running"])
	assert.Equal(t, false, resp["stop_requested"])
	assert.Equal(t, false, resp["standby"])
	assert.Contains(t, resp, "uptime_seconds")
}

func TestStatusReflectsStandby(t *testing.T) {
	f := newFixture(t, `[]`, nil)
	f.standby.Engage(rewards.NewIncident(
		rewards.IncidentSignInBlocked, rewards.SeverityCritical, "a@example.com", "sign-in blocked"))

	rec := f.do(t, http.MethodGet, "/api/status", "")
	var resp map[string]any
	decode(t, rec, &resp)
	assert.Equal(t, true, resp["standby"])
	assert.NotEmpty(t, resp["standby_reason"])
}

func TestAccountsMasksEmails(t *testing.T) {
	f := newFixture(t, `[
		{"email": "alice@example.com", "password": "x", "totp": "SECRET"},
		{"email": "bob@example.com", "password": "x", "enabled": false}
	]`, nil)

	rec := f.do(t, http.MethodGet, "/api/accounts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "alice@example.com")
	assert.NotContains(t, rec.Body.String(), "SECRET")

	var views []accountView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 2)
	assert.True(t, views[0].Enabled)
	assert.True(t, views[0].HasTOTP)
	assert.False(t, views[1].Enabled)
}

func TestLogsLimitAndClear(t *testing.T) {
	f := newFixture(t, `[]`, nil)
	logger.Clear()
	logger.Info("first")
	logger.Info("second")
	logger.Info("third")

	rec := f.do(t, http.MethodGet, "/api/logs?limit=2", "")
	var entries []logger.Entry
	decode(t, rec, &entries)
	assert.Len(t, entries, 2)

	rec = f.do(t, http.MethodDelete, "/api/logs", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, logger.Recent(10))
}

func TestConfigWritesAreRefused(t *testing.T) {
	f := newFixture(t, `[]`, nil)
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		rec := f.do(t, method, "/api/config", `{"clusters": 99}`)
		assert.Equal(t, http.StatusForbidden, rec.Code, method)
		assert.Contains(t, rec.Body.String(), "edit the file manually")
	}
}

func TestRunSingleUnknownAccountIs404(t *testing.T) {
	f := newFixture(t, `[{"email": "a@example.com", "password": "x"}]`, nil)
	rec := f.do(t, http.MethodPost, "/api/run-single", `{"email": "nobody@example.com"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunSingleRejectsBadBody(t *testing.T) {
	f := newFixture(t, `[]`, nil)
	rec := f.do(t, http.MethodPost, "/api/run-single", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/run-single", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetAccountClearsToday(t *testing.T) {
	f := newFixture(t, `[]`, nil)
	require.NoError(t, f.jobs.Mark("a@b.com", state.Today(), state.UnitDesktopSearch, 30))
	require.True(t, f.jobs.IsCompleted("a@b.com", state.Today(), state.UnitDesktopSearch))

	rec := f.do(t, http.MethodPost, "/api/account/a@b.com/reset", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.jobs.IsCompleted("a@b.com", state.Today(), state.UnitDesktopSearch))
}

func TestResetStateClearsEveryAccount(t *testing.T) {
	f := newFixture(t, `[]`, nil)
	require.NoError(t, f.jobs.Mark("a@b.com", state.Today(), state.UnitDesktopSearch, 30))
	require.NoError(t, f.jobs.Mark("c@d.com", state.Today(), state.UnitMobileSearch, 20))

	rec := f.do(t, http.MethodPost, "/api/reset-state", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.jobs.IsCompleted("a@b.com", state.Today(), state.UnitDesktopSearch))
	assert.False(t, f.jobs.IsCompleted("c@d.com", state.Today(), state.UnitMobileSearch))
}

func TestStatsEndpoints(t *testing.T) {
	f := newFixture(t, `[]`, nil)
	require.NoError(t, f.history.Append("a@b.com", state.HistoryEntry{
		Timestamp:     time.Now(),
		Date:          state.Today(),
		DesktopPoints: 90,
		MobilePoints:  60,
		TotalPoints:   150,
		Completed:     5,
		Success:       true,
	}))

	rec := f.do(t, http.MethodGet, "/api/stats/global", "")
	var global state.GlobalStats
	decode(t, rec, &global)
	assert.Equal(t, 1, global.Accounts)
	assert.Equal(t, 150, global.TotalPoints)

	rec = f.do(t, http.MethodGet, "/api/stats/historical?days=7", "")
	var daily []state.DailyTotal
	decode(t, rec, &daily)
	require.Len(t, daily, 1)
	assert.Equal(t, 150, daily[0].Points)

	rec = f.do(t, http.MethodGet, "/api/stats/activity-breakdown?days=7", "")
	var breakdown []state.SurfaceBreakdown
	decode(t, rec, &breakdown)
	require.Len(t, breakdown, 1)
	assert.Equal(t, 90, breakdown[0].DesktopPoints)
	assert.Equal(t, 60, breakdown[0].MobilePoints)

	rec = f.do(t, http.MethodGet, "/api/account-stats/a@b.com", "")
	var stats state.AccountStats
	decode(t, rec, &stats)
	assert.Equal(t, 1, stats.Runs)
	assert.Equal(t, 150, stats.TotalPoints)
}

func TestMetricsExposition(t *testing.T) {
	f := newFixture(t, `[]`, nil)
	rec := f.do(t, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rewards_runs_total")
	assert.Contains(t, rec.Body.String(), "rewards_standby_engaged")
}

func TestStopSetsTheFlag(t *testing.T) {
	f := newFixture(t, `[]`, nil)
	rec := f.do(t, http.MethodPost, "/api/stop", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, f.runner.StopRequested())
}

func TestStartRefusedUnderStandby(t *testing.T) {
	f := newFixture(t, `[]`, nil)
	f.standby.Engage(rewards.NewIncident(
		rewards.IncidentCompromised, rewards.SeverityCritical, "a@example.com", "compromised"))

	rec := f.do(t, http.MethodPost, "/api/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRestart(t *testing.T) {
	f := newFixture(t, `[]`, nil)
	rec := f.do(t, http.MethodPost, "/api/restart", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code, "no restart hook configured")

	called := false
	f = newFixture(t, `[]`, func(d *Deps) {
		d.Restart = func() { called = true }
	})
	rec = f.do(t, http.MethodPost, "/api/restart", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, called)
}

func TestReportsListsTodaysRuns(t *testing.T) {
	f := newFixture(t, `[]`, nil)
	_, err := state.WriteRunSummary(f.deps.ReportsDir, state.RunSummary{
		RunID:     "abc123",
		StartedAt: time.Now(),
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/reports", "")
	var paths []string
	decode(t, rec, &paths)
	require.Len(t, paths, 1)
	assert.Contains(t, paths[0], "abc123")
}
