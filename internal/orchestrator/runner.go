// Package orchestrator owns the run lifecycle: a bounded worker pool over
// the account list, multi-pass execution, the global standby latch, and
// the run summary written at the end of every run.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/config"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/humanize"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/metrics"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pipeline"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/logger"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/rewards"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/state"
)

// Summarizer receives the finished run report. The notification manager
// implements it; a nil summarizer skips delivery.
type Summarizer interface {
	RunSummary(ctx context.Context, summary state.RunSummary)
}

// Runner coordinates pipeline executions across accounts and passes.
type Runner struct {
	cfg          config.Config
	accountsPath string
	pipe         *pipeline.Deps
	standby      *rewards.Standby
	metrics      *metrics.Metrics
	summarizer   Summarizer
	reportsDir   string

	stopRequested atomic.Bool

	mu          sync.Mutex
	running     bool
	lastRunAt   time.Time
	lastSummary *state.RunSummary
}

// New wires a runner. The pipeline's stop probe is bound to this runner's
// stop flag so dashboard stop requests reach every worker.
func New(cfg config.Config, accountsPath string, pipe *pipeline.Deps, standby *rewards.Standby, m *metrics.Metrics, summarizer Summarizer) *Runner {
	r := &Runner{
		cfg:          cfg,
		accountsPath: accountsPath,
		pipe:         pipe,
		standby:      standby,
		metrics:      m,
		summarizer:   summarizer,
		reportsDir:   cfg.State.ReportsDir,
	}
	pipe.Stop = r.stopRequested.Load
	return r
}

// IncidentSink returns the process-wide incident handler: every incident
// is counted, critical ones engage the standby latch.
func (r *Runner) IncidentSink() rewards.IncidentSink {
	return rewards.IncidentFunc(func(i rewards.SecurityIncident) {
		if r.metrics != nil {
			r.metrics.Incidents.WithLabelValues(i.Kind).Inc()
		}
		if i.Severity == rewards.SeverityCritical {
			r.standby.Engage(i)
			if r.metrics != nil {
				r.metrics.Standby.Set(1)
			}
			logger.Error("[orchestrator] global standby engaged",
				"kind", i.Kind, "account", logger.RedactEmail(i.Account), "detail", i.Detail)
		}
	})
}

// Running reports whether a run is in flight.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// RequestStop asks in-flight workers to finish their current unit and
// exit. Cleared automatically when the next run starts.
func (r *Runner) RequestStop() {
	r.stopRequested.Store(true)
	logger.Info("[orchestrator] stop requested")
}

// StopRequested reports the current stop flag.
func (r *Runner) StopRequested() bool {
	return r.stopRequested.Load()
}

// LastSummary returns the most recent run report, if any.
func (r *Runner) LastSummary() (state.RunSummary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastSummary == nil {
		return state.RunSummary{}, false
	}
	return *r.lastSummary, true
}

// LastRunAt returns when the last run started.
func (r *Runner) LastRunAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRunAt
}

func (r *Runner) halted() bool {
	return r.stopRequested.Load() || (r.standby != nil && r.standby.Engaged())
}

// Trigger starts a full run in the background if none is in flight.
// Returns false when a run is already active.
func (r *Runner) Trigger(ctx context.Context) bool {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return false
	}
	r.running = true
	r.lastRunAt = time.Now()
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
		}()
		r.run(ctx)
	}()
	return true
}

// RunSingle executes the pipeline for one account synchronously, outside
// the pass machinery. Used by the dashboard run-single command.
func (r *Runner) RunSingle(ctx context.Context, email string) (pipeline.Result, error) {
	accounts, err := config.LoadAccounts(r.accountsPath)
	if err != nil {
		return pipeline.Result{}, err
	}
	for _, a := range accounts {
		if a.Email == email {
			return r.pipe.RunAccount(ctx, a), nil
		}
	}
	return pipeline.Result{}, &config.ConfigError{Field: "accounts", Reason: "no account " + logger.RedactEmail(email)}
}

// run executes passes over the enabled accounts and writes the summary.
func (r *Runner) run(ctx context.Context) {
	r.stopRequested.Store(false)

	accounts, err := config.LoadAccounts(r.accountsPath)
	if err != nil {
		logger.Error("[orchestrator] account load failed", "error", err.Error())
		return
	}
	var enabled []config.Account
	for _, a := range accounts {
		if a.IsEnabled() {
			enabled = append(enabled, a)
		}
	}
	if len(enabled) == 0 {
		logger.Warn("[orchestrator] no enabled accounts, nothing to run")
		return
	}

	runID := humanize.Token()
	started := time.Now()
	logger.Info("[orchestrator] run starting",
		"run_id", runID, "accounts", len(enabled), "passes", r.cfg.Execution.Passes)

	var (
		resMu   sync.Mutex
		results []pipeline.Result
	)
	passes := r.cfg.Execution.Passes
	if passes < 1 {
		passes = 1
	}
	for pass := 1; pass <= passes; pass++ {
		if r.halted() {
			break
		}
		r.runPass(ctx, enabled, &resMu, &results)

		if pass < passes && !r.halted() {
			if err := humanize.Sleep(ctx, r.cfg.Execution.InterPassDelay.Duration); err != nil {
				break
			}
		}
	}

	summary := buildSummary(runID, started, len(enabled), results)
	if path, err := state.WriteRunSummary(r.reportsDir, summary); err != nil {
		logger.Error("[orchestrator] run summary write failed", "error", err.Error())
	} else {
		logger.Info("[orchestrator] run finished", "run_id", runID,
			"succeeded", summary.Succeeded, "points", summary.TotalPoints, "report", path)
	}

	r.mu.Lock()
	r.lastSummary = &summary
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RunsTotal.Inc()
	}
	if r.summarizer != nil {
		r.summarizer.RunSummary(ctx, summary)
	}
}

func (r *Runner) runPass(ctx context.Context, accounts []config.Account, resMu *sync.Mutex, results *[]pipeline.Result) {
	clusters := r.cfg.Clusters
	if clusters < 1 {
		clusters = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(clusters)

	for _, account := range accounts {
		if r.halted() {
			break
		}
		account := account
		g.Go(func() error {
			if r.halted() {
				return nil
			}
			if r.metrics != nil {
				r.metrics.ActiveWorkers.Inc()
				defer r.metrics.ActiveWorkers.Dec()
			}

			res := r.pipe.RunAccount(gctx, account)

			if r.metrics != nil {
				outcome := "success"
				if !res.Success {
					outcome = "failure"
				}
				r.metrics.AccountRuns.WithLabelValues(outcome).Inc()
				r.metrics.PointsEarned.WithLabelValues("desktop").Add(float64(res.DesktopPoints))
				r.metrics.PointsEarned.WithLabelValues("mobile").Add(float64(res.MobilePoints))
				if res.Failed > 0 {
					r.metrics.UnitsFailed.Add(float64(res.Failed))
				}
			}

			resMu.Lock()
			*results = append(*results, res)
			resMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

func buildSummary(runID string, started time.Time, accounts int, results []pipeline.Result) state.RunSummary {
	summary := state.RunSummary{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Accounts:   accounts,
	}
	for _, res := range results {
		summary.TotalPoints += res.DesktopPoints + res.MobilePoints
		if res.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
		summary.PerAccount = append(summary.PerAccount, state.AccountRunResult{
			Email:      logger.RedactEmail(res.Account),
			Points:     res.DesktopPoints + res.MobilePoints,
			Completed:  res.Completed,
			Failed:     res.Failed,
			Success:    res.Success,
			Errors:     res.Errors,
			DurationMS: res.Duration.Milliseconds(),
		})
	}
	return summary
}
