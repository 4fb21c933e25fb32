// Package pipeline runs the full per-account flow: login, dashboard,
// activities, searches, mobile API work, then history and notification.
// Desktop precedes mobile unless the parallel config runs the personas
// concurrently. At most one browser context is alive per persona; every
// exit path releases it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/activities"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/auth"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/bandetect"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/config"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/errid"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/logger"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/rewards"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/search"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/state"
)

// DefaultUnitTimeout bounds one work unit when the config leaves it unset.
const DefaultUnitTimeout = 10 * time.Minute

// Notifier delivers run events; failures never propagate.
type Notifier interface {
	Notify(ctx context.Context, event, severity string, fields map[string]string)
}

// Deps carries the pipeline's collaborators, injected once at startup.
type Deps struct {
	Config       config.Config
	Factory      *browser.Factory
	Jobs         *state.JobStore
	History      *state.HistoryStore
	Incidents    rewards.IncidentSink
	Standby      *rewards.Standby
	Notifier     Notifier
	Queries      *search.Source
	API          *rewards.Client
	AccountsPath string
	// Stop reports a dashboard stop request; checked at unit boundaries.
	Stop func() bool
	Wait browser.WaitOptions

	// seams for tests; nil values use production behavior
	loginFn func(ctx context.Context, account config.Account, page browser.Page) error
	tokenFn func(ctx context.Context, page browser.Page) (string, error)
	sleep   func(ctx context.Context, min, max time.Duration) error
}

// Result is one account's outcome for one pass.
type Result struct {
	Account       string
	DesktopPoints int
	MobilePoints  int
	Completed     int
	Failed        int
	Errors        []string
	Success       bool
	Duration      time.Duration

	// skipped marks a zero-earnable day; the mobile half is skipped too.
	skipped bool
}

func (d *Deps) wait() browser.WaitOptions {
	if d.Wait.Interval > 0 {
		return d.Wait
	}
	return browser.DefaultWait
}

func (d *Deps) unitTimeout() time.Duration {
	if t := d.Config.Browser.UnitTimeout.Duration; t > 0 {
		return t
	}
	return DefaultUnitTimeout
}

// halted reports whether no further work unit may start.
func (d *Deps) halted() bool {
	if d.Standby != nil && d.Standby.Engaged() {
		return true
	}
	return d.Stop != nil && d.Stop()
}

func (d *Deps) login(ctx context.Context, account config.Account, page browser.Page) error {
	if d.loginFn != nil {
		return d.loginFn(ctx, account, page)
	}
	// The portal redirects to the sign-in flow when the profile carries no
	// valid cookies; otherwise the flow observes a signed-in page and
	// returns immediately.
	if _, err := page.Goto(ctx, rewards.PortalURL); err != nil {
		return err
	}
	flow := auth.NewFlow(account, d.Incidents)
	flow.Wait = d.wait()
	return flow.Run(ctx, page)
}

func (d *Deps) token(ctx context.Context, page browser.Page) (string, error) {
	if d.tokenFn != nil {
		return d.tokenFn(ctx, page)
	}
	tok, err := rewards.AcquireMobileToken(ctx, page)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (d *Deps) detector(email string) *bandetect.Detector {
	disable := func(email, reason string) error {
		return config.DisableAccount(d.AccountsPath, email, reason)
	}
	return bandetect.New(email, d.Config.BanDetection.EscalationThreshold, disable, d.Incidents)
}

func (r *Result) recordFailure(stage string, err error) {
	id := errid.FromError(err)
	logger.Error("[pipeline] "+stage+" failed",
		"account", r.Account, "error_id", id, "error", err.Error())
	r.Failed++
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %s (%s)", stage, err.Error(), id))
}

// merge folds a concurrently collected persona result into r.
func (r *Result) merge(o Result) {
	r.DesktopPoints += o.DesktopPoints
	r.MobilePoints += o.MobilePoints
	r.Completed += o.Completed
	r.Failed += o.Failed
	r.Errors = append(r.Errors, o.Errors...)
}

// RunAccount executes one full pass for one account and records history.
// Desktop runs first and gates mobile on its outcome, unless the parallel
// config runs the two personas concurrently on separate sessions.
func (d *Deps) RunAccount(ctx context.Context, account config.Account) Result {
	start := time.Now()
	res := Result{Account: account.Email}
	det := d.detector(account.Email)

	var desktopOK, mobileOK bool
	if d.Config.Parallel.Mobile || d.Config.Parallel.Desktop {
		mres := Result{Account: account.Email}
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			mobileOK = d.runMobile(ctx, account, det, &mres)
		}()
		desktopOK = d.runDesktop(ctx, account, det, &res)
		wg.Wait()
		res.merge(mres)
	} else {
		desktopOK = d.runDesktop(ctx, account, det, &res)
		mobileOK = true
		if desktopOK && !res.skipped && !d.halted() {
			mobileOK = d.runMobile(ctx, account, det, &res)
		}
	}

	res.Duration = time.Since(start)
	res.Success = desktopOK && mobileOK && res.Failed == 0
	d.finish(ctx, res)
	return res
}

func (d *Deps) finish(ctx context.Context, res Result) {
	entry := state.HistoryEntry{
		Timestamp:     time.Now().UTC(),
		Date:          state.Today(),
		DesktopPoints: res.DesktopPoints,
		MobilePoints:  res.MobilePoints,
		TotalPoints:   res.DesktopPoints + res.MobilePoints,
		Completed:     res.Completed,
		Failed:        res.Failed,
		Errors:        res.Errors,
		DurationMS:    res.Duration.Milliseconds(),
		Success:       res.Success,
	}
	if err := d.History.Append(res.Account, entry); err != nil {
		logger.Error("[pipeline] history append failed", "account", res.Account, "error", err.Error())
	}

	if d.Notifier != nil {
		severity := "info"
		if !res.Success {
			severity = "warning"
		}
		d.Notifier.Notify(ctx, "account-run", severity, map[string]string{
			"account": res.Account,
			"points":  fmt.Sprintf("%d", entry.TotalPoints),
			"success": fmt.Sprintf("%t", res.Success),
		})
	}
}

// runDesktop covers session build, login, dashboard, activities and the
// desktop search. Returns false when the account cannot continue.
func (d *Deps) runDesktop(ctx context.Context, account config.Account, det *bandetect.Detector, res *Result) bool {
	sess, err := d.Factory.NewSessionWithRetry(ctx, account.Email, browser.Desktop, account.Proxy)
	if err != nil {
		res.recordFailure("desktop session", err)
		return false
	}
	defer sess.Close()

	if d.Config.BanDetection.Enabled {
		det.Attach(ctx, sess.Page)
	}

	if !d.loginWithRebuild(ctx, account, det, &sess, browser.Desktop, res) {
		return false
	}

	dash, err := rewards.FetchDashboard(ctx, sess.Page)
	if err != nil {
		res.recordFailure("dashboard fetch", err)
		return false
	}

	earnable := dash.BrowserEarnable() + dash.AppEarnable()
	if earnable == 0 && !d.Config.RunOnZeroPoints {
		logger.Info("[pipeline] nothing earnable, skipping", "account", account.Email)
		res.skipped = true
		return true
	}

	d.runActivities(ctx, account, det, sess, dash, res)
	if d.halted() {
		return true
	}

	if v, _ := det.Comprehensive(ctx, sess.Page); v.Severity >= bandetect.SeveritySoftBan {
		res.recordFailure("ban check", fmt.Errorf("verdict %s after activities", v.Severity))
		return false
	}

	if d.Config.Workers.DoDesktopSearch {
		d.runSearch(ctx, sess, state.UnitDesktopSearch, res, &res.DesktopPoints, func(dd *rewards.DashboardData) int {
			return rewards.Remaining(dd.UserStatus.Counters.PCSearch)
		})
	}
	return true
}

// loginWithRebuild runs the login flow, rebuilding the context once when
// the target goes away mid-flow. Hard failures feed the ban detector.
func (d *Deps) loginWithRebuild(ctx context.Context, account config.Account, det *bandetect.Detector, sess **browser.Session, persona browser.Persona, res *Result) bool {
	err := d.login(ctx, account, (*sess).Page)
	if browser.IsTargetClosed(err) {
		logger.Warn("[pipeline] context lost during login, rebuilding", "account", account.Email)
		(*sess).Close()
		fresh, ferr := d.Factory.NewSession(ctx, account.Email, persona, account.Proxy)
		if ferr != nil {
			res.recordFailure("login rebuild", ferr)
			return false
		}
		*sess = fresh
		err = d.login(ctx, account, fresh.Page)
	}
	if err == nil {
		return true
	}

	var fatal *auth.FatalError
	if errors.As(err, &fatal) {
		det.Record(bandetect.CheckText(fatal.Detail))
	}
	res.recordFailure("login", err)
	return false
}

func (d *Deps) runActivities(ctx context.Context, account config.Account, det *bandetect.Detector, sess *browser.Session, dash *rewards.DashboardData, res *Result) {
	deps := &activities.Deps{
		Account: account.Email,
		Session: sess.Context,
		Jobs:    d.Jobs,
		Wait:    d.wait(),
		// Completion is confirmed against a fresh dashboard read on the
		// main tab; a silently stalled handler stays attempt-only.
		Confirm: func(ctx context.Context, promo rewards.Promotion) (bool, error) {
			fresh, err := rewards.FetchDashboard(ctx, sess.Page)
			if err != nil {
				return false, err
			}
			return fresh.Credited(promo), nil
		},
	}

	var units []rewards.Promotion
	if d.Config.Workers.DoDailySet {
		units = append(units, dash.TodayDailySet()...)
	}
	if d.Config.Workers.DoMorePromotions {
		units = append(units, dash.MorePromotions...)
	}
	if d.Config.Workers.DoPunchCards {
		for _, pc := range dash.PunchCards {
			units = append(units, pc.ChildPromotions...)
		}
	}

	today := state.Today()
	for _, promo := range units {
		if d.halted() {
			return
		}
		unit := promo.OfferID
		if unit == "" {
			unit = promo.Name
		}
		was := d.Jobs.IsCompleted(account.Email, today, unit)

		unitCtx, cancel := context.WithTimeout(ctx, d.unitTimeout())
		err := activities.Dispatch(unitCtx, deps, promo)
		cancel()

		if err != nil {
			res.recordFailure("activity "+promo.OfferID, err)
			continue
		}
		// Only units the store newly confirmed count toward the run.
		if !was && d.Jobs.IsCompleted(account.Email, today, unit) {
			res.Completed++
			res.DesktopPoints += promo.PointProgressMax - promo.PointProgress
		}
	}

	if d.Config.Workers.DoFreeRewards && account.PhoneNumber != "" {
		unitCtx, cancel := context.WithTimeout(ctx, d.unitTimeout())
		n, err := activities.RunFreeRewards(unitCtx, deps)
		cancel()
		if err != nil {
			res.recordFailure("free rewards", err)
		} else if n > 0 {
			res.Completed += n
		}
	}
}

// runSearch executes the search bucket for whichever persona the session
// carries, feeding counter progress back from dashboard refetches.
func (d *Deps) runSearch(ctx context.Context, sess *browser.Session, unitID string, res *Result, points *int, counter func(*rewards.DashboardData) int) {
	today := state.Today()
	if d.Jobs.IsCompleted(res.Account, today, unitID) {
		logger.Debug("[pipeline] search already complete", "account", res.Account, "unit", unitID)
		return
	}
	if err := d.Jobs.RecordAttempt(res.Account, today, unitID); err != nil {
		res.recordFailure(unitID, err)
		return
	}

	engine := &search.Engine{
		DelayMin:       d.Config.SearchSettings.SearchDelay.Min.Duration,
		DelayMax:       d.Config.SearchSettings.SearchDelay.Max.Duration,
		RefetchEvery:   d.Config.SearchSettings.RefetchEvery,
		StallThreshold: d.Config.SearchSettings.StallThreshold,
		Wait:           d.wait(),
	}

	max := d.Config.SearchSettings.PerSessionMax
	if max <= 0 {
		max = 40
	}
	queries := d.Queries.Queries(ctx, max)

	progress := func(ctx context.Context) (int, error) {
		dash, err := rewards.FetchDashboard(ctx, sess.Page)
		if err != nil {
			return 0, err
		}
		return counter(dash), nil
	}

	unitCtx, cancel := context.WithTimeout(ctx, d.unitTimeout())
	defer cancel()
	initial, err := progress(unitCtx)
	if err != nil {
		res.recordFailure(unitID, err)
		return
	}

	result, err := engine.Run(unitCtx, sess.Page, queries, progress)
	if err != nil {
		res.recordFailure(unitID, err)
		return
	}

	*points += initial - result.Remaining
	if result.Remaining <= 0 {
		if err := d.Jobs.Mark(res.Account, today, unitID, initial); err != nil {
			res.recordFailure(unitID, err)
			return
		}
		res.Completed++
	}
}
