package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/bandetect"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/config"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/humanize"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/logger"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/rewards"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/state"
)

// readToEarnArticles bounds the per-day claim loop; the service stops
// crediting before then, signalled by an unmoved balance.
const readToEarnArticles = 10

func (d *Deps) mobileEnabled() bool {
	w := d.Config.Workers
	return w.DoMobileSearch || w.DoDailyCheckIn || w.DoReadToEarn
}

// country derives the API market from the configured locale.
func (d *Deps) country() string {
	locale := d.Config.Browser.Locale
	if i := strings.LastIndexAny(locale, "-_"); i >= 0 && i < len(locale)-1 {
		return strings.ToLower(locale[i+1:])
	}
	return "us"
}

func (d *Deps) pause(ctx context.Context, min, max time.Duration) error {
	if d.sleep != nil {
		return d.sleep(ctx, min, max)
	}
	return humanize.SleepBetween(ctx, min, max)
}

// runMobile covers the app-side earners: the points API work (daily
// check-in, read-to-earn) and the mobile search bucket. Returns false
// when the account cannot continue.
func (d *Deps) runMobile(ctx context.Context, account config.Account, det *bandetect.Detector, res *Result) bool {
	if !d.mobileEnabled() {
		return true
	}

	sess, err := d.Factory.NewSessionWithRetry(ctx, account.Email, browser.Mobile, account.Proxy)
	if err != nil {
		res.recordFailure("mobile session", err)
		return false
	}
	defer func() { sess.Close() }()

	if d.Config.BanDetection.Enabled {
		det.Attach(ctx, sess.Page)
	}
	if !d.loginWithRebuild(ctx, account, det, &sess, browser.Mobile, res) {
		return false
	}

	if d.Config.Workers.DoDailyCheckIn || d.Config.Workers.DoReadToEarn {
		token, ok := d.tokenWithRebuild(ctx, account, det, &sess, res)
		if ok {
			if d.Config.Workers.DoDailyCheckIn && !d.halted() {
				if !d.runDailyCheckIn(ctx, det, token, res) {
					return false
				}
			}
			if d.Config.Workers.DoReadToEarn && !d.halted() {
				if !d.runReadToEarn(ctx, det, token, res) {
					return false
				}
			}
		}
	}

	if d.Config.Workers.DoMobileSearch && !d.halted() {
		d.runMobileSearch(ctx, account, det, &sess, res)
	}
	return true
}

// tokenWithRebuild acquires the mobile OAuth token, rebuilding the
// context once when the target goes away mid-redirect. A token failure
// skips the API earners but does not sink the run.
func (d *Deps) tokenWithRebuild(ctx context.Context, account config.Account, det *bandetect.Detector, sess **browser.Session, res *Result) (string, bool) {
	token, err := d.token(ctx, (*sess).Page)
	if browser.IsTargetClosed(err) {
		logger.Warn("[pipeline] context lost during token grant, rebuilding", "account", account.Email)
		(*sess).Close()
		fresh, ferr := d.Factory.NewSession(ctx, account.Email, browser.Mobile, account.Proxy)
		if ferr != nil {
			res.recordFailure("token rebuild", ferr)
			return "", false
		}
		*sess = fresh
		if !d.loginWithRebuild(ctx, account, det, sess, browser.Mobile, res) {
			return "", false
		}
		token, err = d.token(ctx, (*sess).Page)
	}
	if err != nil {
		res.recordFailure("mobile token", err)
		return "", false
	}
	return token, true
}

// apiFailure records an API error and feeds it to the ban detector.
// Returns false when the verdict means the account must stop.
func (d *Deps) apiFailure(stage string, det *bandetect.Detector, err error, res *Result) bool {
	res.recordFailure(stage, err)
	v := det.Record(bandetect.CheckAPIError(err))
	return v.Severity < bandetect.SeverityHardBan
}

func (d *Deps) runDailyCheckIn(ctx context.Context, det *bandetect.Detector, token string, res *Result) bool {
	today := state.Today()
	if d.Jobs.IsCompleted(res.Account, today, state.UnitDailyCheckIn) {
		logger.Debug("[pipeline] daily check-in already claimed", "account", res.Account)
		return true
	}
	if err := d.Jobs.RecordAttempt(res.Account, today, state.UnitDailyCheckIn); err != nil {
		res.recordFailure("daily check-in", err)
		return true
	}

	before, err := d.API.Balance(ctx, token)
	if err != nil {
		return d.apiFailure("daily check-in", det, err, res)
	}
	after, err := d.API.DailyCheckIn(ctx, token, d.country())
	if err != nil {
		return d.apiFailure("daily check-in", det, err, res)
	}

	gained := after - before
	if gained < 0 {
		gained = 0
	}
	if err := d.Jobs.Mark(res.Account, today, state.UnitDailyCheckIn, gained); err != nil {
		res.recordFailure("daily check-in", err)
		return true
	}
	res.MobilePoints += gained
	res.Completed++
	logger.Info("[pipeline] daily check-in claimed", "account", res.Account, "points", gained)
	return true
}

// runReadToEarn claims articles until the balance stops moving, crediting
// each article separately so a partial day resumes where it left off.
func (d *Deps) runReadToEarn(ctx context.Context, det *bandetect.Detector, token string, res *Result) bool {
	today := state.Today()
	balance, err := d.API.Balance(ctx, token)
	if err != nil {
		return d.apiFailure("read-to-earn", det, err, res)
	}

	for i := 0; i < readToEarnArticles; i++ {
		if d.halted() {
			return true
		}
		unit := state.ReadToEarnUnit(i)
		if d.Jobs.IsCompleted(res.Account, today, unit) {
			continue
		}
		if err := d.Jobs.RecordAttempt(res.Account, today, unit); err != nil {
			res.recordFailure("read-to-earn", err)
			return true
		}

		after, err := d.API.ClaimArticle(ctx, token, d.country())
		if err != nil {
			return d.apiFailure("read-to-earn", det, err, res)
		}
		if after <= balance {
			logger.Debug("[pipeline] read-to-earn allowance spent", "account", res.Account, "articles", i)
			return true
		}

		gained := after - balance
		balance = after
		if err := d.Jobs.Mark(res.Account, today, unit, gained); err != nil {
			res.recordFailure("read-to-earn", err)
			return true
		}
		res.MobilePoints += gained
		res.Completed++

		if err := d.pause(ctx, 2*time.Second, 5*time.Second); err != nil {
			return true
		}
	}
	return true
}

// runMobileSearch runs the mobile bucket, then retries with fresh
// sessions while progress is still missing. With retries configured to
// zero an incomplete bucket only warns.
func (d *Deps) runMobileSearch(ctx context.Context, account config.Account, det *bandetect.Detector, sess **browser.Session, res *Result) {
	counter := func(dd *rewards.DashboardData) int {
		return rewards.Remaining(dd.UserStatus.Counters.MobileSearch)
	}
	today := state.Today()

	d.runSearch(ctx, *sess, state.UnitMobileSearch, res, &res.MobilePoints, counter)

	for attempt := 1; attempt <= d.Config.SearchSettings.RetryMobileSearchAmount; attempt++ {
		if d.halted() || d.Jobs.IsCompleted(res.Account, today, state.UnitMobileSearch) {
			return
		}
		logger.Info("[pipeline] mobile search incomplete, retrying with a fresh session",
			"account", account.Email, "attempt", attempt)

		(*sess).Close()
		fresh, err := d.Factory.NewSession(ctx, account.Email, browser.Mobile, account.Proxy)
		if err != nil {
			res.recordFailure("mobile search retry", err)
			return
		}
		*sess = fresh
		if d.Config.BanDetection.Enabled {
			det.Attach(ctx, fresh.Page)
		}
		if !d.loginWithRebuild(ctx, account, det, sess, browser.Mobile, res) {
			return
		}
		d.runSearch(ctx, *sess, state.UnitMobileSearch, res, &res.MobilePoints, counter)
	}

	if !d.Jobs.IsCompleted(res.Account, today, state.UnitMobileSearch) {
		logger.Warn("[pipeline] mobile search bucket still incomplete", "account", account.Email)
	}
}
