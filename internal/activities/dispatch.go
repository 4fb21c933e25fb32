package activities

import (
	"context"
	"fmt"
	"time"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/humanize"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/logger"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/rewards"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/state"
)

// ActivityError marks a handler-level failure: the unit is recorded as
// failed and the pipeline continues with the next one.
type ActivityError struct {
	Unit string
	Err  error
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("activity %s: %v", e.Unit, e.Err)
}

func (e *ActivityError) Unwrap() error { return e.Err }

// Deps carries the collaborators one dispatch run needs.
type Deps struct {
	Account string
	Session browser.BrowserContext
	Jobs    *state.JobStore
	Wait    browser.WaitOptions

	// Confirm reports whether the dashboard credits the unit after its
	// handler ran. Nil trusts the handler outcome.
	Confirm func(ctx context.Context, promo rewards.Promotion) (bool, error)

	// sleep is a test seam; nil uses humanized sleeps.
	sleep func(ctx context.Context, min, max time.Duration) error
}

func (d *Deps) pause(ctx context.Context, min, max time.Duration) error {
	if d.sleep != nil {
		return d.sleep(ctx, min, max)
	}
	return humanize.SleepBetween(ctx, min, max)
}

func (d *Deps) wait() browser.WaitOptions {
	if d.Wait.Interval > 0 {
		return d.Wait
	}
	return browser.DefaultWait
}

// Handler executes one classified promotion inside its own tab.
type Handler func(ctx context.Context, d *Deps, page browser.Page, promo rewards.Promotion) error

// handlers is the static dispatch table.
var handlers = map[Kind]Handler{
	KindPoll:         handlePoll,
	KindABC:          handleABC,
	KindThisOrThat:   handleThisOrThat,
	KindQuiz:         handleQuiz,
	KindSearchOnBing: handleSearchOnBing,
	KindURLReward:    handleURLReward,
}

// Dispatch classifies and runs one promotion. Completed units (job-state
// or dashboard) are skipped; a handled unit is marked complete only once
// the dashboard confirms it. The promotion's tab is closed on every exit
// path.
func Dispatch(ctx context.Context, d *Deps, promo rewards.Promotion) error {
	unit := promo.OfferID
	if unit == "" {
		unit = promo.Name
	}
	today := state.Today()

	if promo.Complete || d.Jobs.IsCompleted(d.Account, today, unit) {
		logger.Debug("[activities] unit already complete", "account", d.Account, "unit", unit)
		return nil
	}

	kind := Classify(promo)
	handler, ok := handlers[kind]
	if !ok {
		logger.Info("[activities] unsupported promotion skipped",
			"account", d.Account, "unit", unit, "type", promo.PromotionType)
		return nil
	}

	if err := d.Jobs.RecordAttempt(d.Account, today, unit); err != nil {
		return err
	}

	page, err := d.Session.NewPage(ctx)
	if err != nil {
		return &ActivityError{Unit: unit, Err: err}
	}
	defer func() {
		if err := page.Close(ctx); err != nil {
			logger.Warn("[activities] tab close failed", "unit", unit, "error", err.Error())
		}
	}()

	if promo.DestinationURL != "" {
		if _, err := page.Goto(ctx, promo.DestinationURL); err != nil {
			return &ActivityError{Unit: unit, Err: err}
		}
	}

	logger.Info("[activities] running", "account", d.Account, "unit", unit, "kind", string(kind))
	if err := handler(ctx, d, page, promo); err != nil {
		return &ActivityError{Unit: unit, Err: err}
	}

	if d.Confirm != nil {
		credited, err := d.Confirm(ctx, promo)
		if err != nil {
			logger.Warn("[activities] completion check failed",
				"account", d.Account, "unit", unit, "error", err.Error())
			credited = false
		}
		if !credited {
			// Unconfirmed units keep only their attempt record; a later
			// pass may retry them.
			logger.Info("[activities] completion unconfirmed",
				"account", d.Account, "unit", unit)
			return nil
		}
	}

	if err := d.Jobs.Mark(d.Account, today, unit, promo.PointProgressMax-promo.PointProgress); err != nil {
		return err
	}
	return nil
}
