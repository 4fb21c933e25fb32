package search

import (
	"context"
	"net/url"
	"time"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/humanize"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/logger"
)

// SearchURL is the rewards-bearing endpoint.
const SearchURL = "https://www.bing.com/search"

// resultsSelector confirms a results page rendered.
const resultsSelector = "#b_results"

// ProgressFunc refetches the dashboard and reports remaining points for
// the persona's search counter.
type ProgressFunc func(ctx context.Context) (int, error)

// Result summarizes one execution pass.
type Result struct {
	QueriesIssued int
	Remaining     int
	Stalled       bool
}

// Engine executes queries on a page until the counter is exhausted, the
// queries run out, or progress stalls.
type Engine struct {
	// DelayMin/DelayMax bound the randomized dwell between queries.
	DelayMin, DelayMax time.Duration
	// RefetchEvery is the query interval between dashboard refetches.
	RefetchEvery int
	// StallThreshold is the number of consecutive queries without counter
	// movement that registers a failure.
	StallThreshold int
	Wait           browser.WaitOptions

	// sleep is a test seam; nil uses the humanized dwell.
	sleep func(ctx context.Context, min, max time.Duration) error
}

func (e *Engine) refetchEvery() int {
	if e.RefetchEvery <= 0 {
		return 4
	}
	return e.RefetchEvery
}

func (e *Engine) stallThreshold() int {
	if e.StallThreshold <= 0 {
		return 12
	}
	return e.StallThreshold
}

func (e *Engine) dwell(ctx context.Context) error {
	if e.sleep != nil {
		return e.sleep(ctx, e.DelayMin, e.DelayMax)
	}
	return humanize.SleepBetween(ctx, e.DelayMin, e.DelayMax)
}

// Run issues queries until remaining reaches zero. remaining is consulted
// once up front and then every RefetchEvery queries.
func (e *Engine) Run(ctx context.Context, page browser.Page, queries []string, remaining ProgressFunc) (Result, error) {
	res := Result{}

	rem, err := remaining(ctx)
	if err != nil {
		return res, err
	}
	res.Remaining = rem
	if rem <= 0 {
		return res, nil
	}

	lastRem := rem
	stalled := 0

	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if _, err := page.Goto(ctx, SearchURL+"?q="+url.QueryEscape(q)); err != nil {
			return res, err
		}
		if _, err := browser.WaitVisible(ctx, page, resultsSelector, e.Wait); err != nil {
			return res, err
		}
		res.QueriesIssued++

		if err := e.dwell(ctx); err != nil {
			return res, err
		}

		if res.QueriesIssued%e.refetchEvery() == 0 {
			rem, err = remaining(ctx)
			if err != nil {
				return res, err
			}
			res.Remaining = rem
			if rem <= 0 {
				return res, nil
			}
			if rem == lastRem {
				stalled += e.refetchEvery()
				if stalled >= e.stallThreshold() {
					logger.Warn("[search] progress stalled", "queries", res.QueriesIssued, "remaining", rem)
					res.Stalled = true
					return res, nil
				}
			} else {
				stalled = 0
				lastRem = rem
			}
		}
	}

	// Query pool exhausted; report the outstanding balance.
	rem, err = remaining(ctx)
	if err != nil {
		return res, err
	}
	res.Remaining = rem
	return res, nil
}
