package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/humanize"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/logger"
)

const redeemPageURL = "https://rewards.bing.com/redeem"

// turnstileWait bounds the challenge-widget wait at one minute total.
var turnstileWait = browser.WaitOptions{
	Initial:  30 * time.Second,
	Extended: 30 * time.Second,
	Interval: time.Second,
}

var successURLRe = regexp.MustCompile(`(?i)orderconfirmation|success|confirmed`)

// freeCardsJS collects detail links for cards whose price reads as zero
// points. Class-based and locale-agnostic.
const freeCardsJS = `(() => {
  const re = /^0\s*points?$/i;
  const urls = [];
  document.querySelectorAll('a[class*="rewardCard"], a[class*="card"]').forEach(a => {
    const price = a.querySelector('[class*="price"]');
    if (price && re.test(price.textContent.trim()) && a.href) urls.push(a.href);
  });
  return JSON.stringify(urls);
})()`

var (
	redeemButtonSels  = []string{"#redeem-pdp-redeem-button", "a.redeemButton", `[data-bi-id="redeem"]`}
	confirmButtonSels = []string{"#redeem-checkout-review-confirm", "#checkout-confirm", `button[type="submit"]`}
	turnstileSels     = []string{`iframe[src*="turnstile"]`, "#cf-chl-widget", ".cf-turnstile"}
	successSels       = []string{".purchase-success", `[class*="orderConfirmation"]`}
)

// RunFreeRewards redeems every zero-point card currently offered. Gating
// on configuration and on the account having a phone number happens in
// the pipeline. Returns the number of redemptions attempted.
func RunFreeRewards(ctx context.Context, d *Deps) (int, error) {
	page, err := d.Session.NewPage(ctx)
	if err != nil {
		return 0, err
	}
	defer page.Close(ctx)

	if _, err := page.Goto(ctx, redeemPageURL); err != nil {
		return 0, err
	}

	v, err := page.Evaluate(ctx, freeCardsJS)
	if err != nil {
		return 0, err
	}
	raw, _ := v.(string)
	var urls []string
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &urls); err != nil {
			return 0, fmt.Errorf("decode free card list: %w", err)
		}
	}
	if len(urls) == 0 {
		logger.Debug("[activities] no zero-point cards offered", "account", d.Account)
		return 0, nil
	}

	attempted := 0
	for _, cardURL := range urls {
		if err := redeemCard(ctx, d, page, cardURL); err != nil {
			logger.Warn("[activities] redemption failed", "account", d.Account, "error", err.Error())
			continue
		}
		attempted++
		if err := d.pause(ctx, 3*time.Second, 8*time.Second); err != nil {
			return attempted, err
		}
	}
	return attempted, nil
}

func redeemCard(ctx context.Context, d *Deps, page browser.Page, cardURL string) error {
	if _, err := page.Goto(ctx, cardURL); err != nil {
		return err
	}

	if err := clickFirst(ctx, d, page, redeemButtonSels, "redeem control"); err != nil {
		return err
	}
	if err := awaitTurnstile(ctx, page); err != nil {
		return err
	}
	if err := clickFirst(ctx, d, page, confirmButtonSels, "checkout confirm"); err != nil {
		return err
	}
	return verifyRedemption(ctx, d, page)
}

func clickFirst(ctx context.Context, d *Deps, page browser.Page, selectors []string, what string) error {
	for _, sel := range selectors {
		visible, err := browser.WaitVisible(ctx, page, sel, d.wait())
		if err != nil {
			return err
		}
		if visible {
			return page.Click(ctx, sel)
		}
	}
	return fmt.Errorf("%s not found on %s", what, page.URL())
}

// awaitTurnstile waits out a Cloudflare Turnstile widget when present,
// keeping humanized input flowing while it verifies.
func awaitTurnstile(ctx context.Context, page browser.Page) error {
	present := false
	for _, sel := range turnstileSels {
		if v, err := page.IsVisible(ctx, sel); err == nil && v {
			present = true
			break
		}
	}
	if !present {
		return nil
	}

	logger.Info("[activities] turnstile widget present, waiting")
	cleared, err := browser.WaitFor(ctx, turnstileWait, func(ctx context.Context) (bool, error) {
		if humanize.Bool(0.3) {
			_ = page.MouseMove(ctx, humanize.FloatIn(100, 800), humanize.FloatIn(100, 600))
		}
		if humanize.Bool(0.2) {
			_ = page.Wheel(ctx, 0, humanize.FloatIn(-120, 120))
		}
		for _, sel := range turnstileSels {
			if v, err := page.IsVisible(ctx, sel); err != nil {
				return false, err
			} else if v {
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	if !cleared {
		return fmt.Errorf("turnstile did not clear within the wait bound")
	}
	return nil
}

// verifyRedemption confirms success by URL or a success-classed element.
// An absent indicator still counts as success, with a warning for
// operator review.
func verifyRedemption(ctx context.Context, d *Deps, page browser.Page) error {
	confirmed, err := browser.WaitFor(ctx, d.wait(), func(ctx context.Context) (bool, error) {
		if successURLRe.MatchString(page.URL()) {
			return true, nil
		}
		for _, sel := range successSels {
			if v, err := page.IsVisible(ctx, sel); err != nil {
				return false, err
			} else if v {
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	if !confirmed {
		logger.Warn("[activities] redemption finished without an explicit success indicator",
			"account", d.Account, "url", page.URL())
	}
	return nil
}
