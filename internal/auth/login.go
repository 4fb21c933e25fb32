package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/config"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/humanize"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/logger"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/rewards"
)

// MaxTransitions bounds the state machine. A flow that has not reached a
// terminal state by then fails fatally rather than loop.
const MaxTransitions = 25

// Typing speed factors relative to the base human model.
const (
	passwordSpeedup = 2.0
	totpSpeedup     = 3.0
)

// Flow runs the sign-in state machine for one account on one page.
type Flow struct {
	Account   config.Account
	Wait      browser.WaitOptions
	Incidents rewards.IncidentSink

	// test seams; zero values use the real clock and human delays
	typingDelay func() time.Duration
	sleep       func(context.Context, time.Duration) error
	now         func() time.Time
}

// NewFlow builds a flow with production timing.
func NewFlow(account config.Account, sink rewards.IncidentSink) *Flow {
	return &Flow{
		Account:   account,
		Wait:      browser.DefaultWait,
		Incidents: sink,
	}
}

func (f *Flow) delayFor(speedup float64) time.Duration {
	base := f.typingDelay
	if base == nil {
		base = func() time.Duration { return humanize.TypingDelay(80) }
	}
	return time.Duration(float64(base()) / speedup)
}

func (f *Flow) pause(ctx context.Context, d time.Duration) error {
	if f.sleep != nil {
		return f.sleep(ctx, d)
	}
	return humanize.Sleep(ctx, d)
}

func (f *Flow) clock() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now()
}

func (f *Flow) report(kind, detail string) {
	if f.Incidents != nil {
		f.Incidents.Report(rewards.NewIncident(kind, rewards.SeverityCritical, f.Account.Email, detail))
	}
}

// Run drives the machine until LoggedIn, or fails with *FatalError. A
// closed target propagates so the caller can rebuild the context once.
func (f *Flow) Run(ctx context.Context, page browser.Page) error {
	prev := StateUnknown
	unknownStreak := 0

	for i := 0; i < MaxTransitions; i++ {
		state, err := Classify(ctx, page)
		if err != nil {
			return err
		}
		if state != prev {
			logger.Debug("[auth] state", "account", f.Account.Email, "state", state.String(), "transition", i)
			prev = state
		}

		if loginPortalHost(page.URL()) {
			if err := f.checkRecoveryPage(ctx, page); err != nil {
				return err
			}
		}

		var stepErr error
		switch state {
		case StateLoggedIn:
			logger.Info("[auth] logged in", "account", f.Account.Email, "transitions", i)
			return nil

		case StateEmailPage:
			stepErr = f.typeAndSubmit(ctx, page, emailSelectors, f.Account.Email, 1.0)

		case StatePasswordPage:
			stepErr = f.typeAndSubmit(ctx, page, passwordSelectors, f.Account.Password, passwordSpeedup)

		case StateTwoFactor:
			stepErr = f.handleTwoFactor(ctx, page)

		case StatePasskeyPrompt:
			reason, err := DismissPasskey(ctx, page)
			if err != nil {
				stepErr = err
			} else {
				logger.Info("[auth] passkey prompt handled", "account", f.Account.Email, "reason", reason)
			}

		case StateKMSI:
			stepErr = f.acceptKMSI(ctx, page)

		case StateBlocked:
			title, _ := page.Title(ctx)
			f.report(rewards.IncidentSignInBlocked, title)
			return &FatalError{Kind: rewards.IncidentSignInBlocked, Detail: title}

		case StateEmailSubmitted:
			// OAuth endpoints resolve on their own; give the redirect a beat.
			stepErr = f.pause(ctx, f.Wait.Interval)

		case StateUnknown:
			unknownStreak++
			changed, err := browser.WaitFor(ctx, f.Wait, func(ctx context.Context) (bool, error) {
				s, err := Classify(ctx, page)
				return s != StateUnknown, err
			})
			if err != nil {
				return err
			}
			if !changed && unknownStreak >= 3 {
				return &FatalError{Kind: "unrecognized-page", Detail: "stuck on " + page.URL()}
			}
		}

		if stepErr != nil {
			var recoverable *RecoverableError
			if !errors.As(stepErr, &recoverable) {
				return stepErr
			}
			// A missed control usually means the page is mid-transition;
			// the next observation sees the settled page.
			logger.Debug("[auth] recoverable, re-observing",
				"account", f.Account.Email, "detail", recoverable.Detail)
			if err := f.pause(ctx, f.Wait.Interval); err != nil {
				return err
			}
		}

		if state != StateUnknown {
			unknownStreak = 0
		}
	}
	return &FatalError{Kind: "transition-bound", Detail: fmt.Sprintf("no terminal state in %d transitions", MaxTransitions)}
}

func (f *Flow) checkRecoveryPage(ctx context.Context, page browser.Page) error {
	check, err := CheckRecovery(ctx, page, f.Account)
	if err != nil {
		return err
	}
	if check.Found && check.Mismatch {
		logger.Error("[auth] recovery address mismatch, operator review required",
			"account", f.Account.Email, "mode", check.Mode, "docs", OperatorDocsURL)
		f.report(rewards.IncidentRecoveryMismatch,
			fmt.Sprintf("masked address %s does not match account (%s mode)", check.Candidate, check.Mode))
		return &FatalError{Kind: rewards.IncidentRecoveryMismatch, Detail: check.Candidate}
	}
	return nil
}

func (f *Flow) typeAndSubmit(ctx context.Context, page browser.Page, selectors []string, text string, speedup float64) error {
	sel, ok, err := anyVisible(ctx, page, selectors)
	if err != nil {
		return err
	}
	if !ok {
		return &RecoverableError{Detail: "input field disappeared before typing"}
	}

	if err := page.Click(ctx, sel); err != nil {
		return err
	}
	for _, ch := range text {
		if err := page.TypeChar(ctx, sel, ch); err != nil {
			return err
		}
		if err := f.pause(ctx, f.delayFor(speedup)); err != nil {
			return err
		}
	}
	return f.submit(ctx, page)
}

func (f *Flow) submit(ctx context.Context, page browser.Page) error {
	sel, ok, err := anyVisible(ctx, page, submitSelectors)
	if err != nil {
		return err
	}
	if !ok {
		return page.PressKey(ctx, "Enter")
	}
	return page.Click(ctx, sel)
}

func (f *Flow) handleTwoFactor(ctx context.Context, page browser.Page) error {
	if f.Account.TOTP == "" {
		f.report(rewards.IncidentSignInBlocked, "2FA required without a configured secret")
		return &FatalError{Kind: "manual-2fa", Detail: "2FA required without a configured secret"}
	}

	code, err := totp.GenerateCode(f.Account.TOTP, f.clock())
	if err != nil {
		return fmt.Errorf("generate one-time code: %w", err)
	}
	return f.typeAndSubmit(ctx, page, otcSelectors, code, totpSpeedup)
}

func (f *Flow) acceptKMSI(ctx context.Context, page browser.Page) error {
	for _, sel := range []string{"#acceptButton", "#idSIButton9"} {
		if ok, err := clickIfVisible(ctx, page, sel); err != nil {
			return err
		} else if ok {
			return nil
		}
	}
	return &RecoverableError{Detail: "kmsi primary button not found"}
}
