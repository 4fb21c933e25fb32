// Package auth drives the interactive sign-in: an observation-driven
// state machine that classifies the current page after every action and
// chooses the next one. Waits are smart polls only; the machine reaches a
// terminal state within a bounded number of transitions or fails.
package auth

import (
	"context"
	"regexp"
	"strings"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
)

// LoginState is the classifier's verdict for the current page.
type LoginState int

const (
	StateUnknown LoginState = iota
	StateLoggedIn
	StateEmailPage
	StatePasswordPage
	StateTwoFactor
	StatePasskeyPrompt
	StateKMSI
	StateBlocked
	StateEmailSubmitted
)

func (s LoginState) String() string {
	switch s {
	case StateLoggedIn:
		return "logged-in"
	case StateEmailPage:
		return "email-page"
	case StatePasswordPage:
		return "password-page"
	case StateTwoFactor:
		return "two-factor"
	case StatePasskeyPrompt:
		return "passkey-prompt"
	case StateKMSI:
		return "kmsi"
	case StateBlocked:
		return "blocked"
	case StateEmailSubmitted:
		return "email-submitted"
	default:
		return "unknown"
	}
}

// Selector sets for the sign-in surface. Multiple candidates per control
// because the portal ships several page generations.
var (
	emailSelectors    = []string{"#i0116", "input[type=email]", "input[name=loginfmt]"}
	passwordSelectors = []string{"#i0118", "input[type=password]", "input[name=passwd]"}
	otcSelectors      = []string{"#idTxtBx_SAOTCC_OTC", "input[name=otc]"}
	submitSelectors   = []string{"#idSIButton9", "button[type=submit]", "input[type=submit]"}
	kmsiSelectors     = []string{"#kmsiTitle", "#acceptButton"}

	portalPresenceSelectors = []string{"#daily-sets", "#more-activities", "mee-rewards-user-status-banner"}
)

var passkeyTitleRe = regexp.MustCompile(`(?i)passkey|windows hello|sign in faster|face, fingerprint|use your face`)

var blockedTitleRe = regexp.MustCompile(`(?i)can.?t sign you in|account.{0,20}(blocked|locked)|sign.?in is blocked|help us protect`)

func rewardsPortalHost(raw string) bool {
	return strings.Contains(raw, "rewards.bing.com") || strings.Contains(raw, "rewards.microsoft.com")
}

func loginPortalHost(raw string) bool {
	return strings.Contains(raw, "login.live.com") || strings.Contains(raw, "login.microsoftonline.com") ||
		strings.Contains(raw, "account.live.com")
}

func oauthEndpoint(raw string) bool {
	return strings.Contains(raw, "oauth20_authorize") || strings.Contains(raw, "oauth20_desktop")
}

func anyVisible(ctx context.Context, page browser.Page, selectors []string) (string, bool, error) {
	for _, sel := range selectors {
		visible, err := page.IsVisible(ctx, sel)
		if err != nil {
			return "", false, err
		}
		if visible {
			return sel, true, nil
		}
	}
	return "", false, nil
}

// Classify applies the first-match rules to the current page.
func Classify(ctx context.Context, page browser.Page) (LoginState, error) {
	url := page.URL()

	if rewardsPortalHost(url) {
		if _, present, err := anyVisible(ctx, page, portalPresenceSelectors); err != nil {
			return StateUnknown, err
		} else if present {
			return StateLoggedIn, nil
		}
	}

	if loginPortalHost(url) {
		if _, ok, err := anyVisible(ctx, page, emailSelectors); err != nil {
			return StateUnknown, err
		} else if ok {
			return StateEmailPage, nil
		}
		if _, ok, err := anyVisible(ctx, page, passwordSelectors); err != nil {
			return StateUnknown, err
		} else if ok {
			return StatePasswordPage, nil
		}
		if _, ok, err := anyVisible(ctx, page, otcSelectors); err != nil {
			return StateUnknown, err
		} else if ok {
			return StateTwoFactor, nil
		}
		if _, ok, err := anyVisible(ctx, page, kmsiSelectors); err != nil {
			return StateUnknown, err
		} else if ok {
			return StateKMSI, nil
		}

		title, err := page.Title(ctx)
		if err != nil {
			return StateUnknown, err
		}
		if passkeyTitleRe.MatchString(title) {
			return StatePasskeyPrompt, nil
		}
		if blockedTitleRe.MatchString(title) {
			return StateBlocked, nil
		}
	}

	if oauthEndpoint(url) {
		return StateEmailSubmitted, nil
	}
	return StateUnknown, nil
}
