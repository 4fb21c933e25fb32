package auth

import (
	"context"
	"regexp"
	"strings"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/logger"
)

var skipPhraseRe = regexp.MustCompile(`(?i)skip|later|not now|no thanks|maybe later|cancel|other ways`)

// passkey prompt artifacts, probed in ladder order
var (
	secondaryButtonSel = `[data-testid="secondaryButton"]`
	biometricVideoSel  = `video[autoplay], [data-testid="biometricVideo"]`
	helloSelectors     = []string{"#idA_PWD_SwitchToCredPicker", "#idBtn_Back", `[aria-label="Other ways to sign in"]`}
	closeButtonSels    = []string{`[aria-label="Close"]`, "button.close", "#close-button"}
	qrDialogSel        = `[role="dialog"]`
	qrBackSels         = []string{"#idBtn_Back", `button[aria-label="Back"]`, `[data-testid="cancelButton"]`}
)

const passkeyPollBound = 6

// DismissPasskey walks the dismissal ladder until the prompt goes away.
// Returns the reason label of the rung that worked. Fail-open: after the
// poll bound it reports "no-prompt" and the flow continues.
func DismissPasskey(ctx context.Context, page browser.Page) (string, error) {
	for i := 0; i < passkeyPollBound; i++ {
		reason, dismissed, err := tryDismissOnce(ctx, page)
		if err != nil {
			return "", err
		}
		if dismissed {
			return reason, nil
		}

		still := passkeyTitleRe.MatchString(titleOf(ctx, page))
		if !still {
			return "no-prompt", nil
		}
	}
	logger.Info("[auth] passkey prompt not dismissed within poll bound, continuing")
	return "no-prompt", nil
}

func titleOf(ctx context.Context, page browser.Page) string {
	title, err := page.Title(ctx)
	if err != nil {
		return ""
	}
	return title
}

func tryDismissOnce(ctx context.Context, page browser.Page) (string, bool, error) {
	// Rung 1: secondary button with a skip-family label.
	if ok, err := clickSecondaryWithSkipText(ctx, page); err != nil {
		return "", false, err
	} else if ok {
		return "secondary button text", true, nil
	}

	// Rung 2: biometric video present implies the prompt even without the
	// expected label; fall back to any secondary button.
	if visible, err := page.IsVisible(ctx, biometricVideoSel); err != nil {
		return "", false, err
	} else if visible {
		if ok, err := clickIfVisible(ctx, page, secondaryButtonSel); err != nil {
			return "", false, err
		} else if ok {
			return "biometric video heuristic", true, nil
		}
	}

	// Rung 3: passkey title plus any secondary button.
	if passkeyTitleRe.MatchString(titleOf(ctx, page)) {
		if ok, err := clickIfVisible(ctx, page, secondaryButtonSel); err != nil {
			return "", false, err
		} else if ok {
			return "title heuristic", true, nil
		}
	}

	// Rung 4: text-matched buttons anywhere on the page.
	if ok, err := clickButtonByText(ctx, page); err != nil {
		return "", false, err
	} else if ok {
		return "button text match", true, nil
	}

	// Rung 5: Windows Hello specific controls.
	for _, sel := range helloSelectors {
		if ok, err := clickIfVisible(ctx, page, sel); err != nil {
			return "", false, err
		} else if ok {
			return "windows hello control", true, nil
		}
	}

	// Rung 6: a bare close button.
	for _, sel := range closeButtonSels {
		if ok, err := clickIfVisible(ctx, page, sel); err != nil {
			return "", false, err
		} else if ok {
			return "close button", true, nil
		}
	}

	// QR-code passkey dialog: escape first, then back/cancel, then remove
	// the dialog node outright.
	if visible, err := page.IsVisible(ctx, qrDialogSel); err != nil {
		return "", false, err
	} else if visible {
		if err := page.PressKey(ctx, "Escape"); err != nil {
			return "", false, err
		}
		if stillVisible, err := page.IsVisible(ctx, qrDialogSel); err == nil && !stillVisible {
			return "qr dialog escape", true, nil
		}
		for _, sel := range qrBackSels {
			if ok, err := clickIfVisible(ctx, page, sel); err != nil {
				return "", false, err
			} else if ok {
				return "qr dialog back button", true, nil
			}
		}
		if _, err := page.Evaluate(ctx, `document.querySelectorAll('[role="dialog"]').forEach(d => d.remove())`); err == nil {
			return "qr dialog removed", true, nil
		}
	}

	return "", false, nil
}

func clickIfVisible(ctx context.Context, page browser.Page, selector string) (bool, error) {
	visible, err := page.IsVisible(ctx, selector)
	if err != nil || !visible {
		return false, err
	}
	if err := page.Click(ctx, selector); err != nil {
		return false, err
	}
	return true, nil
}

func clickSecondaryWithSkipText(ctx context.Context, page browser.Page) (bool, error) {
	els, err := page.Elements(ctx, secondaryButtonSel)
	if err != nil {
		return false, err
	}
	for _, el := range els {
		visible, err := el.IsVisible(ctx)
		if err != nil || !visible {
			continue
		}
		text, err := el.TextContent(ctx)
		if err != nil {
			continue
		}
		if skipPhraseRe.MatchString(strings.TrimSpace(text)) {
			if err := el.Click(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

func clickButtonByText(ctx context.Context, page browser.Page) (bool, error) {
	els, err := page.Elements(ctx, "button")
	if err != nil {
		return false, err
	}
	for _, el := range els {
		visible, err := el.IsVisible(ctx)
		if err != nil || !visible {
			continue
		}
		text, err := el.TextContent(ctx)
		if err != nil {
			continue
		}
		if skipPhraseRe.MatchString(strings.TrimSpace(text)) {
			if err := el.Click(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}
