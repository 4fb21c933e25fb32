package auth

import (
	"context"
	"regexp"
	"strings"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/config"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/logger"
)

// OperatorDocsURL is opened for the operator when a recovery mismatch
// halts automation.
const OperatorDocsURL = "https://github.com/shelltar/Microsoft-Rewards-Bot/wiki/recovery-mismatch"

// Selectors that reveal a masked recovery address on proof pages.
var recoverySelectors = []string{
	"#iProofEmail",
	`[data-testid="proofEmail"]`,
	".table-row .text-block-body",
}

// maskedEmailRe matches masked proof addresses like k*****@domain.tld,
// capturing up to two visible leading characters and the domain.
var maskedEmailRe = regexp.MustCompile(`([A-Za-z0-9])([A-Za-z0-9]?)\*+@([A-Za-z0-9.-]+\.[A-Za-z]{2,})`)

// RecoveryCheck is the outcome of one masked-address comparison.
type RecoveryCheck struct {
	// Found is false when the page reveals no masked address.
	Found bool
	// Mismatch means neither the recovery address nor the account address
	// is consistent with the masked candidate.
	Mismatch bool
	// Mode is "strict" (two visible chars) or "lenient" (one).
	Mode      string
	Candidate string
}

// CheckRecovery extracts masked recovery candidates from the page and
// compares them against the account. Domain must match exactly; the
// prefix comparison is strict with two visible characters and lenient
// with one. The matched mode is always logged.
func CheckRecovery(ctx context.Context, page browser.Page, account config.Account) (RecoveryCheck, error) {
	candidates, err := maskedCandidates(ctx, page)
	if err != nil {
		return RecoveryCheck{}, err
	}
	if len(candidates) == 0 {
		return RecoveryCheck{}, nil
	}

	for _, candidate := range candidates {
		check := compareCandidate(candidate, account)
		logger.Info("[auth] recovery check",
			"account", account.Email, "mode", check.Mode, "mismatch", check.Mismatch)
		if check.Mismatch {
			return check, nil
		}
	}
	first := compareCandidate(candidates[0], account)
	return first, nil
}

func maskedCandidates(ctx context.Context, page browser.Page) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	add := func(text string) {
		for _, m := range maskedEmailRe.FindAllString(text, -1) {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}

	for _, sel := range recoverySelectors {
		text, err := page.TextContent(ctx, sel)
		if err != nil {
			return nil, err
		}
		add(text)
	}
	if len(out) == 0 {
		body, err := page.InnerText(ctx)
		if err != nil {
			return nil, err
		}
		add(body)
	}
	return out, nil
}

func compareCandidate(candidate string, account config.Account) RecoveryCheck {
	m := maskedEmailRe.FindStringSubmatch(candidate)
	if m == nil {
		return RecoveryCheck{}
	}
	visible := strings.ToLower(m[1] + m[2])
	domain := strings.ToLower(m[3])

	mode := "lenient"
	if len(visible) == 2 {
		mode = "strict"
	}

	check := RecoveryCheck{Found: true, Mode: mode, Candidate: candidate}
	for _, known := range []string{account.RecoveryEmail, account.Email} {
		if matchesKnown(known, visible, domain) {
			return check
		}
	}
	check.Mismatch = true
	return check
}

func matchesKnown(known, visible, domain string) bool {
	known = strings.ToLower(strings.TrimSpace(known))
	at := strings.LastIndexByte(known, '@')
	if at <= 0 {
		return false
	}
	prefix, knownDomain := known[:at], known[at+1:]
	if knownDomain != domain {
		return false
	}
	if len(prefix) < len(visible) {
		return false
	}
	return strings.HasPrefix(prefix, visible)
}
