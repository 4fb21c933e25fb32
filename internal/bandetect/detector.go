// Package bandetect fuses URL, page-text, HTTP and API signals into a
// single ban verdict per account. A hard ban disables the account on disk
// exactly once; accumulated warnings escalate to a soft ban.
package bandetect

import (
	"errors"
	"net/http"
	"regexp"
	"sync"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/logger"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/rewards"
)

// Severity orders ban verdicts from benign to terminal.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityWarning
	SeveritySoftBan
	SeverityHardBan
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeveritySoftBan:
		return "soft-ban"
	case SeverityHardBan:
		return "hard-ban"
	default:
		return "none"
	}
}

// Verdict is one classified signal or the fusion of several.
type Verdict struct {
	Severity Severity
	Label    string
	Detail   string
}

// None is the empty verdict.
var None = Verdict{}

// DefaultEscalationThreshold is the warning count that becomes a soft ban.
const DefaultEscalationThreshold = 3

var urlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)suspended`),
	regexp.MustCompile(`(?i)blocked`),
	regexp.MustCompile(`(?i)error.*unusual`),
	regexp.MustCompile(`(?i)security.*verify`),
	regexp.MustCompile(`(?i)account.*issue`),
}

type textPattern struct {
	label    string
	severity Severity
	re       *regexp.Regexp
}

var textPatterns = []textPattern{
	{"order-blocked", SeverityHardBan, regexp.MustCompile(`(?i)order has been blocked|cannot complete your order`)},
	{"account-suspended", SeverityHardBan, regexp.MustCompile(`(?i)account (has been |is )?suspended`)},
	{"access-denied", SeverityHardBan, regexp.MustCompile(`(?i)access (is )?denied`)},
	{"unusual-activity", SeveritySoftBan, regexp.MustCompile(`(?i)unusual activity`)},
	{"verification-required", SeverityWarning, regexp.MustCompile(`(?i)verify your (account|identity)|verification required`)},
	{"security-challenge", SeverityWarning, regexp.MustCompile(`(?i)security challenge|prove you'?re not a robot`)},
	{"rate-limited", SeverityWarning, regexp.MustCompile(`(?i)too many requests|rate limit`)},
	{"captcha-required", SeverityWarning, regexp.MustCompile(`(?i)captcha`)},
	{"session-expired", SeverityWarning, regexp.MustCompile(`(?i)session (has )?expired`)},
}

// DisableFunc rewrites the account file for a banned account.
type DisableFunc func(email, reason string) error

// Detector accumulates verdicts for one account over one session.
type Detector struct {
	account   string
	disable   DisableFunc
	incidents rewards.IncidentSink
	threshold int

	mu             sync.Mutex
	warnings       int
	hardBanHandled bool
}

// New builds a detector. threshold <= 0 uses the default of 3.
func New(account string, threshold int, disable DisableFunc, sink rewards.IncidentSink) *Detector {
	if threshold <= 0 {
		threshold = DefaultEscalationThreshold
	}
	return &Detector{account: account, threshold: threshold, disable: disable, incidents: sink}
}

// CheckURL classifies a page URL. Any match is a soft ban.
func CheckURL(url string) Verdict {
	for _, re := range urlPatterns {
		if re.MatchString(url) {
			return Verdict{Severity: SeveritySoftBan, Label: "url-pattern", Detail: re.String()}
		}
	}
	return None
}

// CheckText classifies page or console text against the labelled set.
// The worst matching pattern wins.
func CheckText(text string) Verdict {
	worst := None
	for _, p := range textPatterns {
		if p.severity > worst.Severity && p.re.MatchString(text) {
			worst = Verdict{Severity: p.severity, Label: p.label, Detail: p.re.String()}
		}
	}
	return worst
}

// CheckHTTP classifies a navigation response. header may be nil.
func CheckHTTP(status int, header func(name string) string) Verdict {
	switch status {
	case http.StatusForbidden:
		return Verdict{Severity: SeverityHardBan, Label: "http-403"}
	case http.StatusTooManyRequests, http.StatusUnavailableForLegalReasons:
		return Verdict{Severity: SeverityWarning, Label: "http-rate-status"}
	}
	if header != nil {
		if header("retry-after") != "" {
			return Verdict{Severity: SeverityWarning, Label: "retry-after"}
		}
		if header("x-rate-limit-remaining") == "0" {
			return Verdict{Severity: SeverityWarning, Label: "rate-limit-exhausted"}
		}
	}
	return None
}

// CheckAPIError classifies a rewards API failure. A 403 from the API is
// terminal.
func CheckAPIError(err error) Verdict {
	if err == nil {
		return None
	}
	if errors.Is(err, rewards.ErrForbidden) {
		return Verdict{Severity: SeverityHardBan, Label: "api-403"}
	}
	return None
}

// Fuse returns the worst of the given verdicts.
func Fuse(vs ...Verdict) Verdict {
	worst := None
	for _, v := range vs {
		if v.Severity > worst.Severity {
			worst = v
		}
	}
	return worst
}

// Record applies a verdict to the account state: warnings count toward
// escalation, a hard ban disables the account and emits an incident, both
// exactly once. Returns the effective verdict after escalation.
func (d *Detector) Record(v Verdict) Verdict {
	if v.Severity == SeverityNone {
		return v
	}

	d.mu.Lock()
	if v.Severity == SeverityWarning {
		d.warnings++
		if d.warnings == d.threshold {
			v = Verdict{Severity: SeveritySoftBan, Label: "warning-escalation", Detail: v.Label}
		}
	}
	handleHard := v.Severity == SeverityHardBan && !d.hardBanHandled
	if handleHard {
		d.hardBanHandled = true
	}
	d.mu.Unlock()

	logger.Warn("[bandetect] verdict", "account", d.account,
		"severity", v.Severity.String(), "label", v.Label)

	if handleHard {
		reason := v.Label
		if v.Detail != "" {
			reason = v.Label + ": " + v.Detail
		}
		if d.disable != nil {
			if err := d.disable(d.account, reason); err != nil {
				logger.Error("[bandetect] account disable failed", "account", d.account, "error", err.Error())
			}
		}
		if d.incidents != nil {
			d.incidents.Report(rewards.NewIncident(
				rewards.IncidentAccountSuspended, rewards.SeverityCritical, d.account, reason))
		}
	}
	return v
}

// Warnings returns the current warning count.
func (d *Detector) Warnings() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.warnings
}
