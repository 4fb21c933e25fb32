// Package stealth installs the anti-detection layer on a browser context:
// a unified network interceptor that rewrites headers in Chrome's exact
// order and throttles non-critical resources, plus in-page init scripts
// that neutralize the automation fingerprint before any page script runs.
// The spoof set is applied as a whole; partial application is itself a
// fingerprint.
package stealth

import (
	"strings"
	"sync"
	"time"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/humanize"
)

// passthroughTypes are resources never rewritten or delayed differently
// from the browser's own behaviour.
var passthroughTypes = map[string]bool{
	"image": true,
	"media": true,
	"font":  true,
}

// criticalTypes are never throttled.
var criticalTypes = map[string]bool{
	"document": true,
	"xhr":      true,
	"fetch":    true,
}

// acceptLanguages is the weighted accept-language pool; the configured
// locale always leads.
func acceptLanguage(locale string) string {
	base := locale
	if base == "" {
		base = "en-US"
	}
	lang := base
	if i := strings.IndexByte(base, '-'); i > 0 {
		lang = base[:i]
	}
	q := humanize.Pick([]string{"0.9", "0.8"})
	return base + "," + lang + ";q=" + q
}

func acceptFor(resourceType string) string {
	switch resourceType {
	case "document":
		return "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7"
	case "stylesheet":
		return "text/css,*/*;q=0.1"
	case "script":
		return "*/*"
	default:
		return "*/*"
	}
}

func secFetchFor(resourceType string) (dest, mode, site string) {
	switch resourceType {
	case "document":
		return "document", "navigate", "none"
	case "stylesheet":
		return "style", "no-cors", "same-origin"
	case "script":
		return "script", "no-cors", "same-origin"
	default:
		return "empty", "cors", "same-origin"
	}
}

// BuildHeaders produces the ordered outgoing header set for a request.
// Order mimics Chrome: sec-ch-ua* first, upgrade-insecure-requests for
// documents, then user-agent, accept, sec-fetch-*, accept-encoding,
// accept-language, and referer last when present.
func BuildHeaders(resourceType string, fp browser.Fingerprint, locale, referer string) []browser.Header {
	dest, mode, site := secFetchFor(resourceType)

	headers := []browser.Header{
		{Name: "sec-ch-ua", Value: fp.SecCHUA},
		{Name: "sec-ch-ua-mobile", Value: fp.SecCHUAMobile},
		{Name: "sec-ch-ua-platform", Value: fp.SecCHUAPlatform},
	}
	if resourceType == "document" {
		headers = append(headers, browser.Header{Name: "upgrade-insecure-requests", Value: "1"})
	}
	headers = append(headers,
		browser.Header{Name: "user-agent", Value: fp.UserAgent},
		browser.Header{Name: "accept", Value: acceptFor(resourceType)},
		browser.Header{Name: "sec-fetch-site", Value: site},
		browser.Header{Name: "sec-fetch-mode", Value: mode},
		browser.Header{Name: "sec-fetch-dest", Value: dest},
		browser.Header{Name: "accept-encoding", Value: "gzip, deflate, br, zstd"},
		browser.Header{Name: "accept-language", Value: acceptLanguage(locale)},
	)
	if referer != "" {
		headers = append(headers, browser.Header{Name: "referer", Value: referer})
	}
	return headers
}

// Throttler enforces a global minimum gap between non-critical requests,
// with small jitter, so request bursts do not betray automation.
type Throttler struct {
	mu      sync.Mutex
	minGap  time.Duration
	lastAt  time.Time
	sleepFn func(time.Duration)
}

// NewThrottler creates a throttler with the standard 10ms floor.
func NewThrottler() *Throttler {
	return &Throttler{minGap: 10 * time.Millisecond, sleepFn: time.Sleep}
}

// Wait blocks until the gap since the previous throttled request is at
// least minGap plus jitter.
func (t *Throttler) Wait() {
	t.mu.Lock()
	gap := t.minGap + time.Duration(humanize.FloatIn(0, 5))*time.Millisecond
	wait := gap - time.Since(t.lastAt)
	t.lastAt = time.Now().Add(max(0, wait))
	t.mu.Unlock()
	if wait > 0 {
		t.sleepFn(wait)
	}
}

// NewInterceptor builds the unified request interceptor for a session.
func NewInterceptor(fp browser.Fingerprint, locale string, throttle *Throttler) browser.RouteHandler {
	return func(route browser.Route) {
		req := route.Request()
		rt := req.ResourceType()

		if passthroughTypes[rt] {
			route.Continue(browser.RouteOverrides{})
			return
		}

		if throttle != nil && !criticalTypes[rt] {
			throttle.Wait()
		}

		referer := req.Headers()["referer"]
		if referer == "" {
			referer = req.Headers()["Referer"]
		}
		route.Continue(browser.RouteOverrides{
			Headers: BuildHeaders(rt, fp, locale, referer),
		})
	}
}
