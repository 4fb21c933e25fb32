package bandetect

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
)

// loadCheckInterval throttles load-event checks.
const loadCheckInterval = 5 * time.Second

var consoleKeywords = []string{"suspended", "blocked", "unusual activity", "access denied"}

// Monitor watches one page for ban signals as they happen: HTML responses,
// throttled load events and console messages.
type Monitor struct {
	det *Detector

	mu       sync.Mutex
	lastLoad time.Time
}

// Attach installs the event hooks on a page. ctx bounds the text reads
// triggered by load events.
func (d *Detector) Attach(ctx context.Context, page browser.Page) *Monitor {
	m := &Monitor{det: d}

	page.OnResponse(func(resp browser.Response) {
		if !strings.Contains(strings.ToLower(resp.Header("content-type")), "text/html") {
			return
		}
		d.Record(Fuse(
			CheckHTTP(resp.Status(), resp.Header),
			CheckURL(resp.URL()),
		))
	})

	page.OnLoad(func() {
		if !m.allowLoadCheck() {
			return
		}
		_, _ = d.Comprehensive(ctx, page)
	})

	page.OnConsole(func(text string) {
		lower := strings.ToLower(text)
		for _, kw := range consoleKeywords {
			if strings.Contains(lower, kw) {
				v := CheckText(text)
				if v.Severity == SeverityNone {
					v = Verdict{Severity: SeverityWarning, Label: "console-keyword", Detail: kw}
				}
				d.Record(v)
				return
			}
		}
	})

	return m
}

func (m *Monitor) allowLoadCheck() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.lastLoad) < loadCheckInterval {
		return false
	}
	m.lastLoad = time.Now()
	return true
}

// Comprehensive checks the current URL and full page text and records the
// fused verdict. The pipeline calls this between work units.
func (d *Detector) Comprehensive(ctx context.Context, page browser.Page) (Verdict, error) {
	urlVerdict := CheckURL(page.URL())

	text, err := page.InnerText(ctx)
	if err != nil {
		return d.Record(urlVerdict), err
	}
	return d.Record(Fuse(urlVerdict, CheckText(text))), nil
}
