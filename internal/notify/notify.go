// Package notify delivers run events to configured webhook transports.
// Delivery is best-effort: a failed transport logs and is forgotten, it
// never fails the run that produced the event.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/osteele/liquid"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/config"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/httpretry"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/logger"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/state"
)

// DefaultTimeout bounds one transport delivery when config leaves it unset.
const DefaultTimeout = 10 * time.Second

// defaultSummaryTemplate renders a run summary when the operator has not
// configured one.
const defaultSummaryTemplate = `Run {{ run_id }} finished: ` +
	`{{ succeeded }}/{{ accounts }} accounts succeeded, ` +
	`{{ total_points }} points earned.` +
	`{% if failed > 0 %} {{ failed }} failed, check the logs.{% endif %}`

// Event is the wire payload every transport receives.
type Event struct {
	Event     string            `json:"event"`
	Severity  string            `json:"severity"`
	Fields    map[string]string `json:"fields,omitempty"`
	Text      string            `json:"text,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Manager fans events out to every configured webhook.
type Manager struct {
	webhooks []string
	timeout  time.Duration
	client   *httpretry.RetryClient
	template *liquid.Template

	// now is a test seam for deterministic timestamps.
	now func() time.Time
}

// New builds a manager from the notifications config block. An invalid
// summary template logs and falls back to the built-in one; notification
// setup never fails startup.
func New(cfg config.NotifyConfig, doer httpretry.HTTPDoer) *Manager {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	engine := liquid.NewEngine()
	src := cfg.SummaryTemplate
	if src == "" {
		src = defaultSummaryTemplate
	}
	tmpl, err := engine.ParseString(src)
	if err != nil {
		logger.Warn("[notify] summary template invalid, using built-in", "error", err.Error())
		tmpl, _ = engine.ParseString(defaultSummaryTemplate)
	}

	return &Manager{
		webhooks: cfg.Webhooks,
		timeout:  timeout,
		client:   httpretry.New(doer, 1),
		template: tmpl,
		now:      time.Now,
	}
}

// Notify implements the pipeline's notifier contract.
func (m *Manager) Notify(ctx context.Context, event, severity string, fields map[string]string) {
	m.deliver(ctx, Event{
		Event:     event,
		Severity:  severity,
		Fields:    fields,
		Timestamp: m.now().UTC(),
	})
}

// RunSummary renders the run report through the summary template and
// delivers it as a run-summary event.
func (m *Manager) RunSummary(ctx context.Context, summary state.RunSummary) {
	text, err := m.template.RenderString(liquid.Bindings{
		"run_id":       summary.RunID,
		"accounts":     summary.Accounts,
		"succeeded":    summary.Succeeded,
		"failed":       summary.Failed,
		"total_points": summary.TotalPoints,
	})
	if err != nil {
		logger.Warn("[notify] summary render failed", "error", err.Error())
		text = fmt.Sprintf("Run %s finished: %d/%d succeeded, %d points.",
			summary.RunID, summary.Succeeded, summary.Accounts, summary.TotalPoints)
	}

	severity := "info"
	if summary.Failed > 0 {
		severity = "warning"
	}
	m.deliver(ctx, Event{
		Event:     "run-summary",
		Severity:  severity,
		Text:      text,
		Timestamp: m.now().UTC(),
	})
}

func (m *Manager) deliver(ctx context.Context, ev Event) {
	if len(m.webhooks) == 0 {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Error("[notify] encode event", "error", err.Error())
		return
	}
	for _, url := range m.webhooks {
		if err := m.post(ctx, url, payload); err != nil {
			logger.Warn("[notify] delivery failed",
				"transport", logger.RedactURL(url), "event", ev.Event, "error", err.Error())
		}
	}
}

func (m *Manager) post(ctx context.Context, url string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("transport returned %d", resp.StatusCode)
	}
	return nil
}
