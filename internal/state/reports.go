package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"
)

// RunSummary is the on-disk report written once per orchestrator run.
type RunSummary struct {
	RunID       string             `json:"run_id"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	Accounts    int                `json:"accounts"`
	Succeeded   int                `json:"succeeded"`
	Failed      int                `json:"failed"`
	TotalPoints int                `json:"total_points"`
	PerAccount  []AccountRunResult `json:"per_account"`
}

// AccountRunResult is one account's outcome inside a run summary. Emails
// are stored masked; reports are operator-readable artifacts.
type AccountRunResult struct {
	Email       string   `json:"email"`
	Points      int      `json:"points"`
	Completed   int      `json:"completed"`
	Failed      int      `json:"failed"`
	Success     bool     `json:"success"`
	Errors      []string `json:"errors,omitempty"`
	DurationMS  int64    `json:"duration_ms"`
}

// WriteRunSummary stores a summary under reports/YYYY-MM-DD/summary_<runid>.json.
func WriteRunSummary(reportsDir string, summary RunSummary) (string, error) {
	day := summary.StartedAt.Format("2006-01-02")
	dir := filepath.Join(reportsDir, day)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("summary_%s.json", summary.RunID))
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", err
	}
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// ListReports returns report file paths for a day (today when empty),
// newest first.
func ListReports(reportsDir, day string) ([]string, error) {
	if day == "" {
		day = Today()
	}
	dir := filepath.Join(reportsDir, day)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "summary_") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}
