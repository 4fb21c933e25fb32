package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// HistoryEntry is the per-run summary appended after each pipeline run.
type HistoryEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	Date          string    `json:"date"`
	DesktopPoints int       `json:"desktop_points"`
	MobilePoints  int       `json:"mobile_points"`
	TotalPoints   int       `json:"total_points"`
	Completed     int       `json:"completed"`
	Failed        int       `json:"failed"`
	Errors        []string  `json:"errors,omitempty"`
	DurationMS    int64     `json:"duration_ms"`
	Success       bool      `json:"success"`
}

// HistoryWindowDays bounds the rolling retention window.
const HistoryWindowDays = 90

// HistoryStore keeps a rolling per-account run history, one file per
// account, single writer per account.
type HistoryStore struct {
	dir   string
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewHistoryStore creates a history store rooted at dir.
func NewHistoryStore(dir string) *HistoryStore {
	return &HistoryStore{dir: dir, locks: make(map[string]*sync.Mutex)}
}

func (s *HistoryStore) accountLock(email string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(email)
	if s.locks[key] == nil {
		s.locks[key] = &sync.Mutex{}
	}
	return s.locks[key]
}

func (s *HistoryStore) path(email string) string {
	return filepath.Join(s.dir, sanitizeEmail(email)+".json")
}

// Append records one run and prunes entries older than the window.
func (s *HistoryStore) Append(email string, entry HistoryEntry) error {
	lock := s.accountLock(email)
	lock.Lock()
	defer lock.Unlock()

	entries, _ := s.load(email)
	entries = append(entries, entry)

	cutoff := time.Now().AddDate(0, 0, -HistoryWindowDays)
	pruned := entries[:0]
	for _, e := range entries {
		if e.Timestamp.After(cutoff) {
			pruned = append(pruned, e)
		}
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(pruned, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(s.path(email), data, 0o600)
}

func (s *HistoryStore) load(email string) ([]HistoryEntry, error) {
	raw, err := os.ReadFile(s.path(email))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []HistoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, nil
	}
	return entries, nil
}

// Entries returns the stored history for one account, oldest first.
func (s *HistoryStore) Entries(email string) []HistoryEntry {
	lock := s.accountLock(email)
	lock.Lock()
	defer lock.Unlock()
	entries, _ := s.load(email)
	return entries
}

// Accounts lists every account (sanitized form) with a history file.
func (s *HistoryStore) Accounts() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			out = append(out, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	sort.Strings(out)
	return out
}

// AccountStats is an aggregate over one account's retained history.
type AccountStats struct {
	Runs          int     `json:"runs"`
	Successes     int     `json:"successes"`
	TotalPoints   int     `json:"total_points"`
	AvgPoints     float64 `json:"avg_points"`
	LastRun       string  `json:"last_run,omitempty"`
	LastSuccess   bool    `json:"last_success"`
	AvgDurationMS int64   `json:"avg_duration_ms"`
}

// Stats aggregates one account's history.
func (s *HistoryStore) Stats(email string) AccountStats {
	entries := s.Entries(email)
	var st AccountStats
	st.Runs = len(entries)
	var totalDur int64
	for _, e := range entries {
		if e.Success {
			st.Successes++
		}
		st.TotalPoints += e.TotalPoints
		totalDur += e.DurationMS
	}
	if st.Runs > 0 {
		last := entries[len(entries)-1]
		st.AvgPoints = float64(st.TotalPoints) / float64(st.Runs)
		st.LastRun = last.Timestamp.Format(time.RFC3339)
		st.LastSuccess = last.Success
		st.AvgDurationMS = totalDur / int64(st.Runs)
	}
	return st
}

// DailyTotal is one day's aggregate across all accounts.
type DailyTotal struct {
	Date   string `json:"date"`
	Points int    `json:"points"`
	Runs   int    `json:"runs"`
	Failed int    `json:"failed"`
}

// Historical aggregates points per day across all accounts for the last
// n days, oldest first.
func (s *HistoryStore) Historical(days int) []DailyTotal {
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	byDate := make(map[string]*DailyTotal)
	for _, acct := range s.Accounts() {
		raw, err := os.ReadFile(filepath.Join(s.dir, acct+".json"))
		if err != nil {
			continue
		}
		var entries []HistoryEntry
		if json.Unmarshal(raw, &entries) != nil {
			continue
		}
		for _, e := range entries {
			if e.Timestamp.Before(cutoff) {
				continue
			}
			dt := byDate[e.Date]
			if dt == nil {
				dt = &DailyTotal{Date: e.Date}
				byDate[e.Date] = dt
			}
			dt.Points += e.TotalPoints
			dt.Runs++
			dt.Failed += e.Failed
		}
	}
	out := make([]DailyTotal, 0, len(byDate))
	for _, dt := range byDate {
		out = append(out, *dt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// SurfaceBreakdown splits one day's earnings by surface across accounts.
type SurfaceBreakdown struct {
	Date          string `json:"date"`
	DesktopPoints int    `json:"desktop_points"`
	MobilePoints  int    `json:"mobile_points"`
	Completed     int    `json:"completed"`
	Failed        int    `json:"failed"`
}

// ActivityBreakdown aggregates desktop/mobile earnings per day for the
// last n days, oldest first.
func (s *HistoryStore) ActivityBreakdown(days int) []SurfaceBreakdown {
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	byDate := make(map[string]*SurfaceBreakdown)
	for _, acct := range s.Accounts() {
		raw, err := os.ReadFile(filepath.Join(s.dir, acct+".json"))
		if err != nil {
			continue
		}
		var entries []HistoryEntry
		if json.Unmarshal(raw, &entries) != nil {
			continue
		}
		for _, e := range entries {
			if e.Timestamp.Before(cutoff) {
				continue
			}
			b := byDate[e.Date]
			if b == nil {
				b = &SurfaceBreakdown{Date: e.Date}
				byDate[e.Date] = b
			}
			b.DesktopPoints += e.DesktopPoints
			b.MobilePoints += e.MobilePoints
			b.Completed += e.Completed
			b.Failed += e.Failed
		}
	}
	out := make([]SurfaceBreakdown, 0, len(byDate))
	for _, b := range byDate {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// GlobalStats is the all-account aggregate for the dashboard.
type GlobalStats struct {
	Accounts    int     `json:"accounts"`
	TotalRuns   int     `json:"total_runs"`
	TotalPoints int     `json:"total_points"`
	SuccessRate float64 `json:"success_rate"`
}

// Global aggregates everything the store retains.
func (s *HistoryStore) Global() GlobalStats {
	var g GlobalStats
	var successes int
	for _, acct := range s.Accounts() {
		raw, err := os.ReadFile(filepath.Join(s.dir, acct+".json"))
		if err != nil {
			continue
		}
		var entries []HistoryEntry
		if json.Unmarshal(raw, &entries) != nil {
			continue
		}
		g.Accounts++
		g.TotalRuns += len(entries)
		for _, e := range entries {
			g.TotalPoints += e.TotalPoints
			if e.Success {
				successes++
			}
		}
	}
	if g.TotalRuns > 0 {
		g.SuccessRate = float64(successes) / float64(g.TotalRuns)
	}
	return g
}
