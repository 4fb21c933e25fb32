// Package state holds the durable per-account records that make runs
// resumable: the job-state store of completed work units, the rolling
// account history, and on-disk run reports. All writes are write-and-rename
// atomic; locks guard in-memory updates and file writes only, never any
// browser call.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// Work-unit ids are stable and deterministic so a re-run can skip them.
const (
	UnitDesktopSearch = "search:desktop"
	UnitMobileSearch  = "search:mobile"
	UnitDailyCheckIn  = "daily_checkin"
)

// ReadToEarnUnit returns the work-unit id for one read-to-earn article.
func ReadToEarnUnit(articleIndex int) string {
	return fmt.Sprintf("r2e:%d", articleIndex)
}

// UnitRecord is the stored completion record of one work unit.
type UnitRecord struct {
	CompletedAt time.Time `json:"completed_at"`
	Points      int       `json:"points"`
	Attempts    int       `json:"attempts"`
}

// dayRecords maps work-unit id → record for one local day.
type dayRecords map[string]UnitRecord

// JobStore is the durable record of completed work per account per day.
// One JSON file per account; a per-account mutex serialises writers.
type JobStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewJobStore creates a store rooted at dir (created on demand).
func NewJobStore(dir string) *JobStore {
	return &JobStore{dir: dir, locks: make(map[string]*sync.Mutex)}
}

func (s *JobStore) accountLock(email string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(email)
	if s.locks[key] == nil {
		s.locks[key] = &sync.Mutex{}
	}
	return s.locks[key]
}

func (s *JobStore) path(email string) string {
	return filepath.Join(s.dir, sanitizeEmail(email)+".json")
}

// sanitizeEmail turns an email into a safe file name.
func sanitizeEmail(email string) string {
	r := strings.NewReplacer("@", "_at_", "/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(strings.ToLower(email))
}

func (s *JobStore) load(email string) (map[string]dayRecords, error) {
	raw, err := os.ReadFile(s.path(email))
	if os.IsNotExist(err) {
		return map[string]dayRecords{}, nil
	}
	if err != nil {
		return nil, err
	}
	var all map[string]dayRecords
	if err := json.Unmarshal(raw, &all); err != nil {
		// A corrupt state file must not wedge the account forever.
		return map[string]dayRecords{}, nil
	}
	if all == nil {
		all = map[string]dayRecords{}
	}
	return all, nil
}

func (s *JobStore) save(email string, all map[string]dayRecords) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(s.path(email), data, 0o600)
}

// Completed returns the set of work-unit ids already completed for the
// account on the given date (YYYY-MM-DD). Best-effort snapshot.
func (s *JobStore) Completed(email, date string) map[string]UnitRecord {
	lock := s.accountLock(email)
	lock.Lock()
	defer lock.Unlock()

	all, err := s.load(email)
	if err != nil {
		return map[string]UnitRecord{}
	}
	out := make(map[string]UnitRecord, len(all[date]))
	for id, rec := range all[date] {
		out[id] = rec
	}
	return out
}

// IsCompleted reports whether the unit is already done for the date. An
// attempt-only record does not count.
func (s *JobStore) IsCompleted(email, date, unitID string) bool {
	rec, ok := s.Completed(email, date)[unitID]
	return ok && !rec.CompletedAt.IsZero()
}

// Mark records a completed unit. First write wins: marking an already
// completed unit is a no-op, so replays never rewrite history.
func (s *JobStore) Mark(email, date, unitID string, points int) error {
	lock := s.accountLock(email)
	lock.Lock()
	defer lock.Unlock()

	all, err := s.load(email)
	if err != nil {
		return err
	}
	day := all[date]
	if day == nil {
		day = dayRecords{}
		all[date] = day
	}
	if existing, ok := day[unitID]; ok && !existing.CompletedAt.IsZero() {
		return nil
	}
	attempts := day[unitID].Attempts
	day[unitID] = UnitRecord{CompletedAt: time.Now().UTC(), Points: points, Attempts: attempts + 1}
	return s.save(email, all)
}

// RecordAttempt bumps the attempt counter without marking completion, for
// units whose success could not be confirmed from the dashboard.
func (s *JobStore) RecordAttempt(email, date, unitID string) error {
	lock := s.accountLock(email)
	lock.Lock()
	defer lock.Unlock()

	all, err := s.load(email)
	if err != nil {
		return err
	}
	day := all[date]
	if day == nil {
		day = dayRecords{}
		all[date] = day
	}
	rec := day[unitID]
	if !rec.CompletedAt.IsZero() {
		return nil
	}
	rec.Attempts++
	day[unitID] = rec
	return s.save(email, all)
}

// Reset clears the record for one account and date.
func (s *JobStore) Reset(email, date string) error {
	lock := s.accountLock(email)
	lock.Lock()
	defer lock.Unlock()

	all, err := s.load(email)
	if err != nil {
		return err
	}
	if _, ok := all[date]; !ok {
		return nil
	}
	delete(all, date)
	return s.save(email, all)
}

// ResetAllToday clears today's records for every account with a state file.
func (s *JobStore) ResetAllToday() error {
	today := Today()
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var all map[string]dayRecords
		if err := json.Unmarshal(raw, &all); err != nil {
			continue
		}
		if _, ok := all[today]; !ok {
			continue
		}
		delete(all, today)
		data, err := json.MarshalIndent(all, "", "  ")
		if err != nil {
			continue
		}
		if err := renameio.WriteFile(path, data, 0o600); err != nil {
			return err
		}
	}
	return nil
}

// Today returns the current local date key (YYYY-MM-DD).
func Today() string {
	return time.Now().Format("2006-01-02")
}
