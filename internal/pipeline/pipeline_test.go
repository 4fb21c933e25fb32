package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser/browsertest"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/config"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/rewards"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/search"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/state"
)

// portalSite stages what the remote portal shows the automation: a
// dashboard document whose search counters move as searches land.
type portalSite struct {
	mu             sync.Mutex
	pcRemaining    int
	mobRemaining   int
	decrement      int
	searches       int
	dailySet       []rewards.Promotion
	morePromotions []rewards.Promotion
}

func (s *portalSite) dashboardJSON() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := rewards.DashboardData{
		DailySetPromotions: map[string][]rewards.Promotion{
			time.Now().Format("01/02/2006"): s.dailySet,
		},
		MorePromotions: s.morePromotions,
	}
	d.UserStatus.AvailablePoints = 1000
	d.UserStatus.Counters.PCSearch = []rewards.Counter{{PointProgress: 90 - s.pcRemaining, PointProgressMax: 90}}
	d.UserStatus.Counters.MobileSearch = []rewards.Counter{{PointProgress: 90 - s.mobRemaining, PointProgressMax: 90}}
	raw, err := json.Marshal(d)
	if err != nil {
		panic(err)
	}
	return string(raw)
}

func (s *portalSite) install(p *browsertest.Page) {
	p.EvaluateFn = func(js string) (any, error) {
		return s.dashboardJSON(), nil
	}
	p.OnAction = func(p *browsertest.Page, kind, arg string) {
		if kind != "goto" || !strings.Contains(arg, "bing.com/search") {
			return
		}
		s.mu.Lock()
		s.searches++
		if s.pcRemaining > 0 {
			s.pcRemaining -= s.decrement
		} else if s.mobRemaining > 0 {
			s.mobRemaining -= s.decrement
		}
		s.mu.Unlock()
		p.Show("#b_results")
	}
}

// apiScript serves the points API from a canned balance sequence without
// a network round trip.
type apiScript struct {
	mu         sync.Mutex
	balances   []int
	idx        int
	forbidPOST bool
	posts      int
	gets       int
}

func (a *apiScript) Do(req *http.Request) (*http.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if req.Method == http.MethodPost {
		a.posts++
		if a.forbidPOST {
			return cannedResponse(http.StatusForbidden, ""), nil
		}
	} else {
		a.gets++
	}
	i := a.idx
	if i >= len(a.balances) {
		i = len(a.balances) - 1
	}
	a.idx++
	return cannedResponse(http.StatusOK, fmt.Sprintf(`{"response":{"balance":%d}}`, a.balances[i])), nil
}

func cannedResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

type offlineTransport struct{}

func (offlineTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("offline")
}

type failingDoer struct{}

func (failingDoer) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("offline")
}

type notifyRecorder struct {
	mu     sync.Mutex
	events []string
}

func (n *notifyRecorder) Notify(ctx context.Context, event, severity string, fields map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event+"/"+severity)
}

type incidentRecorder struct {
	mu        sync.Mutex
	incidents []rewards.SecurityIncident
}

func (r *incidentRecorder) Report(i rewards.SecurityIncident) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents = append(r.incidents, i)
}

type harness struct {
	deps    *Deps
	driver  *browsertest.Driver
	site    *portalSite
	api     *apiScript
	notify  *notifyRecorder
	sink    *incidentRecorder
	account config.Account

	mu     sync.Mutex
	logins int
	tokens int
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.BanDetection.Enabled = false
	cfg.Workers.DoReadToEarn = true
	cfg.SearchSettings.SearchDelay.Min = config.Duration{Duration: time.Millisecond}
	cfg.SearchSettings.SearchDelay.Max = config.Duration{Duration: 2 * time.Millisecond}
	cfg.SearchSettings.RefetchEvery = 1
	cfg.SearchSettings.StallThreshold = 3
	cfg.SearchSettings.PerSessionMax = 12
	cfg.SearchSettings.RetryMobileSearchAmount = 0
	cfg.Browser.UnitTimeout = config.Duration{Duration: 5 * time.Second}
	return cfg
}

func newHarness(t *testing.T, cfg config.Config) *harness {
	t.Helper()

	site := &portalSite{pcRemaining: 30, mobRemaining: 20, decrement: 10}
	driver := browsertest.NewDriver()
	driver.PageSetup = site.install

	h := &harness{
		driver: driver,
		site:   site,
		api:    &apiScript{balances: []int{1000}},
		notify: &notifyRecorder{},
		sink:   &incidentRecorder{},
		account: config.Account{
			Email:    "runner@example.com",
			Password: "hunter2",
		},
	}

	factory := browser.NewFactory(driver, browser.NewVersionCache(failingDoer{}),
		browser.FactoryConfig{ProfilesRoot: t.TempDir()}, nil)

	h.deps = &Deps{
		Config:    cfg,
		Factory:   factory,
		Jobs:      state.NewJobStore(t.TempDir()),
		History:   state.NewHistoryStore(t.TempDir()),
		Incidents: h.sink,
		Standby:   &rewards.Standby{},
		Notifier:  h.notify,
		Queries:   search.NewSource(&http.Client{Transport: offlineTransport{}}, "en-US"),
		API:       rewards.NewClient(h.api),
		Wait:      browser.WaitOptions{Initial: 50 * time.Millisecond, Extended: 50 * time.Millisecond, Interval: 2 * time.Millisecond},

		loginFn: func(ctx context.Context, a config.Account, p browser.Page) error {
			h.mu.Lock()
			h.logins++
			h.mu.Unlock()
			if fp, ok := p.(*browsertest.Page); ok {
				fp.SetURL(rewards.PortalURL)
			}
			return nil
		},
		tokenFn: func(ctx context.Context, p browser.Page) (string, error) {
			h.mu.Lock()
			h.tokens++
			h.mu.Unlock()
			return "tok", nil
		},
		sleep: func(ctx context.Context, min, max time.Duration) error { return nil },
	}
	return h
}

func (h *harness) loginCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.logins
}

func (h *harness) tokenCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tokens
}

func TestRunAccountFullPass(t *testing.T) {
	h := newHarness(t, testConfig())
	// Balance before check-in, post-check-in, balance before articles, one
	// crediting claim, one unmoved claim that ends the article loop.
	h.api.balances = []int{1000, 1030, 1030, 1060, 1060}

	res := h.deps.RunAccount(context.Background(), h.account)

	assert.True(t, res.Success)
	assert.Equal(t, 30, res.DesktopPoints)
	// 30 check-in, 30 one article, 20 mobile search.
	assert.Equal(t, 80, res.MobilePoints)
	assert.Equal(t, 2, h.loginCount())
	assert.Equal(t, 1, h.tokenCount())

	done := h.deps.Jobs.Completed(h.account.Email, state.Today())
	assert.Contains(t, done, state.UnitDesktopSearch)
	assert.Contains(t, done, state.UnitMobileSearch)
	assert.Contains(t, done, state.UnitDailyCheckIn)
	assert.Contains(t, done, state.ReadToEarnUnit(0))
	assert.True(t, done[state.ReadToEarnUnit(1)].CompletedAt.IsZero(), "unmoved balance ends the article loop")

	entries := h.deps.History.Entries(h.account.Email)
	require.Len(t, entries, 1)
	assert.Equal(t, 110, entries[0].TotalPoints)
	assert.True(t, entries[0].Success)

	assert.Equal(t, []string{"account-run/info"}, h.notify.events)

	for _, c := range h.driver.Contexts {
		assert.True(t, c.Closed, "every context released")
	}
}

func TestRunAccountSkipsWhenNothingEarnable(t *testing.T) {
	h := newHarness(t, testConfig())
	h.site.pcRemaining = 0
	h.site.mobRemaining = 0

	res := h.deps.RunAccount(context.Background(), h.account)

	assert.True(t, res.Success)
	assert.Zero(t, res.DesktopPoints+res.MobilePoints)
	assert.Equal(t, 1, h.loginCount(), "mobile half skipped with the account")
	assert.Zero(t, h.tokenCount())
	assert.Zero(t, h.site.searches)
}

func TestParallelPersonasDoNotGateMobileOnDesktop(t *testing.T) {
	cfg := testConfig()
	cfg.Parallel.Mobile = true
	h := newHarness(t, cfg)
	// Sequentially this skips the mobile half outright (see
	// TestRunAccountSkipsWhenNothingEarnable); concurrently the mobile
	// persona no longer waits for the desktop verdict.
	h.site.pcRemaining = 0
	h.site.mobRemaining = 0

	res := h.deps.RunAccount(context.Background(), h.account)

	assert.True(t, res.Success)
	assert.Equal(t, 2, h.loginCount(), "both personas logged in")
	assert.Equal(t, 1, h.tokenCount())
}

func TestParallelPersonasMergePoints(t *testing.T) {
	cfg := testConfig()
	cfg.Parallel.Mobile = true
	cfg.Workers.DoReadToEarn = false
	cfg.Workers.DoDailyCheckIn = false
	h := newHarness(t, cfg)
	h.site.pcRemaining = 0 // only the mobile bucket left for today

	res := h.deps.RunAccount(context.Background(), h.account)

	assert.True(t, res.Success)
	assert.Equal(t, 20, res.DesktopPoints+res.MobilePoints, "mobile bucket folded into the merged result")
	done := h.deps.Jobs.Completed(h.account.Email, state.Today())
	assert.Contains(t, done, state.UnitDesktopSearch)
	assert.Contains(t, done, state.UnitMobileSearch)
}

func TestRunAccountHonorsRunOnZeroPoints(t *testing.T) {
	cfg := testConfig()
	cfg.RunOnZeroPoints = true
	h := newHarness(t, cfg)
	h.site.pcRemaining = 0
	h.site.mobRemaining = 0

	res := h.deps.RunAccount(context.Background(), h.account)

	assert.True(t, res.Success)
	assert.Equal(t, 2, h.loginCount(), "mobile half still runs")
}

func TestLoginFatalFailsAccountAndSkipsMobile(t *testing.T) {
	h := newHarness(t, testConfig())
	h.deps.loginFn = func(ctx context.Context, a config.Account, p browser.Page) error {
		h.mu.Lock()
		h.logins++
		h.mu.Unlock()
		return fmt.Errorf("sign-in is blocked")
	}

	res := h.deps.RunAccount(context.Background(), h.account)

	assert.False(t, res.Success)
	assert.GreaterOrEqual(t, res.Failed, 1)
	assert.Equal(t, 1, h.loginCount())
	assert.Zero(t, h.tokenCount())
	assert.Equal(t, []string{"account-run/warning"}, h.notify.events)
}

func TestLoginRebuildsOnceAfterTargetClosed(t *testing.T) {
	cfg := testConfig()
	cfg.Workers.DoMobileSearch = false
	cfg.Workers.DoDailyCheckIn = false
	cfg.Workers.DoReadToEarn = false
	h := newHarness(t, cfg)

	first := true
	h.deps.loginFn = func(ctx context.Context, a config.Account, p browser.Page) error {
		if first {
			first = false
			return browser.ErrTargetClosed
		}
		if fp, ok := p.(*browsertest.Page); ok {
			fp.SetURL(rewards.PortalURL)
		}
		return nil
	}

	res := h.deps.RunAccount(context.Background(), h.account)

	assert.True(t, res.Success)
	assert.Len(t, h.driver.Contexts, 2, "one rebuild for the lost context")
	assert.Equal(t, 30, res.DesktopPoints)
}

func TestHardBanFromAPIDisablesAccountOnce(t *testing.T) {
	accountsPath := filepath.Join(t.TempDir(), "accounts.json")
	require.NoError(t, os.WriteFile(accountsPath,
		[]byte(`[{"email": "runner@example.com", "password": "hunter2"}]`), 0o600))

	cfg := testConfig()
	cfg.Workers.DoMobileSearch = false
	h := newHarness(t, cfg)
	h.deps.AccountsPath = accountsPath
	h.api.balances = []int{1000}
	h.api.forbidPOST = true

	res := h.deps.RunAccount(context.Background(), h.account)

	assert.False(t, res.Success)
	assert.GreaterOrEqual(t, res.Failed, 1)

	accounts, err := config.LoadAccounts(accountsPath)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.False(t, accounts[0].IsEnabled())

	require.Len(t, h.sink.incidents, 1)
	assert.Equal(t, rewards.IncidentAccountSuspended, h.sink.incidents[0].Kind)
}

func TestMobileSearchRetriesWithFreshSessions(t *testing.T) {
	cfg := testConfig()
	cfg.Workers.DoDesktopSearch = false
	cfg.Workers.DoDailyCheckIn = false
	cfg.Workers.DoReadToEarn = false
	cfg.SearchSettings.RetryMobileSearchAmount = 2
	h := newHarness(t, cfg)
	h.site.pcRemaining = 0
	h.site.decrement = 0 // progress never moves; every attempt stalls

	res := h.deps.RunAccount(context.Background(), h.account)

	// desktop session, mobile session, two retry sessions
	assert.Len(t, h.driver.Contexts, 4)
	assert.False(t, h.deps.Jobs.IsCompleted(h.account.Email, state.Today(), state.UnitMobileSearch))
	// An exhausted retry budget warns without failing the run.
	assert.True(t, res.Success)
}

func TestStopRequestHaltsBeforeMobile(t *testing.T) {
	h := newHarness(t, testConfig())
	h.deps.Stop = func() bool { return true }

	res := h.deps.RunAccount(context.Background(), h.account)

	assert.True(t, res.Success)
	assert.Equal(t, 1, h.loginCount())
	assert.Zero(t, h.tokenCount())
	assert.Zero(t, h.site.searches)
}

func TestStandbyHaltsBeforeMobile(t *testing.T) {
	h := newHarness(t, testConfig())
	h.deps.Standby.Engage(rewards.NewIncident(
		rewards.IncidentRecoveryMismatch, rewards.SeverityCritical, "other@example.com", "mismatch"))

	res := h.deps.RunAccount(context.Background(), h.account)

	assert.Equal(t, 1, h.loginCount())
	assert.Zero(t, h.tokenCount())
	assert.Zero(t, res.MobilePoints)
}

func TestDailyCheckInAlreadyClaimedIsIdempotent(t *testing.T) {
	cfg := testConfig()
	cfg.Workers.DoDesktopSearch = false
	cfg.Workers.DoMobileSearch = false
	cfg.Workers.DoReadToEarn = false
	h := newHarness(t, cfg)
	require.NoError(t, h.deps.Jobs.Mark(h.account.Email, state.Today(), state.UnitDailyCheckIn, 30))

	res := h.deps.RunAccount(context.Background(), h.account)

	assert.True(t, res.Success)
	assert.Zero(t, h.api.posts, "no second claim call")
}
