package rewards

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
)

// PortalURL is the rewards home every session opens first.
const PortalURL = "https://rewards.bing.com/"

// Counter is one progress counter from the dashboard user status block.
type Counter struct {
	Name             string `json:"name"`
	PointProgress    int    `json:"pointProgress"`
	PointProgressMax int    `json:"pointProgressMax"`
	Complete         bool   `json:"complete"`
}

// Counters groups the per-surface search and activity counters.
type Counters struct {
	PCSearch        []Counter `json:"pcSearch"`
	MobileSearch    []Counter `json:"mobileSearch"`
	DailyPoint      []Counter `json:"dailyPoint"`
	ShopAndEarn     []Counter `json:"shopAndEarn"`
	ActivityAndQuiz []Counter `json:"activityAndQuiz"`
}

// UserStatus is the account-level block of the dashboard document.
type UserStatus struct {
	AvailablePoints int      `json:"availablePoints"`
	LifetimePoints  int      `json:"lifetimePoints"`
	LevelInfo       struct {
		ActiveLevel string `json:"activeLevel"`
	} `json:"levelInfo"`
	Counters Counters `json:"counters"`
}

// Promotion is one offer card: a daily-set item, a more-promotions item or
// a punch-card child.
type Promotion struct {
	Name             string `json:"name"`
	OfferID          string `json:"offerId"`
	Title            string `json:"title"`
	PromotionType    string `json:"promotionType"`
	PointProgress    int    `json:"pointProgress"`
	PointProgressMax int    `json:"pointProgressMax"`
	Complete         bool   `json:"complete"`
	DestinationURL   string `json:"destinationUrl"`
	Date             string `json:"date"`
}

// PunchCard is a parent promotion with dependent child offers.
type PunchCard struct {
	ParentPromotion Promotion   `json:"parentPromotion"`
	ChildPromotions []Promotion `json:"childPromotions"`
}

// DashboardData is the scraped portal document.
type DashboardData struct {
	UserStatus         UserStatus             `json:"userStatus"`
	DailySetPromotions map[string][]Promotion `json:"dailySetPromotions"`
	MorePromotions     []Promotion            `json:"morePromotions"`
	PunchCards         []PunchCard            `json:"punchCards"`
}

// dashboardExtractJS pulls the dashboard object the portal embeds for its
// own scripts. Evaluated in the portal page after load.
const dashboardExtractJS = `(() => {
  const d = window.dashboard || (window.__STATE__ && window.__STATE__.dashboard);
  return d ? JSON.stringify(d) : null;
})()`

// FetchDashboard navigates to the portal (when not already there) and
// extracts the embedded dashboard document.
func FetchDashboard(ctx context.Context, page browser.Page) (*DashboardData, error) {
	if !strings.Contains(page.URL(), "rewards.bing.com") && !strings.Contains(page.URL(), "rewards.microsoft.com") {
		if _, err := page.Goto(ctx, PortalURL); err != nil {
			return nil, fmt.Errorf("open rewards portal: %w", err)
		}
	}

	var raw string
	ok, err := browser.WaitFor(ctx, browser.DefaultWait, func(ctx context.Context) (bool, error) {
		v, err := page.Evaluate(ctx, dashboardExtractJS)
		if err != nil {
			return false, err
		}
		s, _ := v.(string)
		if s == "" {
			return false, nil
		}
		raw = s
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("extract dashboard: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("dashboard object not present on %s", page.URL())
	}

	var data DashboardData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decode dashboard: %w", err)
	}
	return &data, nil
}

// Remaining returns outstanding points for a counter list (first entry).
func Remaining(cs []Counter) int {
	if len(cs) == 0 {
		return 0
	}
	r := cs[0].PointProgressMax - cs[0].PointProgress
	if r < 0 {
		return 0
	}
	return r
}

// BrowserEarnable sums points still earnable through browser work:
// searches plus incomplete promotions.
func (d *DashboardData) BrowserEarnable() int {
	total := Remaining(d.UserStatus.Counters.PCSearch)
	for _, p := range d.TodayDailySet() {
		if !p.Complete {
			total += p.PointProgressMax - p.PointProgress
		}
	}
	for _, p := range d.MorePromotions {
		if !p.Complete {
			total += p.PointProgressMax - p.PointProgress
		}
	}
	for _, pc := range d.PunchCards {
		for _, p := range pc.ChildPromotions {
			if !p.Complete {
				total += p.PointProgressMax - p.PointProgress
			}
		}
	}
	return total
}

// AppEarnable sums points still earnable through the mobile surface.
func (d *DashboardData) AppEarnable() int {
	total := Remaining(d.UserStatus.Counters.MobileSearch)
	total += Remaining(d.UserStatus.Counters.DailyPoint)
	return total
}

// FindPromotion locates a promotion across the daily sets, more
// promotions and punch-card children, by offer id or, failing that, name.
func (d *DashboardData) FindPromotion(offerID, name string) (Promotion, bool) {
	match := func(p Promotion) bool {
		if offerID != "" {
			return p.OfferID == offerID
		}
		return name != "" && p.Name == name
	}
	for _, promos := range d.DailySetPromotions {
		for _, p := range promos {
			if match(p) {
				return p, true
			}
		}
	}
	for _, p := range d.MorePromotions {
		if match(p) {
			return p, true
		}
	}
	for _, pc := range d.PunchCards {
		for _, p := range pc.ChildPromotions {
			if match(p) {
				return p, true
			}
		}
	}
	return Promotion{}, false
}

// Credited reports whether the document shows the promotion finished, or
// at least progressed past the given prior reading. A card that vanished
// cannot be confirmed.
func (d *DashboardData) Credited(prior Promotion) bool {
	p, ok := d.FindPromotion(prior.OfferID, prior.Name)
	if !ok {
		return false
	}
	return p.Complete || p.PointProgress > prior.PointProgress
}

// TodayDailySet returns today's daily-set items only. Other dates in the
// document are historical and never dispatched.
func (d *DashboardData) TodayDailySet() []Promotion {
	for date, promos := range d.DailySetPromotions {
		if sameDay(date, time.Now()) {
			return promos
		}
	}
	return nil
}

// sameDay matches the portal's MM/DD/YYYY date keys against a local day.
func sameDay(key string, now time.Time) bool {
	for _, layout := range []string{"01/02/2006", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, key, now.Location()); err == nil {
			y1, m1, d1 := t.Date()
			y2, m2, d2 := now.Date()
			return y1 == y2 && m1 == m2 && d1 == d2
		}
	}
	return false
}
