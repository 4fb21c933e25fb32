// Package activities classifies dashboard promotions into typed work
// units and executes them with per-kind handlers. Every handler runs in
// its own tab and closes it on all exit paths; completion is recorded in
// the job-state store so a unit never runs twice in one day.
package activities

import (
	"strings"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/rewards"
)

// Kind is the typed activity variant.
type Kind string

const (
	KindPoll         Kind = "poll"
	KindABC          Kind = "abc"
	KindThisOrThat   Kind = "thisOrThat"
	KindQuiz         Kind = "quiz"
	KindSearchOnBing Kind = "searchOnBing"
	KindURLReward    Kind = "urlReward"
	KindUnsupported  Kind = "unsupported"
)

// Classify maps a promotion onto its handler kind. First match wins.
func Classify(p rewards.Promotion) Kind {
	promoType := strings.ToLower(p.PromotionType)
	dest := strings.ToLower(p.DestinationURL)
	name := strings.ToLower(p.Name)

	switch {
	case promoType == "quiz" && p.PointProgressMax == 10 && strings.Contains(dest, "pollscenarioid"):
		return KindPoll
	case promoType == "quiz" && p.PointProgressMax == 10:
		return KindABC
	case promoType == "quiz" && p.PointProgressMax == 50:
		return KindThisOrThat
	case promoType == "quiz":
		return KindQuiz
	case promoType == "urlreward" && strings.Contains(name, "exploreonbing"):
		return KindSearchOnBing
	case promoType == "urlreward":
		return KindURLReward
	default:
		return KindUnsupported
	}
}
