package activities

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser/browsertest"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/rewards"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/state"
)

var fastWait = browser.WaitOptions{
	Initial:  20 * time.Millisecond,
	Extended: 40 * time.Millisecond,
	Interval: 2 * time.Millisecond,
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		promo rewards.Promotion
		want  Kind
	}{
		{"poll", rewards.Promotion{PromotionType: "quiz", PointProgressMax: 10,
			DestinationURL: "https://www.bing.com/?PollScenarioId=123"}, KindPoll},
		{"abc", rewards.Promotion{PromotionType: "quiz", PointProgressMax: 10,
			DestinationURL: "https://www.bing.com/quiz"}, KindABC},
		{"this or that", rewards.Promotion{PromotionType: "quiz", PointProgressMax: 50}, KindThisOrThat},
		{"quiz", rewards.Promotion{PromotionType: "quiz", PointProgressMax: 30}, KindQuiz},
		{"search on bing", rewards.Promotion{PromotionType: "urlreward",
			Name: "ExploreOnBing_Weather"}, KindSearchOnBing},
		{"url reward", rewards.Promotion{PromotionType: "urlreward", Name: "VisitPage"}, KindURLReward},
		{"unsupported", rewards.Promotion{PromotionType: "welcometour"}, KindUnsupported},
		{"case insensitive type", rewards.Promotion{PromotionType: "Quiz", PointProgressMax: 50}, KindThisOrThat},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.promo))
		})
	}
}

func newDeps(t *testing.T, d *browsertest.Driver) *Deps {
	t.Helper()
	bc, err := d.NewContext(context.Background(), browser.ContextOptions{})
	require.NoError(t, err)
	return &Deps{
		Account: "a@x.com",
		Session: bc,
		Jobs:    state.NewJobStore(t.TempDir()),
		Wait:    fastWait,
		sleep:   func(context.Context, time.Duration, time.Duration) error { return nil },
	}
}

func TestDispatchPoll(t *testing.T) {
	d := browsertest.NewDriver()
	d.PageSetup = func(p *browsertest.Page) {
		p.Show("#btoption0", "#btoption1")
	}
	deps := newDeps(t, d)

	promo := rewards.Promotion{
		OfferID: "poll-1", PromotionType: "quiz", PointProgressMax: 10,
		DestinationURL: "https://www.bing.com/?pollscenarioid=9",
	}
	require.NoError(t, Dispatch(context.Background(), deps, promo))

	tab := d.LastContext().Pages[0]
	assert.True(t, tab.Closed)
	require.Len(t, tab.Clicks, 1)
	assert.True(t, strings.HasPrefix(tab.Clicks[0], "#btoption"))
	assert.True(t, deps.Jobs.IsCompleted("a@x.com", state.Today(), "poll-1"))
}

func TestDispatchUnconfirmedStaysAttemptOnly(t *testing.T) {
	d := browsertest.NewDriver()
	d.PageSetup = func(p *browsertest.Page) { p.Show("#btoption0", "#btoption1") }
	deps := newDeps(t, d)
	deps.Confirm = func(context.Context, rewards.Promotion) (bool, error) { return false, nil }

	promo := rewards.Promotion{OfferID: "poll-1", PromotionType: "quiz", PointProgressMax: 10,
		DestinationURL: "https://x/?pollscenarioid=1"}
	require.NoError(t, Dispatch(context.Background(), deps, promo))

	rec := deps.Jobs.Completed("a@x.com", state.Today())["poll-1"]
	assert.True(t, rec.CompletedAt.IsZero(), "unconfirmed unit not marked complete")
	assert.Equal(t, 1, rec.Attempts)
}

func TestDispatchConfirmedMarksComplete(t *testing.T) {
	d := browsertest.NewDriver()
	d.PageSetup = func(p *browsertest.Page) { p.Show("#btoption0", "#btoption1") }
	deps := newDeps(t, d)
	confirms := 0
	deps.Confirm = func(_ context.Context, p rewards.Promotion) (bool, error) {
		confirms++
		return p.OfferID == "poll-1", nil
	}

	promo := rewards.Promotion{OfferID: "poll-1", PromotionType: "quiz", PointProgressMax: 10,
		DestinationURL: "https://x/?pollscenarioid=1"}
	require.NoError(t, Dispatch(context.Background(), deps, promo))

	assert.Equal(t, 1, confirms)
	assert.True(t, deps.Jobs.IsCompleted("a@x.com", state.Today(), "poll-1"))
}

func TestDispatchConfirmErrorStaysAttemptOnly(t *testing.T) {
	d := browsertest.NewDriver()
	d.PageSetup = func(p *browsertest.Page) { p.Show("#btoption0", "#btoption1") }
	deps := newDeps(t, d)
	deps.Confirm = func(context.Context, rewards.Promotion) (bool, error) {
		return false, fmt.Errorf("dashboard gone")
	}

	promo := rewards.Promotion{OfferID: "poll-1", PromotionType: "quiz", PointProgressMax: 10,
		DestinationURL: "https://x/?pollscenarioid=1"}
	require.NoError(t, Dispatch(context.Background(), deps, promo))
	assert.False(t, deps.Jobs.IsCompleted("a@x.com", state.Today(), "poll-1"))
}

func TestDispatchSkipsCompletedUnit(t *testing.T) {
	d := browsertest.NewDriver()
	deps := newDeps(t, d)
	require.NoError(t, deps.Jobs.Mark("a@x.com", state.Today(), "poll-1", 10))

	promo := rewards.Promotion{OfferID: "poll-1", PromotionType: "quiz", PointProgressMax: 10,
		DestinationURL: "https://x/?pollscenarioid=1"}
	require.NoError(t, Dispatch(context.Background(), deps, promo))
	assert.Empty(t, d.LastContext().Pages)
}

func TestDispatchSkipsDashboardComplete(t *testing.T) {
	d := browsertest.NewDriver()
	deps := newDeps(t, d)

	promo := rewards.Promotion{OfferID: "u1", PromotionType: "urlreward", Complete: true}
	require.NoError(t, Dispatch(context.Background(), deps, promo))
	assert.Empty(t, d.LastContext().Pages)
}

func TestDispatchSkipsUnsupported(t *testing.T) {
	d := browsertest.NewDriver()
	deps := newDeps(t, d)

	promo := rewards.Promotion{OfferID: "tour", PromotionType: "welcometour"}
	require.NoError(t, Dispatch(context.Background(), deps, promo))
	assert.Empty(t, d.LastContext().Pages)
	assert.False(t, deps.Jobs.IsCompleted("a@x.com", state.Today(), "tour"))
}

func TestDispatchClosesTabOnHandlerFailure(t *testing.T) {
	d := browsertest.NewDriver() // nothing visible: the poll handler fails
	deps := newDeps(t, d)

	promo := rewards.Promotion{OfferID: "poll-x", PromotionType: "quiz", PointProgressMax: 10,
		DestinationURL: "https://x/?pollscenarioid=1"}
	err := Dispatch(context.Background(), deps, promo)

	var aerr *ActivityError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "poll-x", aerr.Unit)
	assert.True(t, d.LastContext().Pages[0].Closed)
	assert.False(t, deps.Jobs.IsCompleted("a@x.com", state.Today(), "poll-x"))
}

func TestDispatchIsIdempotent(t *testing.T) {
	d := browsertest.NewDriver()
	d.PageSetup = func(p *browsertest.Page) { p.Show("#btoption0", "#btoption1") }
	deps := newDeps(t, d)

	promo := rewards.Promotion{OfferID: "poll-1", PromotionType: "quiz", PointProgressMax: 10,
		DestinationURL: "https://x/?pollscenarioid=1"}
	require.NoError(t, Dispatch(context.Background(), deps, promo))
	require.NoError(t, Dispatch(context.Background(), deps, promo))
	assert.Len(t, d.LastContext().Pages, 1)
}

func TestQuizAnswerMatch(t *testing.T) {
	d := browsertest.NewDriver()
	d.PageSetup = func(p *browsertest.Page) {
		p.Show("#rqAnswerOption0", "#rqAnswerOption1", "#rqAnswerOption2")
		p.SetAttr("#rqAnswerOption0", "data-option", "A")
		p.SetAttr("#rqAnswerOption1", "data-option", "B")
		p.SetAttr("#rqAnswerOption2", "data-option", "C")
		p.EvaluateFn = func(string) (any, error) {
			return `{"maxQuestions":1,"currentQuestionNumber":1,"numberOfOptions":3,"correctAnswer":"B"}`, nil
		}
	}
	deps := newDeps(t, d)

	promo := rewards.Promotion{OfferID: "quiz-1", PromotionType: "quiz", PointProgressMax: 30,
		DestinationURL: "https://www.bing.com/quiz"}
	require.NoError(t, Dispatch(context.Background(), deps, promo))

	tab := d.LastContext().Pages[0]
	assert.Equal(t, []string{"#rqAnswerOption1"}, tab.Clicks)
}

func TestQuizEightOptionVariant(t *testing.T) {
	d := browsertest.NewDriver()
	d.PageSetup = func(p *browsertest.Page) {
		for i := 0; i < 8; i++ {
			sel := fmt.Sprintf("#rqAnswerOption%d", i)
			p.Show(sel)
			correct := "False"
			if i == 1 || i == 4 || i == 6 {
				correct = "True"
			}
			p.SetAttr(sel, "iscorrectoption", correct)
		}
		p.EvaluateFn = func(string) (any, error) {
			return `{"maxQuestions":1,"currentQuestionNumber":1,"numberOfOptions":8}`, nil
		}
	}
	deps := newDeps(t, d)

	promo := rewards.Promotion{OfferID: "quiz-8", PromotionType: "quiz", PointProgressMax: 40,
		DestinationURL: "https://www.bing.com/quiz"}
	require.NoError(t, Dispatch(context.Background(), deps, promo))

	tab := d.LastContext().Pages[0]
	assert.Equal(t, []string{"#rqAnswerOption1", "#rqAnswerOption4", "#rqAnswerOption6"}, tab.Clicks)
}

func TestThisOrThatAdvancesThroughRounds(t *testing.T) {
	d := browsertest.NewDriver()
	d.PageSetup = func(p *browsertest.Page) {
		p.Show("#rqAnswerOption0", "#rqAnswerOption1")
		question := 1
		p.EvaluateFn = func(string) (any, error) {
			return fmt.Sprintf(`{"maxQuestions":3,"currentQuestionNumber":%d,"numberOfOptions":2}`, question), nil
		}
		p.OnAction = func(p *browsertest.Page, kind, arg string) {
			if kind == "click" && strings.HasPrefix(arg, "#rqAnswerOption") {
				question++
			}
		}
	}
	deps := newDeps(t, d)

	promo := rewards.Promotion{OfferID: "tot-1", PromotionType: "quiz", PointProgressMax: 50,
		DestinationURL: "https://www.bing.com/quiz"}
	require.NoError(t, Dispatch(context.Background(), deps, promo))

	tab := d.LastContext().Pages[0]
	assert.Len(t, tab.Clicks, 3)
	assert.True(t, deps.Jobs.IsCompleted("a@x.com", state.Today(), "tot-1"))
}

func TestSearchOnBingRunsQuery(t *testing.T) {
	d := browsertest.NewDriver()
	d.PageSetup = func(p *browsertest.Page) {
		p.OnAction = func(p *browsertest.Page, kind, arg string) {
			if kind == "goto" && strings.Contains(arg, "/search?q=") {
				p.Show("#b_results")
			}
		}
	}
	deps := newDeps(t, d)

	promo := rewards.Promotion{OfferID: "eob-1", PromotionType: "urlreward",
		Name: "ExploreOnBing_Weather", Title: "What's the weather like today?",
		DestinationURL: "https://www.bing.com/?form=x"}
	require.NoError(t, Dispatch(context.Background(), deps, promo))

	tab := d.LastContext().Pages[0]
	assert.Contains(t, tab.CurrentURL, "/search?q=")
	assert.True(t, tab.Closed)
}

func TestSearchQueryFor(t *testing.T) {
	assert.Equal(t, "What's the weather like today",
		searchQueryFor(rewards.Promotion{Title: "What's the weather like today?"}))
	assert.Equal(t, "bing rewards", searchQueryFor(rewards.Promotion{}))

	long := searchQueryFor(rewards.Promotion{Title: "one two three four five six seven eight"})
	assert.Equal(t, 6, len(strings.Fields(long)))
}

func TestURLRewardJustVisits(t *testing.T) {
	d := browsertest.NewDriver()
	deps := newDeps(t, d)

	promo := rewards.Promotion{OfferID: "ur-1", PromotionType: "urlreward",
		Name: "ReadArticle", DestinationURL: "https://example.com/article"}
	require.NoError(t, Dispatch(context.Background(), deps, promo))

	tab := d.LastContext().Pages[0]
	assert.Equal(t, "https://example.com/article", tab.CurrentURL)
	assert.Empty(t, tab.Clicks)
	assert.True(t, tab.Closed)
}

func TestFreeRewardsRedeemsZeroPointCards(t *testing.T) {
	d := browsertest.NewDriver()
	d.PageSetup = func(p *browsertest.Page) {
		p.EvaluateFn = func(js string) (any, error) {
			if strings.Contains(js, "querySelectorAll") {
				return `["https://rewards.bing.com/redeem/card1"]`, nil
			}
			return nil, nil
		}
		p.Show("#redeem-pdp-redeem-button", "#redeem-checkout-review-confirm")
		p.OnAction = func(p *browsertest.Page, kind, arg string) {
			if kind == "click" && arg == "#redeem-checkout-review-confirm" {
				p.SetURL("https://rewards.bing.com/redeem/orderconfirmation?id=1")
			}
		}
	}
	deps := newDeps(t, d)

	n, err := RunFreeRewards(context.Background(), deps)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, d.LastContext().Pages[0].Closed)
}

func TestFreeRewardsNoCards(t *testing.T) {
	d := browsertest.NewDriver()
	d.PageSetup = func(p *browsertest.Page) {
		p.EvaluateFn = func(string) (any, error) { return `[]`, nil }
	}
	deps := newDeps(t, d)

	n, err := RunFreeRewards(context.Background(), deps)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
