package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/humanize"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/logger"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/rewards"
)

const abcQuestionBound = 10

// quizState mirrors the quiz-render data the page exposes for its own
// scripts.
type quizState struct {
	MaxQuestions          int    `json:"maxQuestions"`
	CurrentQuestionNumber int    `json:"currentQuestionNumber"`
	NumberOfOptions       int    `json:"numberOfOptions"`
	CorrectAnswer         string `json:"correctAnswer"`
}

const quizStateJS = `(() => {
  const i = window._w && _w.rewardsQuizRenderInfo;
  return i ? JSON.stringify({
    maxQuestions: i.maxQuestions,
    currentQuestionNumber: i.currentQuestionNumber,
    numberOfOptions: i.numberOfOptions,
    correctAnswer: i.correctAnswer,
  }) : null;
})()`

func readQuizState(ctx context.Context, page browser.Page) (*quizState, error) {
	v, err := page.Evaluate(ctx, quizStateJS)
	if err != nil {
		return nil, err
	}
	raw, _ := v.(string)
	if raw == "" {
		return nil, fmt.Errorf("quiz state not exposed on %s", page.URL())
	}
	var st quizState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("decode quiz state: %w", err)
	}
	return &st, nil
}

func handlePoll(ctx context.Context, d *Deps, page browser.Page, _ rewards.Promotion) error {
	option := fmt.Sprintf("#btoption%d", humanize.IntIn(0, 1))

	visible, err := browser.WaitVisible(ctx, page, option, d.wait())
	if err != nil {
		return err
	}
	if !visible {
		return fmt.Errorf("poll option %s never appeared", option)
	}
	if err := page.Click(ctx, option); err != nil {
		return err
	}
	// Let the vote settle before the tab closes.
	return d.pause(ctx, 500*time.Millisecond, 1500*time.Millisecond)
}

func handleABC(ctx context.Context, d *Deps, page browser.Page, _ rewards.Promotion) error {
	for q := 0; q < abcQuestionBound; q++ {
		done, err := page.IsVisible(ctx, ".wk_iconSuccess")
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		visible, err := browser.WaitVisible(ctx, page, ".wk_OptionClickClass", d.wait())
		if err != nil {
			return err
		}
		if !visible {
			return fmt.Errorf("abc options never appeared on question %d", q+1)
		}

		options, err := page.Elements(ctx, ".wk_OptionClickClass")
		if err != nil {
			return err
		}
		var choices []browser.Element
		for _, el := range options {
			if v, err := el.IsVisible(ctx); err == nil && v {
				choices = append(choices, el)
			}
		}
		if len(choices) == 0 {
			return fmt.Errorf("no clickable abc options on question %d", q+1)
		}
		if err := humanize.Pick(choices).Click(ctx); err != nil {
			return err
		}

		next, err := browser.WaitVisible(ctx, page, ".wk_button", d.wait())
		if err != nil {
			return err
		}
		if next {
			if err := page.Click(ctx, ".wk_button"); err != nil {
				return err
			}
		}
		if err := d.pause(ctx, 300*time.Millisecond, 900*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

func handleThisOrThat(ctx context.Context, d *Deps, page browser.Page, _ rewards.Promotion) error {
	if started, err := page.IsVisible(ctx, "#rqStartQuiz"); err != nil {
		return err
	} else if started {
		if err := page.Click(ctx, "#rqStartQuiz"); err != nil {
			return err
		}
	}

	st, err := readQuizState(ctx, page)
	if err != nil {
		return err
	}

	rounds := st.MaxQuestions - st.CurrentQuestionNumber + 1
	current := st.CurrentQuestionNumber
	for r := 0; r < rounds; r++ {
		option := fmt.Sprintf("#rqAnswerOption%d", humanize.IntIn(0, 1))
		visible, err := browser.WaitVisible(ctx, page, option, d.wait())
		if err != nil {
			return err
		}
		if !visible {
			return fmt.Errorf("this-or-that option missing on round %d", r+1)
		}
		if err := page.Click(ctx, option); err != nil {
			return err
		}

		// The page refreshed when the question number moved.
		advanced, err := browser.WaitFor(ctx, d.wait(), func(ctx context.Context) (bool, error) {
			st, err := readQuizState(ctx, page)
			if err != nil {
				return false, nil // state briefly absent during refresh
			}
			return st.CurrentQuestionNumber != current, nil
		})
		if err != nil {
			return err
		}
		if !advanced && r < rounds-1 {
			return fmt.Errorf("this-or-that did not advance past question %d", current)
		}
		if st, err := readQuizState(ctx, page); err == nil {
			current = st.CurrentQuestionNumber
		}
	}
	return nil
}

func handleQuiz(ctx context.Context, d *Deps, page browser.Page, _ rewards.Promotion) error {
	if started, err := page.IsVisible(ctx, "#rqStartQuiz"); err != nil {
		return err
	} else if started {
		if err := page.Click(ctx, "#rqStartQuiz"); err != nil {
			return err
		}
	}

	st, err := readQuizState(ctx, page)
	if err != nil {
		return err
	}

	if st.NumberOfOptions >= 8 {
		return clickCorrectOptions(ctx, d, page, st.NumberOfOptions)
	}
	return clickAnswerMatch(ctx, d, page, st)
}

// clickCorrectOptions handles the 8-option variant: every option carrying
// a truthy iscorrectoption attribute is clicked in order.
func clickCorrectOptions(ctx context.Context, d *Deps, page browser.Page, n int) error {
	for i := 0; i < n; i++ {
		sel := fmt.Sprintf("#rqAnswerOption%d", i)
		attr, err := page.Attribute(ctx, sel, "iscorrectoption")
		if err != nil {
			return err
		}
		if !strings.EqualFold(attr, "true") {
			continue
		}
		visible, err := browser.WaitVisible(ctx, page, sel, d.wait())
		if err != nil {
			return err
		}
		if !visible {
			continue
		}
		if err := page.Click(ctx, sel); err != nil {
			return err
		}
		if err := d.pause(ctx, 400*time.Millisecond, 1200*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

// clickAnswerMatch handles 2-4 option variants: the option whose
// data-option equals the exposed correct answer.
func clickAnswerMatch(ctx context.Context, d *Deps, page browser.Page, st *quizState) error {
	for i := 0; i < st.NumberOfOptions; i++ {
		sel := fmt.Sprintf("#rqAnswerOption%d", i)
		attr, err := page.Attribute(ctx, sel, "data-option")
		if err != nil {
			return err
		}
		if attr != st.CorrectAnswer {
			continue
		}
		visible, err := browser.WaitVisible(ctx, page, sel, d.wait())
		if err != nil {
			return err
		}
		if !visible {
			return fmt.Errorf("correct option %s not clickable", sel)
		}
		if err := page.Click(ctx, sel); err != nil {
			return err
		}
		return d.pause(ctx, 400*time.Millisecond, 1200*time.Millisecond)
	}
	return fmt.Errorf("no option matches the correct answer")
}

func handleSearchOnBing(ctx context.Context, d *Deps, page browser.Page, promo rewards.Promotion) error {
	query := searchQueryFor(promo)
	if _, err := page.Goto(ctx, "https://www.bing.com/search?q="+url.QueryEscape(query)); err != nil {
		return err
	}
	if _, err := browser.WaitVisible(ctx, page, "#b_results", d.wait()); err != nil {
		return err
	}
	return d.pause(ctx, 2*time.Second, 5*time.Second)
}

// searchQueryFor derives the search phrase from the promotion title.
func searchQueryFor(promo rewards.Promotion) string {
	title := promo.Title
	if title == "" {
		title = promo.Name
	}
	title = strings.TrimSpace(strings.TrimSuffix(title, "?"))
	words := strings.Fields(title)
	if len(words) > 6 {
		words = words[:6]
	}
	if len(words) == 0 {
		return "bing rewards"
	}
	return strings.Join(words, " ")
}

func handleURLReward(ctx context.Context, d *Deps, page browser.Page, _ rewards.Promotion) error {
	// The load itself grants the points; linger like a reader would.
	if err := d.pause(ctx, 2*time.Second, 6*time.Second); err != nil {
		return err
	}
	logger.Debug("[activities] url reward visited", "url", page.URL())
	return nil
}
