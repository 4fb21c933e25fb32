package search

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/humanize"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/logger"
)

const sourceCacheTTL = time.Hour

// Source produces query candidates: trending topics first, then headline
// transforms, then a local fallback lexicon. External fetches are cached
// for an hour.
type Source struct {
	parser *gofeed.Parser
	locale string

	mu        sync.Mutex
	cached    []string
	fetchedAt time.Time
}

// NewSource builds a source for a locale like "en-US". client may be nil.
func NewSource(client *http.Client, locale string) *Source {
	p := gofeed.NewParser()
	if client != nil {
		p.Client = client
	}
	return &Source{parser: p, locale: locale}
}

func (s *Source) region() string {
	if i := strings.IndexByte(s.locale, '-'); i > 0 && i+1 < len(s.locale) {
		return strings.ToUpper(s.locale[i+1:])
	}
	return "US"
}

func (s *Source) trendsURL() string {
	return "https://trends.google.com/trending/rss?geo=" + s.region()
}

func (s *Source) newsURL() string {
	region := s.region()
	lang := s.locale
	if lang == "" {
		lang = "en-US"
	}
	base := strings.SplitN(lang, "-", 2)[0]
	return fmt.Sprintf("https://news.google.com/rss?hl=%s&gl=%s&ceid=%s:%s", lang, region, region, base)
}

// Queries returns up to n deduplicated queries. It never fails: when all
// external sources are down the fallback lexicon serves alone.
func (s *Source) Queries(ctx context.Context, n int) []string {
	s.mu.Lock()
	if time.Since(s.fetchedAt) > sourceCacheTTL {
		s.cached = s.fetchExternal(ctx)
		s.fetchedAt = time.Now()
	}
	pool := append([]string{}, s.cached...)
	s.mu.Unlock()

	lexicon := append([]string{}, fallbackLexicon...)
	humanize.Shuffle(lexicon)
	pool = append(pool, lexicon...)

	deduped := Dedup(pool)
	if len(deduped) > n {
		deduped = deduped[:n]
	}
	return deduped
}

func (s *Source) fetchExternal(ctx context.Context) []string {
	var out []string

	if feed, err := s.parser.ParseURLWithContext(s.trendsURL(), ctx); err != nil {
		logger.Warn("[search] trends fetch failed", "error", err.Error())
	} else {
		for _, item := range feed.Items {
			if t := cleanTitle(item.Title); t != "" {
				out = append(out, t)
			}
		}
	}

	if feed, err := s.parser.ParseURLWithContext(s.newsURL(), ctx); err != nil {
		logger.Warn("[search] news fetch failed", "error", err.Error())
	} else {
		var titles []string
		for _, item := range feed.Items {
			if t := cleanTitle(item.Title); t != "" {
				titles = append(titles, t)
			}
		}
		out = append(out, headlineTransforms(titles)...)
	}

	logger.Debug("[search] external query pool refreshed", "count", len(out))
	return out
}

// cleanTitle strips the source suffix news feeds append and clamps the
// phrase to a typed-in length.
func cleanTitle(title string) string {
	if i := strings.LastIndex(title, " - "); i > 0 {
		title = title[:i]
	}
	words := strings.Fields(title)
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.Join(words, " ")
}

// headlineTransforms derives question and comparison phrasings from
// headlines, the way a person follows up on news.
func headlineTransforms(titles []string) []string {
	var out []string
	for i, t := range titles {
		out = append(out, t)

		words := strings.Fields(t)
		if len(words) >= 2 && i%2 == 0 {
			out = append(out, "what is "+strings.Join(words[:2], " "))
		}
		if i+1 < len(titles) {
			a := strings.Fields(t)
			b := strings.Fields(titles[i+1])
			if len(a) >= 2 && len(b) >= 2 && i%3 == 0 {
				out = append(out, strings.Join(a[:2], " ")+" vs "+strings.Join(b[:2], " "))
			}
		}
	}
	return out
}
