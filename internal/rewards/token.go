package rewards

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/browser"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/logger"
)

// The mobile app's public OAuth client. The scope grants the points API.
var mobileOAuth = oauth2.Config{
	ClientID:    "0000000040170455",
	RedirectURL: "https://login.live.com/oauth20_desktop.srf",
	Scopes:      []string{"service::prod.rewardsplatform.microsoft.com::MBI_SSL"},
	Endpoint: oauth2.Endpoint{
		AuthURL:  "https://login.live.com/oauth20_authorize.srf",
		TokenURL: "https://login.live.com/oauth20_token.srf",
	},
}

// AcquireMobileToken drives the authorize flow in an already-signed-in
// session: the authorize endpoint redirects straight to the desktop
// redirect URL carrying a code, which is then exchanged out-of-band.
// A "target closed" failure is surfaced as-is so the caller can rebuild
// the context once.
func AcquireMobileToken(ctx context.Context, page browser.Page) (*oauth2.Token, error) {
	authURL := mobileOAuth.AuthCodeURL("",
		oauth2.SetAuthURLParam("response_type", "code"))

	if _, err := page.Goto(ctx, authURL); err != nil {
		return nil, fmt.Errorf("open authorize endpoint: %w", err)
	}

	var code string
	ok, err := browser.WaitFor(ctx, browser.DefaultWait, func(context.Context) (bool, error) {
		c, found := extractAuthCode(page.URL())
		if found {
			code = c
		}
		return found, nil
	})
	if err != nil {
		return nil, fmt.Errorf("await authorize redirect: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("authorize flow stalled on %s", redactedURL(page.URL()))
	}

	tok, err := mobileOAuth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorize code: %w", err)
	}
	logger.Debug("[rewards] mobile token acquired", "expires", tok.Expiry)
	return tok, nil
}

// extractAuthCode pulls the code parameter once the page lands on the
// desktop redirect URL.
func extractAuthCode(raw string) (string, bool) {
	if !strings.Contains(raw, "oauth20_desktop.srf") {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if code := u.Query().Get("code"); code != "" {
		return code, true
	}
	// Some flows return the token in the fragment instead.
	frag, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return "", false
	}
	if code := frag.Get("code"); code != "" {
		return code, true
	}
	return "", false
}

func redactedURL(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i > 0 {
		return raw[:i]
	}
	return raw
}
