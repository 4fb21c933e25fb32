package rewards

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/httpretry"
)

// ErrForbidden marks an API 403. The ban detector treats it as a hard ban.
var ErrForbidden = errors.New("rewards api: forbidden")

const apiBaseURL = "https://prod.rewardsplatform.microsoft.com/dapi/me"

// Client calls the points API with a mobile OAuth token.
type Client struct {
	http    *httpretry.RetryClient
	baseURL string
}

// NewClient builds a client over a retrying transport. Retries cover
// 429/5xx only; a 403 is never retried.
func NewClient(doer httpretry.HTTPDoer) *Client {
	return &Client{
		http:    httpretry.New(doer, 3),
		baseURL: apiBaseURL,
	}
}

type apiResponse struct {
	Response struct {
		Balance  int `json:"balance"`
		Activity struct {
			Points int `json:"p"`
		} `json:"activity"`
	} `json:"response"`
}

type activityRequest struct {
	ActivityAmount int    `json:"amount"`
	Country        string `json:"country"`
	ID             string `json:"id"`
	Type           int    `json:"type"`
	Attributes     struct {
		OfferID string `json:"offerid"`
	} `json:"attributes"`
}

// Balance fetches the current point balance.
func (c *Client) Balance(ctx context.Context, token string) (int, error) {
	var out apiResponse
	if err := c.call(ctx, token, http.MethodGet, c.baseURL, nil, &out); err != nil {
		return 0, err
	}
	return out.Response.Balance, nil
}

// DailyCheckIn claims the daily check-in bonus. Returns the post-claim
// balance; an unchanged balance means the claim was already made today.
func (c *Client) DailyCheckIn(ctx context.Context, token, country string) (int, error) {
	req := activityRequest{ActivityAmount: 1, Country: country, Type: 101}
	req.ID = fmt.Sprintf("%d", time.Now().UnixMilli())
	req.Attributes.OfferID = "Gamification_Sapphire_DailyCheckIn"

	var out apiResponse
	if err := c.call(ctx, token, http.MethodPost, c.baseURL+"/activities", req, &out); err != nil {
		return 0, err
	}
	return out.Response.Balance, nil
}

// ClaimArticle claims one read-to-earn article and returns the post-claim
// balance. A balance that did not move means the daily allowance is spent.
func (c *Client) ClaimArticle(ctx context.Context, token, country string) (int, error) {
	req := activityRequest{ActivityAmount: 1, Country: country, Type: 101}
	req.ID = fmt.Sprintf("%d", time.Now().UnixNano())
	req.Attributes.OfferID = "ENUS_readarticle3_30points"

	var out apiResponse
	if err := c.call(ctx, token, http.MethodPost, c.baseURL+"/activities", req, &out); err != nil {
		return 0, err
	}
	return out.Response.Balance, nil
}

func (c *Client) call(ctx context.Context, token, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Rewards-Country", "us")
	req.Header.Set("X-Rewards-Language", "en")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return ErrForbidden
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("rewards api: status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
