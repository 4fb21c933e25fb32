package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/httpretry"
	"github.com/shelltar/Microsoft-Rewards-Bot/internal/pkg/logger"
)

// FallbackEdgeVersion is served when the version endpoint is unreachable
// and no cached value exists. Periodically bumped with releases.
const FallbackEdgeVersion = "131.0.2903.86"

const edgeVersionURL = "https://edgeupdates.microsoft.com/api/products?view=enterprise"

// VersionCache resolves the current stable Edge version with a time-bounded
// cache and single-flight fetch. Concurrent sessions share one fetch; on
// failure a stale entry or the static fallback is served.
type VersionCache struct {
	client httpretry.HTTPDoer
	ttl    time.Duration

	mu        sync.Mutex
	version   string
	fetchedAt time.Time

	group singleflight.Group
}

// NewVersionCache creates a cache with a 1h TTL. A nil client uses a
// default retrying HTTP client.
func NewVersionCache(client httpretry.HTTPDoer) *VersionCache {
	if client == nil {
		client = httpretry.New(nil, 2)
	}
	return &VersionCache{client: client, ttl: time.Hour}
}

// Version returns the current stable Edge version string.
func (c *VersionCache) Version(ctx context.Context) string {
	c.mu.Lock()
	if c.version != "" && time.Since(c.fetchedAt) < c.ttl {
		v := c.version
		c.mu.Unlock()
		return v
	}
	stale := c.version
	c.mu.Unlock()

	v, err, _ := c.group.Do("edge-version", func() (any, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		if stale != "" {
			logger.Warn("edge version fetch failed, serving stale", "error", err.Error())
			return stale
		}
		logger.Warn("edge version fetch failed, serving fallback", "error", err.Error())
		return FallbackEdgeVersion
	}

	ver := v.(string)
	c.mu.Lock()
	c.version = ver
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return ver
}

type edgeProduct struct {
	Product  string `json:"Product"`
	Releases []struct {
		Platform        string `json:"Platform"`
		Architecture    string `json:"Architecture"`
		ProductVersion  string `json:"ProductVersion"`
	} `json:"Releases"`
}

func (c *VersionCache) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, edgeVersionURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("edge version endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}

	var products []edgeProduct
	if err := json.Unmarshal(body, &products); err != nil {
		return "", fmt.Errorf("decode edge products: %w", err)
	}
	for _, p := range products {
		if p.Product != "Stable" {
			continue
		}
		for _, r := range p.Releases {
			if r.Platform == "Windows" && r.Architecture == "x64" && r.ProductVersion != "" {
				return r.ProductVersion, nil
			}
		}
	}
	return "", fmt.Errorf("no stable windows x64 release in response")
}
