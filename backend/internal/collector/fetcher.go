package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"osintgraph/backend/pkg/logger"
)

const (
	defaultUserAgent = "Mozilla/5.0 (compatible; osintgraph/1.0)"
	// maxPageBytes bounds how much of a profile page is read
	maxPageBytes = 512 * 1024
)

// Fetcher downloads profile pages with a per-host rate limit
type Fetcher struct {
	client    *http.Client
	limit     rate.Limit
	burst     int
	userAgent string
	logger    *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewFetcher creates a fetcher allowing perSecond requests to each host
func NewFetcher(client *http.Client, perSecond float64, burst int) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Fetcher{
		client:    client,
		limit:     rate.Limit(perSecond),
		burst:     burst,
		userAgent: defaultUserAgent,
		logger:    logger.Named("collector"),
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	if l, ok := f.limiters[host]; ok {
		return l
	}
	l := rate.NewLimiter(f.limit, f.burst)
	f.limiters[host] = l
	return l
}

// Fetch downloads and parses one profile page
func (f *Fetcher) Fetch(ctx context.Context, platform, profileURL string) (*Profile, error) {
	u, err := url.Parse(profileURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid profile url %q", profileURL)
	}
	if err := f.limiter(u.Host).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait for %s: %w", u.Host, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: HTTP %d", u, resp.StatusCode)
	}

	f.logger.Debug("Profile fetched",
		zap.String("platform", platform),
		zap.String("url", u.String()),
	)
	return ParseProfile(platform, io.LimitReader(resp.Body, maxPageBytes), u.String())
}
