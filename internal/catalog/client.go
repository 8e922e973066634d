package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/show-catalog-crawler/internal/metrics"
)

// ClientConfig controls the catalog client.
type ClientConfig struct {
	BaseURL           string
	UserAgent         string
	RequestsPerSecond float64
	Burst             int
}

// Client issues categorized GET requests against the catalog service.
type Client struct {
	fetcher   Fetcher
	baseURL   string
	userAgent string
	limiter   *rate.Limiter
	retry     RetryPolicy
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *zap.Logger
}

// NewClient builds a Client. A non-positive rate disables client-side throttling.
func NewClient(fetcher Fetcher, cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("catalog base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse catalog base url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		fetcher:   fetcher,
		baseURL:   base,
		userAgent: cfg.UserAgent,
		limiter:   rate.NewLimiter(limit, burst),
		sleep:     sleepContext,
		logger:    logger,
	}, nil
}

// WithRetry returns a copy of the client that resubmits rate-limited requests
// according to policy. A nil policy disables retries.
func (c *Client) WithRetry(policy RetryPolicy) *Client {
	cp := *c
	cp.retry = policy
	return &cp
}

// Fetch requests path and categorizes the result. After retries are exhausted a
// rate-limited response is returned as-is rather than as an error. The error is
// non-nil only when ctx ends before a categorized response is available.
func (c *Client) Fetch(ctx context.Context, path string) (Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := c.fetchOnce(ctx, path)
		if err != nil {
			return Response{}, err
		}
		if resp.Status != StatusRateLimited || c.retry == nil || !c.retry.ShouldRetry(attempt) {
			return resp, nil
		}
		delay := c.retry.Backoff(attempt)
		c.logger.Debug("catalog rate limited, retrying",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return resp, err
		}
	}
}

func (c *Client) fetchOnce(ctx context.Context, path string) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, fmt.Errorf("catalog fetch canceled: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("catalog rate limit wait: %w", err)
	}
	start := time.Now()
	req := FetchRequest{URL: c.baseURL + ensureLeadingSlash(path)}
	if c.userAgent != "" {
		req.Headers = map[string][]string{"User-Agent": {c.userAgent}}
	}
	fetched, err := c.fetcher.Fetch(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, fmt.Errorf("catalog fetch canceled: %w", ctx.Err())
		}
		c.logger.Warn("catalog transport failure", zap.String("path", path), zap.Error(err))
		metrics.ObserveCatalogRequest(StatusOtherError.String(), time.Since(start))
		return Response{Status: StatusOtherError, Err: err}, nil
	}
	status := ClassifyStatus(fetched.StatusCode)
	metrics.ObserveCatalogRequest(status.String(), time.Since(start))
	return Response{
		Status: status,
		Code:   fetched.StatusCode,
		Body:   fetched.Body,
	}, nil
}

// ShowPath is the path of a single show with its cast embedded.
func ShowPath(id int) string {
	return fmt.Sprintf("/shows/%d?embed=cast", id)
}

// CastPath is the path of a show's cast listing.
func CastPath(id int) string {
	return fmt.Sprintf("/shows/%d/cast", id)
}

// SearchPath is the path of a name search for query.
func SearchPath(query string) string {
	return "/search/shows?q=" + url.QueryEscape(query)
}

func ensureLeadingSlash(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("catalog backoff canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
