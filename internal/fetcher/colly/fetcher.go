// Package collyfetcher implements catalog.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/show-catalog-crawler/internal/catalog"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 8 << 20
	defaultAccept       = "application/json"
)

// Config controls collector behavior. Zero values take the defaults above.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
	// Accept is sent unless the request sets its own.
	Accept string
}

// Fetcher implements catalog.Fetcher on a Colly collector. Every HTTP status is
// surfaced as a response so callers can categorize 404/429 themselves; only
// transport failures and cancellation are errors.
type Fetcher struct {
	base   *colly.Collector
	accept string
}

// New builds a Fetcher with one pooled transport shared by every request.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Accept == "" {
		cfg.Accept = defaultAccept
	}
	opts := []colly.CollectorOption{
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	c := colly.NewCollector(opts...)
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	return &Fetcher{base: c, accept: cfg.Accept}
}

// Fetch issues one GET. The collector runs synchronously on its own goroutine
// so ctx cancellation returns immediately; the abandoned request still ends
// at the collector timeout.
func (f *Fetcher) Fetch(ctx context.Context, request catalog.FetchRequest) (catalog.FetchResponse, error) {
	if err := ctx.Err(); err != nil {
		return catalog.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", err)
	}
	// Clone shares the backend but not callbacks, so concurrent fetches do not
	// see each other's responses.
	c := f.base.Clone()
	start := time.Now()
	var (
		result  catalog.FetchResponse
		respErr error
	)
	c.OnResponse(func(r *colly.Response) {
		result = toFetchResponse(r, time.Since(start))
	})
	c.OnError(func(r *colly.Response, err error) {
		respErr = err
		if r != nil && r.StatusCode > 0 {
			result = toFetchResponse(r, time.Since(start))
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Request(http.MethodGet, request.URL, nil, nil, f.headers(request.Headers))
	}()
	select {
	case <-ctx.Done():
		return catalog.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if result.StatusCode > 0 {
			return result, nil
		}
		if err == nil {
			err = respErr
		}
		if err == nil {
			err = fmt.Errorf("no response for %s", request.URL)
		}
		return catalog.FetchResponse{}, fmt.Errorf("colly fetch %s: %w", request.URL, err)
	}
}

func (f *Fetcher) headers(in http.Header) http.Header {
	out := http.Header{}
	for key, values := range in {
		for _, v := range values {
			out.Add(key, v)
		}
	}
	if out.Get("Accept") == "" {
		out.Set("Accept", f.accept)
	}
	return out
}

func toFetchResponse(r *colly.Response, dur time.Duration) catalog.FetchResponse {
	var headers http.Header
	if r.Headers != nil {
		headers = r.Headers.Clone()
	}
	return catalog.FetchResponse{
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    headers,
		Body:       append([]byte(nil), r.Body...),
		Duration:   dur,
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}
