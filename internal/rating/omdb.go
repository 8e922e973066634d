package rating

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/show-catalog-crawler/internal/catalog"
)

// OMDbConfig configures the OMDb-compatible rating client.
type OMDbConfig struct {
	BaseURL   string
	APIKey    string
	UserAgent string
}

// OMDbClient looks up ratings by IMDb id.
type OMDbClient struct {
	fetcher catalog.Fetcher
	cfg     OMDbConfig
}

type omdbPayload struct {
	Response   string `json:"Response"`
	Error      string `json:"Error"`
	IMDBRating string `json:"imdbRating"`
}

// NewOMDbClient builds a client that issues requests through fetcher.
func NewOMDbClient(fetcher catalog.Fetcher, cfg OMDbConfig) (*OMDbClient, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.BaseURL == "" {
		return nil, errors.New("rating service base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse rating service url: %w", err)
	}
	if cfg.APIKey == "" {
		return nil, errors.New("rating service api key is required")
	}
	return &OMDbClient{fetcher: fetcher, cfg: cfg}, nil
}

// Lookup calls the service once and classifies the answer.
func (c *OMDbClient) Lookup(ctx context.Context, externalID string) Lookup {
	req := catalog.FetchRequest{URL: c.lookupURL(externalID)}
	if c.cfg.UserAgent != "" {
		req.Headers = http.Header{"User-Agent": {c.cfg.UserAgent}}
	}
	resp, err := c.fetcher.Fetch(ctx, req)
	if err != nil {
		return Lookup{Outcome: OutcomeOther, Err: err}
	}
	return classifyOMDb(resp.StatusCode, resp.Body)
}

func (c *OMDbClient) lookupURL(externalID string) string {
	u, _ := url.Parse(c.cfg.BaseURL)
	q := u.Query()
	q.Set("i", externalID)
	q.Set("apikey", c.cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String()
}

func classifyOMDb(code int, body []byte) Lookup {
	if code != http.StatusOK {
		return Lookup{Outcome: OutcomeOther, Err: fmt.Errorf("rating service status %d", code)}
	}
	var p omdbPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Lookup{Outcome: OutcomeOther, Err: fmt.Errorf("decode rating response: %w", err)}
	}
	if !strings.EqualFold(p.Response, "True") {
		msg := strings.ToLower(p.Error)
		if strings.Contains(msg, "not found") || strings.Contains(msg, "incorrect imdb id") {
			return Lookup{Outcome: OutcomeNotFound}
		}
		return Lookup{Outcome: OutcomeOther, Err: fmt.Errorf("rating service error: %s", p.Error)}
	}
	raw := strings.TrimSpace(p.IMDBRating)
	if raw == "" || strings.EqualFold(raw, "N/A") {
		return Lookup{Outcome: OutcomeNotFound}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Lookup{Outcome: OutcomeOther, Err: fmt.Errorf("parse rating %q: %w", raw, err)}
	}
	if v <= 0 {
		return Lookup{Outcome: OutcomeNotFound}
	}
	return Lookup{Outcome: OutcomeFound, Rating: v}
}
