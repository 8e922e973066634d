// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/show-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/show-catalog-crawler/internal/crawl"
	"github.com/JakeFAU/show-catalog-crawler/internal/metrics"
	"github.com/JakeFAU/show-catalog-crawler/internal/middleware"
	"github.com/JakeFAU/show-catalog-crawler/internal/rating"
)

// Page size limits for GET /v1/shows.
const (
	DefaultPageSize = 25
	MaxPageSize     = 250
)

// Crawler is the operator trigger surface.
type Crawler interface {
	Start(ctx context.Context, from int) (int, error)
	Stop()
	Pending() int
	SearchLetter(ctx context.Context, letter string) (crawl.SearchResult, error)
}

// ShowLister pages through stored shows.
type ShowLister interface {
	ListShows(ctx context.Context, page, size int) ([]catalog.Show, error)
}

// Ratings is the rating pipeline as seen by the API.
type Ratings interface {
	Query(ctx context.Context, externalID string) (rating.Result, error)
	Submit(ctx context.Context, externalID string, showID int) error
	Drain(ctx context.Context) rating.DrainStats
}

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

// Options carries the optional parts of the server.
type Options struct {
	// Ratings may be nil when enrichment is disabled; rating routes then
	// answer 503.
	Ratings        Ratings
	Ready          []ReadyCheck
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// Server wires HTTP handlers to the crawl service and stores.
type Server struct {
	router  chi.Router
	crawler Crawler
	shows   ShowLister
	ratings Ratings
	ready   []ReadyCheck
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(crawler Crawler, shows ShowLister, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		crawler: crawler,
		shows:   shows,
		ratings: opts.Ratings,
		ready:   opts.Ready,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(logger))
	r.Use(middleware.Recover(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(opts.RequestTimeout))
		r.Route("/crawl", func(r chi.Router) {
			r.Get("/", s.crawlStatus)
			r.Post("/start", s.startCrawl)
			r.Post("/stop", s.stopCrawl)
			r.Post("/search/{letter}", s.searchLetter)
		})
		r.Get("/shows", s.listShows)
		r.Route("/ratings", func(r chi.Router) {
			r.Post("/", s.submitRating)
			r.Post("/drain", s.drainRatings)
			r.Get("/{external_id}", s.getRating)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, check := range s.ready {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type startRequest struct {
	From *int `json:"from"`
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	from := -1
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.From != nil {
		from = *req.From
	}
	seed, err := s.crawler.Start(r.Context(), from)
	if err != nil {
		s.logger.Error("start crawl failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to start crawl")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]int{"seed": seed})
}

func (s *Server) stopCrawl(w http.ResponseWriter, _ *http.Request) {
	s.crawler.Stop()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopped"})
}

func (s *Server) crawlStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]int{"pending": s.crawler.Pending()})
}

func (s *Server) searchLetter(w http.ResponseWriter, r *http.Request) {
	res, err := s.crawler.SearchLetter(r.Context(), chi.URLParam(r, "letter"))
	switch {
	case errors.Is(err, crawl.ErrInvalidLetter):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, crawl.ErrRetryLater):
		w.Header().Set("Retry-After", "30")
		s.writeError(w, http.StatusServiceUnavailable, "catalog unavailable, retry later")
	case err != nil:
		s.logger.Error("search failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "search failed")
	default:
		s.writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) listShows(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 0)
	if err != nil || page < 0 {
		s.writeError(w, http.StatusBadRequest, "page must be a non-negative integer")
		return
	}
	size, err := queryInt(r, "size", DefaultPageSize)
	if err != nil || size <= 0 {
		s.writeError(w, http.StatusBadRequest, "size must be a positive integer")
		return
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	shows, err := s.shows.ListShows(r.Context(), page, size)
	if err != nil {
		s.logger.Error("list shows failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list shows")
		return
	}
	if shows == nil {
		shows = []catalog.Show{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"page": page, "size": size, "shows": shows})
}

type ratingResponse struct {
	ExternalID string   `json:"external_rating_id"`
	Rating     *float64 `json:"rating"`
	State      string   `json:"state"`
}

func (s *Server) getRating(w http.ResponseWriter, r *http.Request) {
	if s.ratings == nil {
		s.writeError(w, http.StatusServiceUnavailable, "rating enrichment disabled")
		return
	}
	res, err := s.ratings.Query(r.Context(), chi.URLParam(r, "external_id"))
	if err != nil {
		s.logger.Error("rating query failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "rating lookup failed")
		return
	}
	if res.NoContent() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, ratingResponse{
		ExternalID: res.ExternalID,
		Rating:     res.Rating,
		State:      string(res.State),
	})
}

type submitRatingRequest struct {
	ExternalID string `json:"external_rating_id"`
	ShowID     int    `json:"show_id"`
}

func (s *Server) submitRating(w http.ResponseWriter, r *http.Request) {
	if s.ratings == nil {
		s.writeError(w, http.StatusServiceUnavailable, "rating enrichment disabled")
		return
	}
	var req submitRatingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.ExternalID) == "" {
		s.writeError(w, http.StatusBadRequest, "external_rating_id required")
		return
	}
	if err := s.ratings.Submit(r.Context(), req.ExternalID, req.ShowID); err != nil {
		s.logger.Error("rating submit failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to enqueue rating request")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) drainRatings(w http.ResponseWriter, r *http.Request) {
	if s.ratings == nil {
		s.writeError(w, http.StatusServiceUnavailable, "rating enrichment disabled")
		return
	}
	s.writeJSON(w, http.StatusOK, s.ratings.Drain(r.Context()))
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
