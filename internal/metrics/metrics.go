// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	catalogRequestsTotal       *prometheus.CounterVec
	catalogRequestDuration     *prometheus.HistogramVec
	workerTicksTotal           *prometheus.CounterVec
	workQueueDepth             prometheus.Gauge
	reconcileShowsTotal        *prometheus.CounterVec
	ratingQueriesTotal         *prometheus.CounterVec
	ratingUpstreamTotal        *prometheus.CounterVec
	ratingBreakerTripsTotal    prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times; every Observe helper calls it.
func Init() {
	once.Do(func() {
		catalogRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_requests_total",
				Help: "Total number of catalog requests, labeled by categorized status.",
			},
			[]string{"status"},
		)

		catalogRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_request_duration_seconds",
				Help:    "Histogram of catalog request latencies, labeled by categorized status.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"status"},
		)

		workerTicksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_worker_ticks_total",
				Help: "Total number of worker loop ticks, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		workQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_work_queue_depth",
				Help: "Number of show IDs waiting in the work queue.",
			},
		)

		reconcileShowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_shows_total",
				Help: "Total number of shows reconciled into the store, labeled by result.",
			},
			[]string{"result"},
		)

		ratingQueriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rating_queries_total",
				Help: "Total number of rating queries, labeled by cache state.",
			},
			[]string{"state"},
		)

		ratingUpstreamTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rating_enrichment_total",
				Help: "Total number of enrichment requests handled, labeled by result.",
			},
			[]string{"result"},
		)

		ratingBreakerTripsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rating_breaker_trips_total",
				Help: "Total number of times the rating circuit breaker opened.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCatalogRequest records one categorized catalog request.
func ObserveCatalogRequest(status string, duration time.Duration) {
	Init()
	catalogRequestsTotal.WithLabelValues(status).Inc()
	catalogRequestDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveTick increments the worker tick counter for the given outcome.
func ObserveTick(outcome string) {
	Init()
	workerTicksTotal.WithLabelValues(outcome).Inc()
}

// SetQueueDepth records the current work queue size.
func SetQueueDepth(n int) {
	Init()
	workQueueDepth.Set(float64(n))
}

// ObserveReconcile increments the reconcile counter for the given result.
func ObserveReconcile(result string) {
	Init()
	reconcileShowsTotal.WithLabelValues(result).Inc()
}

// ObserveRatingQuery increments the rating query counter for the given cache state.
func ObserveRatingQuery(state string) {
	Init()
	ratingQueriesTotal.WithLabelValues(state).Inc()
}

// ObserveEnrichment increments the enrichment counter for the given result.
func ObserveEnrichment(result string) {
	Init()
	ratingUpstreamTotal.WithLabelValues(result).Inc()
}

// ObserveBreakerTrip counts a circuit breaker opening.
func ObserveBreakerTrip() {
	Init()
	ratingBreakerTripsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}
