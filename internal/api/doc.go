// Package api hosts the HTTP server and REST handlers for operator access.
// Notable routes:
//   - GET /healthz and /readyz for probes, GET /metrics for Prometheus.
//   - POST /v1/crawl/start, /v1/crawl/stop and /v1/crawl/search/{letter}
//     trigger crawls; GET /v1/crawl reports the pending queue.
//   - GET /v1/shows pages through stored shows with their cast.
//   - GET /v1/ratings/{external_id} and POST /v1/ratings serve the rating
//     cache and enqueue enrichment requests.
package api
