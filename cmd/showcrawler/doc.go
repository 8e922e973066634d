// Package main hosts the showcrawler entrypoint.
//
// Architecture overview:
//   - ID worker: internal/worker.Loop drains a FIFO of pending show ids, one
//     catalog request per tick, and sleeps for a delay chosen by the tick's
//     outcome. Every stored show refills the queue with the next ids, so the
//     crawl walks forward until it reaches a run of missing ids.
//   - Triggers: internal/crawl.Service seeds the queue (POST /v1/crawl/start or
//     crawler.auto_start), runs bounded id batches (showcrawler crawl) and letter
//     searches (showcrawler search, POST /v1/crawl/search/{letter}).
//   - Persistence: internal/reconcile merges each scraped show into the show
//     store (memory or Postgres) in one transaction, reusing cast members that
//     appear in several shows. Raw payloads may be archived to memory, a local
//     directory or GCS.
//   - Rating enrichment: shows with an IMDb id are queued for the rating
//     service. internal/rating.Pipeline drains the queue on a cron schedule,
//     caches answers with a freshness window and backs off globally when the
//     service reports its quota exhausted.
//   - Fanout: progress events feed zap logs, Prometheus gauges, an optional
//     Pub/Sub topic and optional shoutrrr notifications.
//
// Quick checklist:
//   - Configure with a YAML file (--config) and SHOWCRAWLER_* env vars, e.g.
//     SHOWCRAWLER_DATABASE_BACKEND=postgres, SHOWCRAWLER_DATABASE_DSN,
//     SHOWCRAWLER_RATING_ENABLED=true and SHOWCRAWLER_RATING_API_KEY.
//   - Run locally: go run ./cmd/showcrawler serve --config config.yaml
//   - One-off: go run ./cmd/showcrawler crawl --from 1 --size 50, or
//     go run ./cmd/showcrawler search --all
package main
