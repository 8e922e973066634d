// Package rating enriches stored shows with a rating from an external,
// quota-limited service. Reads are served from a TTL cache; upstream calls
// happen only in Drain, behind a circuit breaker.
package rating

import (
	"context"
	"math"
	"time"
)

// AbsentScaled is the scaled value recorded when the rating service confirms
// that a title has no rating.
const AbsentScaled = -100

// Defaults used when Config leaves a field zero.
const (
	DefaultTTL       = 10 * 24 * time.Hour
	DefaultCooldown  = 4 * time.Hour
	DefaultBatchSize = 16
)

// State describes the cache entry a query was served from.
type State string

// Query states.
const (
	StateFresh   State = "fresh"
	StateStale   State = "stale"
	StateUnknown State = "unknown"
)

// CacheEntry is one cached rating. Scaled is the rating times 100.
type CacheEntry struct {
	ExternalID  string
	Scaled      int
	RetrievedAt time.Time
}

// Absent reports whether the entry records a confirmed missing rating.
func (e CacheEntry) Absent() bool {
	return e.Scaled == AbsentScaled
}

// Value returns the decimal rating, or nil when the entry is Absent.
func (e CacheEntry) Value() *float64 {
	if e.Absent() {
		return nil
	}
	v := float64(e.Scaled) / 100
	return &v
}

// Scale converts a decimal rating into its stored integer form.
func Scale(rating float64) int {
	return int(math.Round(rating * 100))
}

// Request asks for one title to be (re)fetched from the rating service.
type Request struct {
	ExternalID string `json:"external_rating_id"`
	ShowID     int    `json:"show_id,omitempty"`
}

// Message is a Request received from a Queue.
type Message struct {
	ID      string
	Request Request
}

// Table is the key-value table holding cached ratings and the breaker state.
type Table interface {
	// GetRating returns the cached entry for externalID, if any.
	GetRating(ctx context.Context, externalID string) (CacheEntry, bool, error)
	// PutRating overwrites the cached entry.
	PutRating(ctx context.Context, entry CacheEntry) error
	// GetBlockedUntil returns the breaker deadline, or the zero time.
	GetBlockedUntil(ctx context.Context) (time.Time, error)
	SetBlockedUntil(ctx context.Context, until time.Time) error
}

// Queue is a message queue with per-message visibility delay.
type Queue interface {
	// Send enqueues req so that it becomes visible after delay.
	Send(ctx context.Context, req Request, delay time.Duration) error
	// Receive returns up to limit visible messages and hides them for the
	// queue's visibility timeout. Undeleted messages reappear after it.
	Receive(ctx context.Context, limit int) ([]Message, error)
	// Delete removes a received message for good.
	Delete(ctx context.Context, msg Message) error
}

// Outcome classifies a rating service response.
type Outcome int

// Rating service outcomes.
const (
	OutcomeFound Outcome = iota
	OutcomeNotFound
	OutcomeOther
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "other"
	}
}

// Lookup is the result of one rating service call.
type Lookup struct {
	Outcome Outcome
	Rating  float64
	Err     error
}

// Service is the external rating service.
type Service interface {
	Lookup(ctx context.Context, externalID string) Lookup
}

// ShowRater writes an enriched rating back to the stored shows.
type ShowRater interface {
	SetRatingByExternalID(ctx context.Context, externalRatingID string, rating *float64) (int64, error)
}
