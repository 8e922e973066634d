package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/show-catalog-crawler/internal/rating"
)

// RatingTable implements rating.Table in memory.
type RatingTable struct {
	mu           sync.RWMutex
	entries      map[string]rating.CacheEntry
	blockedUntil time.Time
}

// NewRatingTable constructs an empty RatingTable.
func NewRatingTable() *RatingTable {
	return &RatingTable{entries: make(map[string]rating.CacheEntry)}
}

// GetRating returns the cached entry for externalID.
func (t *RatingTable) GetRating(_ context.Context, externalID string) (rating.CacheEntry, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[externalID]
	return e, ok, nil
}

// PutRating overwrites the cached entry.
func (t *RatingTable) PutRating(_ context.Context, entry rating.CacheEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[entry.ExternalID] = entry
	return nil
}

// GetBlockedUntil returns the persisted breaker deadline.
func (t *RatingTable) GetBlockedUntil(_ context.Context) (time.Time, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.blockedUntil, nil
}

// SetBlockedUntil persists the breaker deadline.
func (t *RatingTable) SetBlockedUntil(_ context.Context, until time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blockedUntil = until
	return nil
}
