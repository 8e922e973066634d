package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/show-catalog-crawler/internal/rating"
)

const blockedUntilKey = "blocked_until"

// RatingTable implements rating.Table on SQLite.
type RatingTable struct {
	db *DB
}

// NewRatingTable returns a table backed by db.
func NewRatingTable(db *DB) *RatingTable {
	return &RatingTable{db: db}
}

// GetRating returns the cached entry for externalID.
func (t *RatingTable) GetRating(ctx context.Context, externalID string) (rating.CacheEntry, bool, error) {
	var (
		scaled int
		at     int64
	)
	err := t.db.conn.QueryRowContext(ctx,
		`SELECT scaled, retrieved_at FROM rating_cache WHERE external_id = ?`, externalID,
	).Scan(&scaled, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return rating.CacheEntry{}, false, nil
	}
	if err != nil {
		return rating.CacheEntry{}, false, fmt.Errorf("select rating: %w", err)
	}
	return rating.CacheEntry{
		ExternalID:  externalID,
		Scaled:      scaled,
		RetrievedAt: time.Unix(0, at).UTC(),
	}, true, nil
}

// PutRating overwrites the cached entry.
func (t *RatingTable) PutRating(ctx context.Context, entry rating.CacheEntry) error {
	_, err := t.db.conn.ExecContext(ctx, `
INSERT INTO rating_cache (external_id, scaled, retrieved_at) VALUES (?, ?, ?)
ON CONFLICT (external_id) DO UPDATE SET scaled = excluded.scaled, retrieved_at = excluded.retrieved_at`,
		entry.ExternalID, entry.Scaled, entry.RetrievedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert rating: %w", err)
	}
	return nil
}

// GetBlockedUntil returns the persisted breaker deadline.
func (t *RatingTable) GetBlockedUntil(ctx context.Context) (time.Time, error) {
	var n int64
	err := t.db.conn.QueryRowContext(ctx,
		`SELECT value FROM rating_state WHERE key = ?`, blockedUntilKey).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("select breaker state: %w", err)
	}
	return time.Unix(0, n).UTC(), nil
}

// SetBlockedUntil persists the breaker deadline.
func (t *RatingTable) SetBlockedUntil(ctx context.Context, until time.Time) error {
	_, err := t.db.conn.ExecContext(ctx, `
INSERT INTO rating_state (key, value) VALUES (?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		blockedUntilKey, until.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert breaker state: %w", err)
	}
	return nil
}
