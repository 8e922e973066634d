package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/show-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/show-catalog-crawler/internal/rating"
)

// DefaultVisibilityTimeout hides received messages until they are deleted or
// the timeout passes.
const DefaultVisibilityTimeout = 5 * time.Minute

// RatingQueue implements rating.Queue on SQLite.
type RatingQueue struct {
	db         *DB
	clock      catalog.Clock
	visibility time.Duration
}

// NewRatingQueue returns a queue backed by db.
func NewRatingQueue(db *DB, clock catalog.Clock, visibility time.Duration) *RatingQueue {
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	return &RatingQueue{db: db, clock: clock, visibility: visibility}
}

// Send enqueues req, visible after delay.
func (q *RatingQueue) Send(ctx context.Context, req rating.Request, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	visibleAt := q.clock.Now().Add(delay).UnixNano()
	_, err := q.db.conn.ExecContext(ctx,
		`INSERT INTO rating_queue (id, external_id, show_id, visible_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), req.ExternalID, req.ShowID, visibleAt)
	if err != nil {
		return fmt.Errorf("insert rating request: %w", err)
	}
	return nil
}

// Receive returns up to limit visible messages in send order and hides them
// for the visibility timeout.
func (q *RatingQueue) Receive(ctx context.Context, limit int) (_ []rating.Message, err error) {
	if limit <= 0 {
		return nil, errors.New("receive limit must be > 0")
	}
	now := q.clock.Now()
	tx, err := q.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin receive: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `
SELECT id, external_id, show_id FROM rating_queue
WHERE visible_at <= ? ORDER BY seq LIMIT ?`, now.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("select rating requests: %w", err)
	}
	var out []rating.Message
	for rows.Next() {
		var m rating.Message
		if err := rows.Scan(&m.ID, &m.Request.ExternalID, &m.Request.ShowID); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan rating request: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close rows: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rating requests: %w", err)
	}

	hidden := now.Add(q.visibility).UnixNano()
	for _, m := range out {
		if _, err := tx.ExecContext(ctx,
			`UPDATE rating_queue SET visible_at = ? WHERE id = ?`, hidden, m.ID); err != nil {
			return nil, fmt.Errorf("hide rating request: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit receive: %w", err)
	}
	return out, nil
}

// Delete removes msg.
func (q *RatingQueue) Delete(ctx context.Context, msg rating.Message) error {
	if _, err := q.db.conn.ExecContext(ctx, `DELETE FROM rating_queue WHERE id = ?`, msg.ID); err != nil {
		return fmt.Errorf("delete rating request: %w", err)
	}
	return nil
}

// Len returns the number of queued messages, visible or not.
func (q *RatingQueue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM rating_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rating requests: %w", err)
	}
	return n, nil
}
