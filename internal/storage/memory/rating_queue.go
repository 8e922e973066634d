package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/show-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/show-catalog-crawler/internal/rating"
)

// DefaultVisibilityTimeout hides received messages until they are deleted or
// the timeout passes.
const DefaultVisibilityTimeout = 5 * time.Minute

type queuedRequest struct {
	seq       uint64
	req       rating.Request
	visibleAt time.Time
}

// RatingQueue implements rating.Queue in memory with per-message visibility.
type RatingQueue struct {
	mu         sync.Mutex
	clock      catalog.Clock
	visibility time.Duration
	seq        uint64
	messages   map[string]*queuedRequest
}

// NewRatingQueue constructs an empty queue.
func NewRatingQueue(clock catalog.Clock, visibility time.Duration) *RatingQueue {
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	return &RatingQueue{
		clock:      clock,
		visibility: visibility,
		messages:   make(map[string]*queuedRequest),
	}
}

// Send enqueues req, visible after delay.
func (q *RatingQueue) Send(_ context.Context, req rating.Request, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.messages[uuid.NewString()] = &queuedRequest{
		seq:       q.seq,
		req:       req,
		visibleAt: q.clock.Now().Add(delay),
	}
	return nil
}

// Receive returns up to limit visible messages in send order.
func (q *RatingQueue) Receive(_ context.Context, limit int) ([]rating.Message, error) {
	if limit <= 0 {
		return nil, errors.New("receive limit must be > 0")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()
	ids := make([]string, 0, len(q.messages))
	for id, m := range q.messages {
		if !m.visibleAt.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return q.messages[ids[i]].seq < q.messages[ids[j]].seq })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]rating.Message, 0, len(ids))
	for _, id := range ids {
		m := q.messages[id]
		m.visibleAt = now.Add(q.visibility)
		out = append(out, rating.Message{ID: id, Request: m.req})
	}
	return out, nil
}

// Delete removes msg. Deleting an unknown message is a no-op.
func (q *RatingQueue) Delete(_ context.Context, msg rating.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.messages, msg.ID)
	return nil
}

// Len returns the number of messages, visible or not.
func (q *RatingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Pending returns every queued request with its visibility time, in send order.
func (q *RatingQueue) Pending() []PendingRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	all := make([]*queuedRequest, 0, len(q.messages))
	for _, m := range q.messages {
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	out := make([]PendingRequest, 0, len(all))
	for _, m := range all {
		out = append(out, PendingRequest{Request: m.req, VisibleAt: m.visibleAt})
	}
	return out
}

// PendingRequest is a queued request as seen by Pending.
type PendingRequest struct {
	Request   rating.Request
	VisibleAt time.Time
}
