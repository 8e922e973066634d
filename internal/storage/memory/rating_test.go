package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/show-catalog-crawler/internal/rating"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRatingQueueVisibility(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := &manualClock{now: time.Unix(1700000000, 0).UTC()}
	q := NewRatingQueue(clk, time.Minute)

	require.NoError(t, q.Send(ctx, rating.Request{ExternalID: "tt1"}, 0))
	require.NoError(t, q.Send(ctx, rating.Request{ExternalID: "tt2"}, time.Hour))
	require.NoError(t, q.Send(ctx, rating.Request{ExternalID: "tt3"}, 0))

	msgs, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "tt1", msgs[0].Request.ExternalID)
	require.Equal(t, "tt3", msgs[1].Request.ExternalID)

	again, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, again, "received messages stay hidden")

	require.NoError(t, q.Delete(ctx, msgs[0]))
	clk.Advance(2 * time.Minute)
	redelivered, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	require.Equal(t, "tt3", redelivered[0].Request.ExternalID)

	clk.Advance(time.Hour)
	later, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, later, 1)
	require.Equal(t, 2, q.Len())

	_, err = q.Receive(ctx, 0)
	require.Error(t, err)
}

func TestRatingTable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tbl := NewRatingTable()
	_, ok, err := tbl.GetRating(ctx, "tt1")
	require.NoError(t, err)
	require.False(t, ok)

	at := time.Unix(1700000000, 0).UTC()
	require.NoError(t, tbl.PutRating(ctx, rating.CacheEntry{ExternalID: "tt1", Scaled: 810, RetrievedAt: at}))
	e, ok, err := tbl.GetRating(ctx, "tt1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 810, e.Scaled)

	until, err := tbl.GetBlockedUntil(ctx)
	require.NoError(t, err)
	require.True(t, until.IsZero())
	require.NoError(t, tbl.SetBlockedUntil(ctx, at))
	until, err = tbl.GetBlockedUntil(ctx)
	require.NoError(t, err)
	require.Equal(t, at, until)
}
