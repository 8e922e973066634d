package sqlite

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

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db
}

func TestRatingTableRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tbl := NewRatingTable(openTestDB(t))

	_, ok, err := tbl.GetRating(ctx, "tt1")
	require.NoError(t, err)
	require.False(t, ok)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, tbl.PutRating(ctx, rating.CacheEntry{ExternalID: "tt1", Scaled: 810, RetrievedAt: at}))
	require.NoError(t, tbl.PutRating(ctx, rating.CacheEntry{ExternalID: "tt1", Scaled: rating.AbsentScaled, RetrievedAt: at.Add(time.Hour)}))

	e, ok, err := tbl.GetRating(ctx, "tt1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, e.Absent())
	require.True(t, e.RetrievedAt.Equal(at.Add(time.Hour)))

	until, err := tbl.GetBlockedUntil(ctx)
	require.NoError(t, err)
	require.True(t, until.IsZero())

	require.NoError(t, tbl.SetBlockedUntil(ctx, at))
	require.NoError(t, tbl.SetBlockedUntil(ctx, at.Add(4*time.Hour)))
	until, err = tbl.GetBlockedUntil(ctx)
	require.NoError(t, err)
	require.True(t, until.Equal(at.Add(4*time.Hour)))
}

func TestRatingQueueVisibility(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := &manualClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	q := NewRatingQueue(openTestDB(t), clk, time.Minute)

	require.NoError(t, q.Send(ctx, rating.Request{ExternalID: "tt1", ShowID: 1}, 0))
	require.NoError(t, q.Send(ctx, rating.Request{ExternalID: "tt2"}, 4*time.Hour))
	require.NoError(t, q.Send(ctx, rating.Request{ExternalID: "tt3", ShowID: 3}, 0))

	msgs, err := q.Receive(ctx, 16)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, rating.Request{ExternalID: "tt1", ShowID: 1}, msgs[0].Request)
	require.Equal(t, "tt3", msgs[1].Request.ExternalID)

	hidden, err := q.Receive(ctx, 16)
	require.NoError(t, err)
	require.Empty(t, hidden)

	require.NoError(t, q.Delete(ctx, msgs[0]))
	clk.Advance(2 * time.Minute)
	again, err := q.Receive(ctx, 16)
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.Equal(t, msgs[1].ID, again[0].ID)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = q.Receive(ctx, 0)
	require.Error(t, err)
}

func TestPipelineOverSQLite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openTestDB(t)
	clk := &manualClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	tbl := NewRatingTable(db)
	q := NewRatingQueue(db, clk, time.Minute)
	svc := serviceFunc(func(context.Context, string) rating.Lookup {
		return rating.Lookup{Outcome: rating.OutcomeFound, Rating: 6.4}
	})

	p, err := rating.NewPipeline(tbl, q, svc, nil, nil, clk, rating.Config{}, nil)
	require.NoError(t, err)

	res, err := p.Query(ctx, "tt9")
	require.NoError(t, err)
	require.True(t, res.NoContent())

	stats := p.Drain(ctx)
	require.Equal(t, 1, stats.Found)

	res, err = p.Query(ctx, "tt9")
	require.NoError(t, err)
	require.Equal(t, rating.StateFresh, res.State)
	require.InDelta(t, 6.4, *res.Rating, 1e-9)
}

type serviceFunc func(ctx context.Context, id string) rating.Lookup

func (f serviceFunc) Lookup(ctx context.Context, id string) rating.Lookup {
	return f(ctx, id)
}
