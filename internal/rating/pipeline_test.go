package rating_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/show-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/show-catalog-crawler/internal/rating"
	"github.com/JakeFAU/show-catalog-crawler/internal/storage/memory"
	"github.com/JakeFAU/show-catalog-crawler/internal/store"
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

type scriptedService struct {
	mu      sync.Mutex
	results map[string]rating.Lookup
	calls   []string
}

func (s *scriptedService) Lookup(_ context.Context, id string) rating.Lookup {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, id)
	if r, ok := s.results[id]; ok {
		return r
	}
	return rating.Lookup{Outcome: rating.OutcomeOther, Err: errors.New("Request limit reached!")}
}

func (s *scriptedService) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type fixture struct {
	clock   *manualClock
	table   *memory.RatingTable
	queue   *memory.RatingQueue
	shows   *memory.ShowStore
	service *scriptedService
	p       *rating.Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:   &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		table:   memory.NewRatingTable(),
		shows:   memory.NewShowStore(),
		service: &scriptedService{results: map[string]rating.Lookup{}},
	}
	f.queue = memory.NewRatingQueue(f.clock, time.Minute)
	p, err := rating.NewPipeline(f.table, f.queue, f.service, f.shows, nil, f.clock, rating.Config{}, nil)
	require.NoError(t, err)
	f.p = p
	return f
}

func TestQueryFreshEntryDoesNotEnqueue(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.table.PutRating(ctx, rating.CacheEntry{
		ExternalID: "tt1", Scaled: 810, RetrievedAt: f.clock.Now().Add(-9 * 24 * time.Hour),
	}))

	res, err := f.p.Query(ctx, "tt1")
	require.NoError(t, err)
	require.Equal(t, rating.StateFresh, res.State)
	require.InDelta(t, 8.1, *res.Rating, 1e-9)
	require.Zero(t, f.queue.Len())
}

func TestQueryStaleEntryEnqueuesOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.table.PutRating(ctx, rating.CacheEntry{
		ExternalID: "tt1", Scaled: 750, RetrievedAt: f.clock.Now().Add(-10 * 24 * time.Hour),
	}))

	res, err := f.p.Query(ctx, "tt1")
	require.NoError(t, err)
	require.Equal(t, rating.StateStale, res.State)
	require.InDelta(t, 7.5, *res.Rating, 1e-9)
	require.Equal(t, 1, f.queue.Len())
	require.Empty(t, f.service.Calls(), "queries never call upstream")
}

func TestQueryUnknownAndAbsent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	res, err := f.p.Query(ctx, "tt404")
	require.NoError(t, err)
	require.True(t, res.NoContent())
	require.Nil(t, res.Rating)
	require.Equal(t, 1, f.queue.Len())

	require.NoError(t, f.table.PutRating(ctx, rating.CacheEntry{
		ExternalID: "tt0", Scaled: rating.AbsentScaled, RetrievedAt: f.clock.Now(),
	}))
	res, err = f.p.Query(ctx, "tt0")
	require.NoError(t, err)
	require.Equal(t, rating.StateFresh, res.State)
	require.True(t, res.Absent)
	require.Nil(t, res.Rating)

	_, err = f.p.Query(ctx, " ")
	require.Error(t, err)
}

func TestDrainStoresFoundAndNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	seedShow(t, f.shows, 1, "tt1")
	seedShow(t, f.shows, 2, "tt2")
	f.service.results["tt1"] = rating.Lookup{Outcome: rating.OutcomeFound, Rating: 8.1}
	f.service.results["tt2"] = rating.Lookup{Outcome: rating.OutcomeNotFound}
	require.NoError(t, f.p.Submit(ctx, "tt1", 1))
	require.NoError(t, f.p.Submit(ctx, "tt2", 2))

	stats := f.p.Drain(ctx)
	require.Equal(t, rating.DrainStats{Received: 2, Found: 1, NotFound: 1}, stats)
	require.Zero(t, f.queue.Len())

	e, ok, err := f.table.GetRating(ctx, "tt1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 810, e.Scaled)
	require.Equal(t, f.clock.Now(), e.RetrievedAt)

	e, ok, err = f.table.GetRating(ctx, "tt2")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, e.Absent())

	shows, err := f.shows.ListShows(ctx, 0, 10)
	require.NoError(t, err)
	require.InDelta(t, 8.1, *shows[0].Rating, 1e-9)
	require.Nil(t, shows[1].Rating)
}

func TestDrainTripsBreakerAndDefersBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.service.results["tt3"] = rating.Lookup{Outcome: rating.OutcomeFound, Rating: 9}
	for _, id := range []string{"tt1", "tt2", "tt3"} {
		require.NoError(t, f.p.Submit(ctx, id, 0))
	}

	stats := f.p.Drain(ctx)
	require.True(t, stats.Tripped)
	require.Equal(t, 3, stats.Deferred)
	require.Equal(t, []string{"tt1"}, f.service.Calls(), "pass stops after the failing call")

	blocked, err := f.table.GetBlockedUntil(ctx)
	require.NoError(t, err)
	require.Equal(t, f.clock.Now().Add(4*time.Hour), blocked)

	pending := f.queue.Pending()
	require.Len(t, pending, 3)
	for _, p := range pending {
		require.Equal(t, blocked, p.VisibleAt)
	}

	// While the breaker is open nothing reaches upstream.
	f.clock.Advance(time.Hour)
	require.NoError(t, f.p.Submit(ctx, "tt3", 0))
	stats = f.p.Drain(ctx)
	require.Equal(t, 1, stats.Deferred)
	require.Len(t, f.service.Calls(), 1)
	for _, p := range f.queue.Pending() {
		require.Equal(t, blocked, p.VisibleAt, "re-sent with the remaining block")
	}

	// After the block passes the queue drains normally.
	f.clock.Advance(3 * time.Hour)
	f.service.results["tt1"] = rating.Lookup{Outcome: rating.OutcomeFound, Rating: 7}
	f.service.results["tt2"] = rating.Lookup{Outcome: rating.OutcomeNotFound}
	stats = f.p.Drain(ctx)
	require.False(t, stats.Tripped)
	require.Equal(t, 4, stats.Received)
	require.Zero(t, f.queue.Len())
}

func TestBreakerLoadsPersistedState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	table := memory.NewRatingTable()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, table.SetBlockedUntil(ctx, now.Add(time.Hour)))

	b := rating.NewBreaker(table, 0)
	require.False(t, b.Open(now))
	require.NoError(t, b.Load(ctx))
	require.True(t, b.Open(now))
	require.Equal(t, time.Hour, b.Remaining(now))
	require.Zero(t, b.Remaining(now.Add(2*time.Hour)))

	delay, err := b.Trip(ctx, now)
	require.NoError(t, err)
	require.Equal(t, rating.DefaultCooldown, delay)
	require.Equal(t, now.Add(4*time.Hour), b.BlockedUntil())
}

func seedShow(t *testing.T, s *memory.ShowStore, id int, externalID string) {
	t.Helper()
	require.NoError(t, s.WithinTx(context.Background(), func(tx store.ShowTx) error {
		return tx.InsertShow(context.Background(), catalog.Show{ID: id, Name: externalID, ExternalRatingID: externalID})
	}))
}
