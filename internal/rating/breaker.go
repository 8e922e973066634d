package rating

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/show-catalog-crawler/internal/metrics"
)

// Breaker holds the single "blocked until" deadline that gates upstream calls.
// The in-process value is authoritative between Load calls and every Trip is
// written through to the Table.
type Breaker struct {
	table    Table
	cooldown time.Duration
	until    atomic.Int64 // unix nanos, 0 when never tripped
}

// NewBreaker constructs a Breaker; call Load to pick up persisted state.
func NewBreaker(table Table, cooldown time.Duration) *Breaker {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{table: table, cooldown: cooldown}
}

// Load refreshes the deadline from the Table. A later local deadline wins.
func (b *Breaker) Load(ctx context.Context) error {
	until, err := b.table.GetBlockedUntil(ctx)
	if err != nil {
		return fmt.Errorf("load breaker state: %w", err)
	}
	if until.IsZero() {
		return nil
	}
	next := until.UnixNano()
	for {
		cur := b.until.Load()
		if cur >= next || b.until.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// BlockedUntil returns the current deadline, or the zero time.
func (b *Breaker) BlockedUntil() time.Time {
	n := b.until.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Open reports whether upstream calls are blocked at now.
func (b *Breaker) Open(now time.Time) bool {
	return b.Remaining(now) > 0
}

// Remaining returns how long upstream calls stay blocked after now.
func (b *Breaker) Remaining(now time.Time) time.Duration {
	n := b.until.Load()
	if n == 0 {
		return 0
	}
	d := time.Unix(0, n).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Trip blocks upstream calls until now+cooldown and persists the deadline.
// The returned delay is the cooldown; the deadline is kept in memory even
// when the write fails.
func (b *Breaker) Trip(ctx context.Context, now time.Time) (time.Duration, error) {
	until := now.Add(b.cooldown)
	b.until.Store(until.UnixNano())
	metrics.ObserveBreakerTrip()
	if err := b.table.SetBlockedUntil(ctx, until.UTC()); err != nil {
		return b.cooldown, fmt.Errorf("persist breaker state: %w", err)
	}
	return b.cooldown, nil
}
