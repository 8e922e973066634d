package catalog

import "time"

// RetryPolicy decides whether a rate-limited request is resubmitted and how long
// to wait first. Attempt is zero-based.
type RetryPolicy interface {
	ShouldRetry(attempt int) bool
	Backoff(attempt int) time.Duration
}

// LinearRetryPolicy waits Step, 2*Step, 3*Step, ... between attempts.
type LinearRetryPolicy struct {
	Step       time.Duration
	MaxRetries int
}

// NewLinearRetryPolicy builds a policy with a 5s step.
func NewLinearRetryPolicy(maxRetries int) *LinearRetryPolicy {
	return &LinearRetryPolicy{
		Step:       5 * time.Second,
		MaxRetries: maxRetries,
	}
}

// ShouldRetry reports whether another attempt is allowed.
func (p *LinearRetryPolicy) ShouldRetry(attempt int) bool {
	if p == nil {
		return false
	}
	return attempt < p.MaxRetries
}

// Backoff returns the wait before the next attempt.
func (p *LinearRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return p.Step * time.Duration(attempt+1)
}
