// Package system provides the wall clock and timer used outside of tests.
package system

import "time"

// Clock implements catalog.Clock and worker.Scheduler on top of the time package.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Next returns a channel that fires once after d. Non-positive durations fire
// immediately.
func (Clock) Next(d time.Duration) <-chan time.Time {
	if d <= 0 {
		ch := make(chan time.Time, 1)
		ch <- time.Now().UTC()
		return ch
	}
	return time.NewTimer(d).C
}
