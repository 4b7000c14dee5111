// Package testutil provides deterministic test doubles for the sync
// engine: a controllable clock, an in-memory calendar gateway, and a
// scriptable task source.
package testutil

import (
	"sync"
	"time"
)

// Clock is a thread-safe manual clock for tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock frozen at the given instant.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current instant without advancing.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
