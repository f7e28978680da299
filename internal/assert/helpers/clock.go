package helpers

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced clock for deadline tests. The engine
// reads it for every timestamp and deadline comparison, so advancing it is
// the only way time passes
type FakeClock struct {
	now time.Time
	mu  sync.Mutex
}

// NewFakeClock creates a fake clock pinned to the given instant
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the fake clock forward by d
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set pins the fake clock to the given instant
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
