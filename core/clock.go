package core

import (
	"sync/atomic"
	"time"
)

// Clock returns monotonic timestamps as offsets from a fixed epoch.
// Implementations must never run backwards.
type Clock interface {
	Now() time.Duration
}

// MonotonicClock measures time with the runtime's monotonic reading,
// so wall-clock steps (NTP, manual changes) do not affect it.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock returns a clock whose epoch is the moment of the call.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

// Now returns the time elapsed since the clock was created.
func (c *MonotonicClock) Now() time.Duration {
	return time.Since(c.start)
}

// ManualClock is a clock that only moves when told to.
// Useful for tests and offline simulations.
type ManualClock struct {
	now atomic.Int64
}

// NewManualClock creates a manual clock positioned at start.
func NewManualClock(start time.Duration) *ManualClock {
	c := &ManualClock{}
	c.now.Store(int64(start))
	return c
}

// Now returns the current position of the clock.
func (c *ManualClock) Now() time.Duration {
	return time.Duration(c.now.Load())
}

// Set moves the clock to t. Moving backwards is ignored.
func (c *ManualClock) Set(t time.Duration) {
	for {
		cur := c.now.Load()
		if int64(t) <= cur {
			return
		}
		if c.now.CompareAndSwap(cur, int64(t)) {
			return
		}
	}
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.now.Add(int64(d))
}
