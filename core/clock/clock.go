// Package clock supplies segment timestamps in Unix milliseconds.
package clock

import (
	"sync"
	"time"
)

// Clock provides millisecond timestamps. NowUnique returns strictly
// increasing values even when called several times within the same
// millisecond, so that segments stamped locally keep their arrival order.
type Clock struct {
	mu         sync.Mutex
	lastUnique int64
	nowFn      func() int64 // overridable for testing
}

// New creates a Clock that uses the system clock.
func New() *Clock {
	return &Clock{
		nowFn: func() int64 {
			return time.Now().UnixMilli()
		},
	}
}

// Fixed creates a Clock pinned to ms that advances with wall time.
func Fixed(ms int64) *Clock {
	c := New()
	c.Set(ms)
	return c
}

// Now returns the current time in Unix milliseconds.
func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowFn()
}

// Set rebases the clock on ms. Later readings advance from ms by the wall
// time elapsed since the call.
func (c *Clock) Set(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	base := time.Now()
	c.nowFn = func() int64 {
		return ms + time.Since(base).Milliseconds()
	}
}

// NowUnique returns a strictly increasing timestamp. If the clock has not
// moved past the last returned value the previous value is bumped by one.
func (c *Clock) NowUnique() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.nowFn()
	if t <= c.lastUnique {
		c.lastUnique++
		return c.lastUnique
	}
	c.lastUnique = t
	return t
}
