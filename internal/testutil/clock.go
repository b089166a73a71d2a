package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a thread-safe time source advancing by a fixed
// step on every reading.
//
// Unlike time.Now, repeated runs produce identical timestamps. This
// keeps updated_at assertions and golden frames stable.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start time.Time
	at    time.Time
	step  time.Duration
}

// NewDeterministicClock creates a clock whose first Now() returns start
// and whose readings advance by step.
func NewDeterministicClock(start time.Time, step time.Duration) *DeterministicClock {
	return &DeterministicClock{start: start, at: start, step: step}
}

// Now returns the current reading and advances the clock.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.at
	c.at = c.at.Add(c.step)
	return now
}

// Reset rewinds the clock to its start time.
//
// Used for test reuse. After Reset(), the next Now() returns start again.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.start
}
