package timestamp

import (
	"sync"
	"time"
)

// A Clock tells the wall time and the time elapsed since boot.
type Clock interface {
	Now() time.Time
	Boot() time.Duration
}

type systemClock struct {
	boot time.Time
}

// SystemClock returns a clock that counts boot time from the moment it is
// created.
func SystemClock() Clock {
	return systemClock{boot: time.Now()}
}

func (c systemClock) Now() time.Time {
	return time.Now()
}

func (c systemClock) Boot() time.Duration {
	return time.Since(c.boot)
}

// ManualClock only moves when told to. Simulations and tests use it to get
// reproducible stamps.
type ManualClock struct {
	mu   sync.Mutex
	wall time.Time
	boot time.Duration
}

// NewManualClock creates a ManualClock that reads wall and boot.
func NewManualClock(wall time.Time, boot time.Duration) *ManualClock {
	return &ManualClock{wall: wall, boot: boot}
}

// Now returns the current wall time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.wall
}

// Boot returns the current boot time.
func (c *ManualClock) Boot() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.boot
}

// Advance moves both clocks forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.wall = c.wall.Add(d)
	c.boot += d
}

// Set moves the boot clock to boot and the wall clock by the same amount.
func (c *ManualClock) Set(boot time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.wall = c.wall.Add(boot - c.boot)
	c.boot = boot
}
