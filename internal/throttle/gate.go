// Package throttle provides a minimum-interval commit guard.
package throttle

import (
	"sync"
	"time"
)

// Gate admits at most one commit per interval. The zero value is not usable; use NewGate.
type Gate struct {
	mu        sync.Mutex
	interval  time.Duration
	last      time.Time
	committed bool
	now       func() time.Time
}

// NewGate returns a gate with the given minimum interval. A nil clock uses time.Now.
func NewGate(interval time.Duration, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{interval: interval, now: now}
}

// Allow commits and returns true when nothing was committed yet or the interval has elapsed.
func (g *Gate) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	t := g.now()
	if g.committed && t.Sub(g.last) < g.interval {
		return false
	}
	g.last = t
	g.committed = true
	return true
}

// Reset forgets the last commit so the next Allow succeeds.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.committed = false
	g.last = time.Time{}
	g.mu.Unlock()
}

// Last returns the time of the last commit and whether one happened.
func (g *Gate) Last() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last, g.committed
}
