// Package testutil provides shared helpers for probescope tests.
package testutil

import (
	"sync/atomic"

	"github.com/probescope/probescope/internal/target"
)

// FixedClock is a deterministic clock for sequencer tests. Each call to Now
// advances it by Step nanoseconds.
type FixedClock struct {
	now  atomic.Int64
	Step int64
}

// NewFixedClock creates a clock starting at start that advances by step per
// reading.
func NewFixedClock(start, step int64) *FixedClock {
	c := &FixedClock{Step: step}
	c.now.Store(start)
	return c
}

// Now returns the current reading and advances the clock.
func (c *FixedClock) Now() int64 {
	return c.now.Add(c.Step) - c.Step
}

// Target builds a capture target with minimal ceremony.
func Target(file string, line, col int, symbol, scope string) target.Target {
	return target.Target{
		Loc:    target.Location{File: file, Line: line, Col: col},
		Symbol: symbol,
		Scope:  scope,
	}
}
