package engine

import "sync/atomic"

// Clock hands out seq numbers to settled transitions and to intents.
// Seq numbers strictly increase and never depend on wall time, so the
// journal and harness traces sort the same way on every run.
//
// Safe for concurrent use.
type Clock struct {
	last atomic.Int64
}

// NewClock returns a clock whose first seq is 1.
func NewClock() *Clock {
	return &Clock{}
}

// ResumeClock returns a clock whose first seq is last+1.
func ResumeClock(last int64) *Clock {
	c := &Clock{}
	c.last.Store(last)
	return c
}

// Next issues a seq.
func (c *Clock) Next() int64 { return c.last.Add(1) }

// Current returns the last issued seq, 0 if none.
func (c *Clock) Current() int64 { return c.last.Load() }
