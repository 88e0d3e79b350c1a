package pipeline

import "sync/atomic"

// Clock is a monotonic logical counter.
//
// Pipelines use one Clock to number generations and each Generation uses its
// own Clock to number executor steps. Step numbers reflect the order in which
// files finished, which is only deterministic across tasks, never within one.
//
// Thread-safety: Clock is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
