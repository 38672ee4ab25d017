// Package clock provides a minimal logical clock: a monotonically
// increasing counter that mints unique Timestamp values. It is one valid
// implementation of the Clock interface the mvcc core's op driver
// collaborator depends on; a hybrid-logical or consensus-backed clock
// could substitute without changing anything downstream.
package clock

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/mycastiel/kudu/timestamp"
)

// LogicalClock is a monotonic counter seeded by the caller. Now
// atomically pre-increments and returns the new value, so successive
// calls always produce strictly increasing timestamps. There is no skew
// between Now and NowLatest: a logical clock does not model real time, so
// both return the same quantity.
type LogicalClock struct {
	counter atomic.Uint64
}

// New returns a LogicalClock seeded at seed. The first call to Now returns
// seed+1.
func New(seed timestamp.Timestamp) *LogicalClock {
	c := &LogicalClock{}
	c.counter.Store(uint64(seed))
	return c
}

// Now atomically increments the counter and returns the new value.
func (c *LogicalClock) Now() timestamp.Timestamp {
	return timestamp.Timestamp(c.counter.Add(1))
}

// NowLatest is identical to Now for a logical clock: there is no
// wall-clock skew to account for.
func (c *LogicalClock) NowLatest() timestamp.Timestamp {
	return c.Now()
}

// Update advances the counter to at least t, without minting a new unique
// value. Used when a caller observes a timestamp from elsewhere (e.g. a
// remote node) and wants subsequent local timestamps to exceed it.
func (c *LogicalClock) Update(t timestamp.Timestamp) {
	for {
		cur := c.counter.Load()
		if uint64(t) <= cur {
			return
		}
		if c.counter.CompareAndSwap(cur, uint64(t)) {
			return
		}
	}
}

// ErrServiceUnavailable is returned by WaitUntilAfter: a logical clock
// cannot wait for real time to pass a given timestamp, since it doesn't
// model real time at all.
var ErrServiceUnavailable = errors.New("clock: logical clock does not support waiting on wall-clock time")

// WaitUntilAfter always fails for a LogicalClock. It exists so that
// LogicalClock satisfies the same collaborator surface a future
// wall-clock-aware implementation would, without pretending to support an
// operation this implementation fundamentally cannot perform.
func (c *LogicalClock) WaitUntilAfter(timestamp.Timestamp) error {
	return ErrServiceUnavailable
}
