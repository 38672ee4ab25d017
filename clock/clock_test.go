package clock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mycastiel/kudu/timestamp"
)

func TestNowIncrements(t *testing.T) {
	c := New(timestamp.Min)
	require.Equal(t, timestamp.Timestamp(1), c.Now())
	require.Equal(t, timestamp.Timestamp(2), c.Now())
	require.Equal(t, timestamp.Timestamp(3), c.NowLatest())
}

func TestSeed(t *testing.T) {
	c := New(41)
	require.Equal(t, timestamp.Timestamp(42), c.Now())
}

func TestUpdateJumpsForward(t *testing.T) {
	c := New(timestamp.Min)
	c.Update(10)
	require.Equal(t, timestamp.Timestamp(11), c.Now())

	// Updates to the past are ignored.
	c.Update(3)
	require.Equal(t, timestamp.Timestamp(12), c.Now())
}

func TestWaitUntilAfterUnavailable(t *testing.T) {
	c := New(timestamp.Min)
	require.ErrorIs(t, c.WaitUntilAfter(5), ErrServiceUnavailable)
}

// Concurrent minting must produce strictly unique timestamps.
func TestNowConcurrent(t *testing.T) {
	const goroutines = 8
	const perGoroutine = 1000

	c := New(timestamp.Min)
	results := make([][]timestamp.Timestamp, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out := make([]timestamp.Timestamp, 0, perGoroutine)
			for j := 0; j < perGoroutine; j++ {
				out = append(out, c.Now())
			}
			results[i] = out
		}(i)
	}
	wg.Wait()

	seen := make(map[timestamp.Timestamp]bool, goroutines*perGoroutine)
	for _, out := range results {
		last := timestamp.Min
		for _, ts := range out {
			require.Greater(t, ts, last, "timestamps not increasing within a goroutine")
			require.False(t, seen[ts], "duplicate timestamp %s", ts)
			seen[ts] = true
			last = ts
		}
	}
	require.Len(t, seen, goroutines*perGoroutine)
}
