package opdriver

import (
	"context"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/mycastiel/kudu/clock"
	"github.com/mycastiel/kudu/mvcc"
	"github.com/mycastiel/kudu/timestamp"
)

func newDriver() (*Driver, *mvcc.Manager) {
	mgr := mvcc.NewManager()
	return New(mgr, clock.New(timestamp.Min)), mgr
}

func TestRunCommits(t *testing.T) {
	d, mgr := newDriver()
	defer mgr.Close()

	var applied timestamp.Timestamp
	ts, err := d.Run(context.Background(), func(_ context.Context, ts timestamp.Timestamp) error {
		applied = ts
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, ts, applied)

	snap := mgr.TakeSnapshot()
	require.True(t, snap.IsCommitted(ts))
	require.Equal(t, ts, mgr.CleanTimestamp())
}

func TestRunErrorAborts(t *testing.T) {
	d, mgr := newDriver()
	defer mgr.Close()

	boom := errors.New("apply failed")
	ts, err := d.Run(context.Background(), func(context.Context, timestamp.Timestamp) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	// The op left no trace: not committed, not in flight, and a later op
	// can proceed past it.
	require.False(t, mgr.TakeSnapshot().IsCommitted(ts))
	require.Empty(t, mgr.ApplyingTimestamps())

	next, err := d.Run(context.Background(), func(context.Context, timestamp.Timestamp) error {
		return nil
	})
	require.NoError(t, err)
	require.Greater(t, next, ts)
	require.True(t, mgr.TakeSnapshot().IsCommitted(next))
}

func TestRunConcurrent(t *testing.T) {
	d, mgr := newDriver()
	defer mgr.Close()

	const goroutines = 8
	const perGoroutine = 50

	var wg sync.WaitGroup
	tss := make([][]timestamp.Timestamp, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				ts, err := d.Run(context.Background(), func(context.Context, timestamp.Timestamp) error {
					return nil
				})
				require.NoError(t, err)
				tss[i] = append(tss[i], ts)
			}
		}(i)
	}
	wg.Wait()

	snap := mgr.TakeSnapshot()
	for _, out := range tss {
		for _, ts := range out {
			require.True(t, snap.IsCommitted(ts))
		}
	}

	// With everything terminated, waiting for a clean snapshot at the
	// clock's frontier completes immediately.
	_, err := mgr.WaitForSnapshotWithAllCommitted(context.Background(), d.Clock.Now())
	require.NoError(t, err)
}

func TestRunCommitWait(t *testing.T) {
	d, mgr := newDriver()
	defer mgr.Close()

	// A regular op to move the bound off Min.
	first, err := d.Run(context.Background(), func(context.Context, timestamp.Timestamp) error {
		return nil
	})
	require.NoError(t, err)

	future := first + 100
	ts, err := d.RunCommitWait(context.Background(), future,
		func(context.Context, timestamp.Timestamp) error { return nil })
	require.NoError(t, err)
	require.Equal(t, future, ts)
	require.True(t, mgr.TakeSnapshot().IsCommitted(future))

	// The commit-wait op did not drag the clean time into the future.
	require.Equal(t, first, mgr.CleanTimestamp())

	// But the clock now mints past it.
	require.Greater(t, d.Clock.Now(), future)
}
