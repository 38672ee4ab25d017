package mvcc

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/mycastiel/kudu/snapshot"
	"github.com/mycastiel/kudu/timestamp"
)

// WaitFor selects the condition a waiter blocks on.
type WaitFor int8

const (
	// AllCommitted waits until every op with a timestamp at or below the
	// waiter's is committed: either the clean time has passed the
	// timestamp, or no in-flight op could possibly touch it.
	AllCommitted WaitFor = iota
	// NoneApplying waits until no in-flight op has a timestamp at or below
	// the waiter's.
	NoneApplying
)

func (w WaitFor) String() string {
	if w == AllCommitted {
		return "commit"
	}
	return "finish applying"
}

// waiter is a pending wait registration. The waiting goroutine owns it; the
// Manager holds a reference between registration and signaling and closes
// ch exactly once, either when the condition becomes true or at Close.
type waiter struct {
	waitFor WaitFor
	ts      timestamp.Timestamp
	ch      chan struct{}
}

// WaitUntil blocks until the given condition holds for ts, the registry
// closes, or ctx is done. Returns nil on success, ErrClosed if the registry
// is or becomes closed, and an error matching ErrTimedOut if ctx expired
// first.
func (m *Manager) WaitUntil(ctx context.Context, waitFor WaitFor, ts timestamp.Timestamp) error {
	// If MVCC is closed, there's no point in waiting.
	if err := m.checkOpen(); err != nil {
		return err
	}
	w := &waiter{waitFor: waitFor, ts: ts, ch: make(chan struct{})}

	m.mu.Lock()
	if m.isDoneWaitingLocked(w) {
		m.mu.Unlock()
		return nil
	}
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()

	select {
	case <-w.ch:
		// Signaled: either the condition became true or Close woke us.
		return m.checkOpen()
	case <-ctx.Done():
	}

	// The deadline fired. Unlink our registration, unless a signal raced
	// with the expiry, in which case there is nothing to clean up.
	m.mu.Lock()
	removed := m.removeWaiterLocked(w)
	m.mu.Unlock()
	if !removed {
		return m.checkOpen()
	}
	return errors.Mark(
		errors.Wrapf(ErrTimedOut, "waiting for all ops with ts <= %s to %s (%v)", ts, waitFor, ctx.Err()),
		ctx.Err())
}

// removeWaiterLocked unlinks w from the waiter list, reporting whether it
// was still registered.
func (m *Manager) removeWaiterLocked(w *waiter) bool {
	m.mu.AssertHeld()
	for i, cand := range m.waiters {
		if cand == w {
			last := len(m.waiters) - 1
			m.waiters[i] = m.waiters[last]
			m.waiters[last] = nil
			m.waiters = m.waiters[:last]
			return true
		}
	}
	return false
}

func (m *Manager) isDoneWaitingLocked(w *waiter) bool {
	m.mu.AssertHeld()
	switch w.waitFor {
	case AllCommitted:
		return m.areAllOpsCommittedLocked(w.ts)
	case NoneApplying:
		return !m.anyInFlightAtOrBeforeLocked(w.ts)
	}
	panic("mvcc: unknown WaitFor")
}

// areAllOpsCommittedLocked reports whether every op at or below ts is
// committed: ts sits below the clean time, or below any possible in-flight.
func (m *Manager) areAllOpsCommittedLocked(ts timestamp.Timestamp) bool {
	if ts < m.curSnap.AllCommittedBefore {
		return true
	}
	// The clean time may not have moved yet, but ts can still come before
	// any possible in-flight.
	return ts < m.earliestInFlight
}

// anyInFlightAtOrBeforeLocked reports whether any in-flight op has a
// timestamp at or below ts.
//
// TODO(review): NoneApplying waiters are satisfied by the absence of any
// in-flight at or below ts, not specifically APPLYING entries. This
// preserves the long-observed behavior; a RESERVED op below ts also holds
// such waiters, which is conservative but possibly unintended.
func (m *Manager) anyInFlightAtOrBeforeLocked(ts timestamp.Timestamp) bool {
	m.mu.AssertHeld()
	for inFlight := range m.inFlight {
		if inFlight <= ts {
			return true
		}
	}
	return false
}

// WaitForSnapshotWithAllCommitted waits until every op at or below ts has
// committed, then returns the clean point-in-time snapshot at ts. The
// returned snapshot commits exactly the timestamps strictly below ts; it is
// not the live snapshot of record.
func (m *Manager) WaitForSnapshotWithAllCommitted(
	ctx context.Context, ts timestamp.Timestamp,
) (snapshot.Snapshot, error) {
	if err := m.WaitUntil(ctx, AllCommitted, ts); err != nil {
		return snapshot.Snapshot{}, err
	}
	return snapshot.From(ts), nil
}

// WaitForApplyingOpsToCommit waits until every op that was APPLYING at call
// time has committed. Ops that enter APPLYING afterwards are not waited on,
// though the in-flight-based waiter condition may conservatively hold the
// wait for them.
func (m *Manager) WaitForApplyingOpsToCommit(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	// Find the highest timestamp of an APPLYING op.
	waitFor := timestamp.Min
	m.mu.Lock()
	for ts, state := range m.inFlight {
		if state == opApplying && ts > waitFor {
			waitFor = ts
		}
	}
	m.mu.Unlock()

	if waitFor == timestamp.Min {
		// None were applying.
		return nil
	}
	return m.WaitUntil(ctx, NoneApplying, waitFor)
}

// waiterCount reports the number of registered waiters. Tests use it to
// observe that a waiter has parked before poking the registry.
func (m *Manager) waiterCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}
