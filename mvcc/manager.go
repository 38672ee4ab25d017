// Package mvcc implements the multi-version concurrency control core of a
// tablet: a registry of in-flight operation timestamps, the snapshot of
// record, and the clean-time watermark separating definitely-committed
// history from the in-flight frontier.
//
// The Manager is the mutable authority. Writers mint a timestamp from a
// clock, register it via a ScopedOp, transition it through
// RESERVED -> APPLYING, and finally commit or abort it. Readers take
// snapshots or block until a given timestamp is clean. A single mutex
// protects all registry state; the only suspension points are the waiter
// APIs, which block on per-waiter channels rather than the mutex.
package mvcc

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/mycastiel/kudu/internal/log"
	"github.com/mycastiel/kudu/internal/syncutil"
	"github.com/mycastiel/kudu/snapshot"
	"github.com/mycastiel/kudu/timestamp"
)

// Errors returned by the Manager's non-fatal paths. Precondition violations
// (starting an op at or below the lower bound, committing an op that never
// entered APPLYING, and so on) are programmer errors and panic instead; see
// the individual method comments.
var (
	// ErrClosed is returned by any wait that begins after Close, or that is
	// woken up by Close.
	ErrClosed = errors.New("MVCC is closed")

	// ErrUninitialized is returned by CheckCleanTimeInitialized while the
	// clean time still sits at timestamp.Initial.
	ErrUninitialized = errors.New("clean time has not yet been initialized")

	// ErrTimedOut is wrapped by errors returned by waits whose context
	// expired before the awaited condition became true; those errors also
	// carry the context's error as a mark. Match with errors.Is.
	ErrTimedOut = errors.New("timed out waiting on MVCC")
)

// Clock is the collaborator contract for whoever mints Timestamps.
// Successive calls to Now must return strictly increasing values, and
// Update must advance the clock at least to the observed value. The
// clock package's LogicalClock is one valid implementation; a hybrid
// clock or a consensus leader are others.
type Clock interface {
	Now() timestamp.Timestamp
	NowLatest() timestamp.Timestamp
	Update(timestamp.Timestamp)
}

// opState tracks an in-flight operation through its two live states.
type opState int8

const (
	// opReserved: registered but not yet applying; may still be aborted.
	opReserved opState = iota
	// opApplying: past the point of no return; may only be committed.
	opApplying
)

func (s opState) String() string {
	switch s {
	case opReserved:
		return "RESERVED"
	case opApplying:
		return "APPLYING"
	default:
		return fmt.Sprintf("opState(%d)", int8(s))
	}
}

// nonMonotonicBoundEvery throttles the message logged when a caller tries
// to move the new-op lower bound backwards, which is legal but noisy under
// out-of-order apply.
var nonMonotonicBoundEvery = log.Every(10 * time.Second)

// Manager coordinates in-flight operations and committed history for one
// tablet. The zero value is not usable; construct with NewManager.
//
// All methods are safe for concurrent use. Methods other than the waiter
// APIs never block beyond the internal mutex.
type Manager struct {
	mu syncutil.Mutex

	// curSnap is the snapshot of record. Mutated only under mu; copied out
	// by TakeSnapshot so readers never observe partial updates.
	curSnap snapshot.Snapshot

	// inFlight maps each registered timestamp to its live state.
	inFlight map[timestamp.Timestamp]opState

	// newOpLowerBound is the exclusive floor for new op timestamps. It only
	// ever moves forward.
	newOpLowerBound timestamp.Timestamp

	// earliestInFlight caches the minimum key of inFlight, or timestamp.Max
	// when the map is empty. Recomputed by full scan when the minimum is
	// removed.
	earliestInFlight timestamp.Timestamp

	// waiters holds the pending wait registrations. Entries are owned by
	// the waiting goroutine; the Manager only signals and unlinks them.
	waiters []*waiter

	// open flips to false exactly once, at Close. Readable without mu.
	open atomic.Bool
}

// NewManager returns an open Manager with no in-flight operations and the
// clean time at timestamp.Initial.
func NewManager() *Manager {
	m := &Manager{
		curSnap:          snapshot.New(),
		inFlight:         make(map[timestamp.Timestamp]opState),
		newOpLowerBound:  timestamp.Min,
		earliestInFlight: timestamp.Max,
	}
	m.open.Store(true)
	return m
}

// StartOp registers ts as a new in-flight operation in the RESERVED state.
//
// The caller must guarantee that ts is above the new-op lower bound, is not
// already in flight, and is not already committed; violating any of these
// panics. Prefer NewScopedOp, which pairs registration with a guaranteed
// terminal transition.
func (m *Manager) StartOp(ts timestamp.Timestamp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.curSnap.IsCommitted(ts) {
		panic(errors.AssertionFailedf(
			"mvcc: trying to start a new op at an already committed timestamp: %s, current snapshot: %s",
			ts, m.curSnap))
	}
	if !m.initOpLocked(ts) {
		panic(errors.AssertionFailedf(
			"mvcc: there is already an op with timestamp %s in flight, or this timestamp "+
				"is at or below the exclusive lower bound for new op timestamps. "+
				"Current lower bound: %s, current snapshot: %s",
			ts, m.newOpLowerBound, m.curSnap))
	}
}

// initOpLocked inserts ts into the in-flight map in RESERVED state,
// updating the cached earliest. Returns false if ts is at or below the
// lower bound or already present.
func (m *Manager) initOpLocked(ts timestamp.Timestamp) bool {
	m.mu.AssertHeld()
	if ts <= m.newOpLowerBound {
		return false
	}
	if _, ok := m.inFlight[ts]; ok {
		return false
	}
	if ts < m.earliestInFlight {
		m.earliestInFlight = ts
	}
	m.inFlight[ts] = opReserved
	return true
}

// StartApplyingOp transitions ts from RESERVED to APPLYING. After this
// point the op may only be committed, never aborted. Panics if ts is not in
// flight or not RESERVED.
func (m *Manager) StartApplyingOp(ts timestamp.Timestamp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.inFlight[ts]
	if !ok {
		panic(errors.AssertionFailedf("mvcc: cannot mark timestamp %s as APPLYING: not in the in-flight map", ts))
	}
	if state != opReserved {
		panic(errors.AssertionFailedf("mvcc: cannot mark timestamp %s as APPLYING: wrong state: %s", ts, state))
	}
	m.inFlight[ts] = opApplying
}

// AbortOp removes ts from the in-flight map without committing it. No
// watermark moves and no snapshot ever reflects the op. The op must still
// be RESERVED; aborting an APPLYING op panics, except after Close, where
// any state is tolerated with a warning so that outstanding ScopedOp
// cleanups during shutdown do not take the process down.
func (m *Manager) AbortOp(ts timestamp.Timestamp) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.removeInFlightLocked(ts)

	if !m.open.Load() {
		log.L().Warn("aborting op while MVCC is closed",
			zap.Stringer("timestamp", ts),
			zap.Stringer("state", old))
		return
	}

	if old != opReserved {
		panic(errors.AssertionFailedf("mvcc: op with timestamp %s cannot be aborted in state %s", ts, old))
	}

	if m.earliestInFlight == ts {
		m.advanceEarliestInFlightLocked()
	}
}

// CommitOp moves ts from the in-flight map into the committed set of the
// snapshot of record. The op must be APPLYING; anything else panics. If ts
// was the earliest in-flight and the lower bound has already reached it,
// the clean time is adjusted and any satisfied waiters are woken.
func (m *Manager) CommitOp(ts timestamp.Timestamp) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasEarliest := m.commitOpLocked(ts)

	// The lower bound should have been pushed past ts before committing,
	// but tests commit without a preceding AdjustNewOpLowerBound.
	if wasEarliest && m.newOpLowerBound >= ts {
		m.adjustCleanTimeLocked()
	}
}

func (m *Manager) commitOpLocked(ts timestamp.Timestamp) (wasEarliest bool) {
	m.mu.AssertHeld()
	wasEarliest = m.earliestInFlight == ts

	old := m.removeInFlightLocked(ts)
	if old != opApplying {
		panic(errors.AssertionFailedf(
			"mvcc: trying to commit an op which never entered APPLYING state: %s state=%s", ts, old))
	}

	m.curSnap.AddCommitted(ts)

	if wasEarliest {
		m.advanceEarliestInFlightLocked()
	}
	return wasEarliest
}

// removeInFlightLocked erases ts from the in-flight map and returns its
// prior state. Panics if ts was not registered.
func (m *Manager) removeInFlightLocked(ts timestamp.Timestamp) opState {
	m.mu.AssertHeld()
	state, ok := m.inFlight[ts]
	if !ok {
		panic(errors.AssertionFailedf("mvcc: trying to remove timestamp which isn't in the in-flight set: %s", ts))
	}
	delete(m.inFlight, ts)
	return state
}

// advanceEarliestInFlightLocked recomputes the cached minimum of the
// in-flight map by full scan. O(n) in the in-flight count; see the package
// notes in DESIGN.md about substituting an ordered structure if op
// concurrency grows.
func (m *Manager) advanceEarliestInFlightLocked() {
	m.mu.AssertHeld()
	min := timestamp.Max
	for ts := range m.inFlight {
		if ts < min {
			min = ts
		}
	}
	m.earliestInFlight = min
}

// AdjustNewOpLowerBound raises the exclusive floor below which no new op
// may ever start, then adjusts the clean time. Non-monotonic calls are
// tolerated as no-ops: out-of-order applying is safe only because callers
// hold external locks (row locks, schema locks) guaranteeing that
// concurrent ops do not touch the same state, so there is nothing for this
// registry to do but log and move on.
func (m *Manager) AdjustNewOpLowerBound(ts timestamp.Timestamp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts < m.newOpLowerBound {
		if nonMonotonicBoundEvery.ShouldLog() {
			log.L().Info("tried to move back new op lower bound",
				zap.Stringer("current", m.newOpLowerBound),
				zap.Stringer("requested", ts),
				zap.Stringer("snapshot", m.curSnap))
		}
		return
	}
	m.newOpLowerBound = ts
	m.adjustCleanTimeLocked()
}

// adjustCleanTimeLocked recomputes the clean time as
// min(earliestInFlight, newOpLowerBound) and wakes any waiters whose
// condition now holds.
//
// Two cases:
//
//  1. An in-flight op still sits below the lower bound. The floor can only
//     rise to that op's timestamp.
//  2. No in-flight op sits below the lower bound. The floor rises to the
//     bound itself, since no new op can ever start below it. In-flight ops
//     with future timestamps (commit-wait) may exist above the bound; they
//     do not hold the floor back.
func (m *Manager) adjustCleanTimeLocked() {
	m.mu.AssertHeld()

	if m.earliestInFlight < m.newOpLowerBound {
		m.curSnap.AdvanceFloor(m.earliestInFlight)
	} else {
		m.curSnap.AdvanceFloor(m.newOpLowerBound)
	}

	if len(m.waiters) > 0 {
		kept := m.waiters[:0]
		for _, w := range m.waiters {
			if m.isDoneWaitingLocked(w) {
				close(w.ch)
				continue
			}
			kept = append(kept, w)
		}
		for i := len(kept); i < len(m.waiters); i++ {
			m.waiters[i] = nil
		}
		m.waiters = kept
	}
}

// Close shuts the registry down. Every pending waiter is woken and
// observes ErrClosed; every subsequent wait fails immediately. After
// Close, AbortOp tolerates arbitrary op state so that ScopedOp cleanup
// running during shutdown cannot crash the process.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open.Store(false)
	for _, w := range m.waiters {
		close(w.ch)
	}
	m.waiters = nil
}

func (m *Manager) checkOpen() error {
	if m.open.Load() {
		return nil
	}
	return ErrClosed
}

// TakeSnapshot returns a copy of the snapshot of record. The copy is
// independent of all subsequent registry mutation.
func (m *Manager) TakeSnapshot() snapshot.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.curSnap.Clone()
}

// CleanTimestamp returns the current clean time: every timestamp strictly
// below it is definitively committed. Compactions consume this to decide
// which historical versions may be dropped.
func (m *Manager) CleanTimestamp() timestamp.Timestamp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.curSnap.AllCommittedBefore
}

// ApplyingTimestamps returns the timestamps of all in-flight ops currently
// in the APPLYING state.
func (m *Manager) ApplyingTimestamps() []timestamp.Timestamp {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []timestamp.Timestamp
	for ts, state := range m.inFlight {
		if state == opApplying {
			out = append(out, ts)
		}
	}
	return out
}

// CheckCleanTimeInitialized returns ErrUninitialized while the clean time
// still sits at timestamp.Initial, i.e. before any commit or lower-bound
// adjustment has ever advanced it.
func (m *Manager) CheckCleanTimeInitialized() error {
	if m.CleanTimestamp() == timestamp.Initial {
		return ErrUninitialized
	}
	return nil
}
