package mvcc

import (
	"github.com/mycastiel/kudu/timestamp"
)

// ScopedOp ties an in-flight operation's lifetime to a scope. Construction
// registers the timestamp with the Manager; exactly one terminal transition
// (Commit or Abort) must follow. Callers defer Close immediately after
// construction: if neither terminal method has run by then, Close aborts
// the op, so every exit path, including panics in the apply code, releases
// the in-flight entry.
//
//	op := mvcc.NewScopedOp(mgr, ts)
//	defer op.Close()
//	... prepare ...
//	op.StartApplying()
//	... apply ...
//	op.Commit()
//
// A ScopedOp must not be copied after construction, and its methods must be
// called from a single goroutine.
type ScopedOp struct {
	manager *Manager
	ts      timestamp.Timestamp
	done    bool
}

// NewScopedOp registers ts as a new in-flight op on manager and returns its
// lifetime handle. Panics under the same preconditions as Manager.StartOp.
func NewScopedOp(manager *Manager, ts timestamp.Timestamp) *ScopedOp {
	manager.StartOp(ts)
	return &ScopedOp{manager: manager, ts: ts}
}

// Timestamp returns the timestamp this op was registered at.
func (op *ScopedOp) Timestamp() timestamp.Timestamp {
	return op.ts
}

// StartApplying moves the op past the point of no return; after this only
// Commit may terminate it (outside of registry shutdown).
func (op *ScopedOp) StartApplying() {
	op.manager.StartApplyingOp(op.ts)
}

// Commit terminates the op as committed and suppresses the Close-time
// abort. Double-terminating panics, as Manager.CommitOp no longer finds the
// entry.
func (op *ScopedOp) Commit() {
	op.manager.CommitOp(op.ts)
	op.done = true
}

// Abort terminates the op as aborted and suppresses the Close-time abort.
func (op *ScopedOp) Abort() {
	op.manager.AbortOp(op.ts)
	op.done = true
}

// Close aborts the op if no terminal transition has run yet. Idempotent, so
// it is always safe to defer.
func (op *ScopedOp) Close() {
	if !op.done {
		op.Abort()
	}
}
