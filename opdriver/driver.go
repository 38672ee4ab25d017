// Package opdriver implements the canonical write-op calling convention
// around the mvcc core: mint a timestamp, register a scoped op, push the
// new-op lower bound at the replication barrier, apply, then commit or
// abort. It is deliberately thin; retries, replication, and RPC belong to
// the layers above it.
package opdriver

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/mycastiel/kudu/internal/log"
	"github.com/mycastiel/kudu/internal/syncutil"
	"github.com/mycastiel/kudu/mvcc"
	"github.com/mycastiel/kudu/timestamp"
)

// ApplyFunc is the caller-supplied body of an operation. It runs between
// timestamp assignment and the APPLYING transition; returning an error
// aborts the op and no snapshot ever reflects it.
type ApplyFunc func(ctx context.Context, ts timestamp.Timestamp) error

// Driver runs operations against a Manager using timestamps minted from a
// Clock. Safe for concurrent use; each Run registers an independent op.
type Driver struct {
	Manager *mvcc.Manager
	Clock   mvcc.Clock

	// mu serializes timestamp assignment with op registration and the
	// lower-bound push, standing in for the leader-side lock that orders
	// these steps in a replicated deployment. Without it, two concurrent
	// Runs could mint in one order and push the bound in the other, and the
	// later registration would land at or below the bound.
	mu syncutil.Mutex
}

// New returns a Driver over manager and clk.
func New(manager *mvcc.Manager, clk mvcc.Clock) *Driver {
	return &Driver{Manager: manager, Clock: clk}
}

// Run executes one operation: mints a timestamp, registers it, advances the
// new-op lower bound to it (the single-node stand-in for the replication
// barrier), invokes fn, and commits on success. On error the deferred
// cleanup aborts the op. Returns the op's timestamp either way.
func (d *Driver) Run(ctx context.Context, fn ApplyFunc) (timestamp.Timestamp, error) {
	d.mu.Lock()
	ts := d.Clock.Now()
	op := mvcc.NewScopedOp(d.Manager, ts)
	d.Manager.AdjustNewOpLowerBound(ts)
	d.mu.Unlock()
	defer op.Close()

	if err := fn(ctx, ts); err != nil {
		log.L().Debug("op aborted by apply func",
			zap.Stringer("timestamp", ts), zap.Error(err))
		return ts, errors.Wrapf(err, "op at %s aborted", ts)
	}
	op.StartApplying()
	op.Commit()
	return ts, nil
}

// RunCommitWait executes one operation at an explicitly future timestamp,
// the commit-wait pattern: the caller picked futureTS ahead of local reads
// to guarantee external consistency, so the lower bound is not advanced to
// it and the clean time is free to move past concurrent ops minted in the
// present. The local clock is updated so subsequent Now calls exceed
// futureTS.
func (d *Driver) RunCommitWait(
	ctx context.Context, futureTS timestamp.Timestamp, fn ApplyFunc,
) (timestamp.Timestamp, error) {
	d.mu.Lock()
	d.Clock.Update(futureTS)
	op := mvcc.NewScopedOp(d.Manager, futureTS)
	d.mu.Unlock()
	defer op.Close()

	if err := fn(ctx, futureTS); err != nil {
		return futureTS, errors.Wrapf(err, "commit-wait op at %s aborted", futureTS)
	}
	op.StartApplying()
	op.Commit()
	return futureTS, nil
}
