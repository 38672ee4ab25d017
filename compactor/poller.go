// Package compactor implements the garbage-collection collaborator's view
// of the mvcc core: a poll loop that watches the clean time and reports
// when it advances, so a compaction layer can decide which historical
// versions are safe to drop. No row data is touched here; only the
// watermark plumbing lives in this package.
package compactor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mycastiel/kudu/internal/log"
	"github.com/mycastiel/kudu/mvcc"
	"github.com/mycastiel/kudu/timestamp"
)

// Poller periodically reads a Manager's clean timestamp and applying set,
// invoking OnClean whenever the clean time has advanced since the previous
// tick.
type Poller struct {
	Manager  *mvcc.Manager
	Interval time.Duration

	// OnClean, if set, is called with the new clean timestamp each time it
	// advances. Called from the polling goroutine; implementations should
	// be quick or hand off.
	OnClean func(ts timestamp.Timestamp)
}

// Run polls until ctx is done. The first tick fires one interval after the
// call, not immediately.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	last := timestamp.Initial
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		clean := p.Manager.CleanTimestamp()
		applying := p.Manager.ApplyingTimestamps()
		log.L().Debug("compaction poll",
			zap.Stringer("clean", clean),
			zap.Int("applying", len(applying)))

		if clean > last {
			last = clean
			if p.OnClean != nil {
				p.OnClean(clean)
			}
		}
	}
}
