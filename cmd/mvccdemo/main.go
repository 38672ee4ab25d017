// Command mvccdemo wires the mvcc core's collaborators together into a
// runnable demonstration: a logical clock mints timestamps, an op driver
// pushes a batch of writes through the registry from several goroutines,
// and a compaction poller reports the clean time as it advances.
package main

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mycastiel/kudu/clock"
	"github.com/mycastiel/kudu/compactor"
	"github.com/mycastiel/kudu/internal/log"
	"github.com/mycastiel/kudu/mvcc"
	"github.com/mycastiel/kudu/opdriver"
	"github.com/mycastiel/kudu/timestamp"
)

var (
	dev      bool
	ops      int
	writers  int
	interval time.Duration
)

func main() {
	cmd := &cobra.Command{
		Use:          "mvccdemo",
		Short:        "drive a batch of writes through the MVCC registry and watch the clean time advance",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ops <= 0 || writers <= 0 {
				return errors.New("--ops and --writers must be positive")
			}
			if err := log.Init(log.Options{Dev: dev}); err != nil {
				return errors.Wrap(err, "init logging")
			}
			return run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&dev, "dev", false, "use the human-readable console log encoder")
	cmd.Flags().IntVar(&ops, "ops", 100, "number of demo ops to run")
	cmd.Flags().IntVar(&writers, "writers", 4, "number of concurrent writer goroutines")
	cmd.Flags().DurationVar(&interval, "poll-interval", 50*time.Millisecond, "compaction poll interval")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	clk := clock.New(timestamp.Min)
	mgr := mvcc.NewManager()
	defer mgr.Close()
	driver := opdriver.New(mgr, clk)

	poller := &compactor.Poller{
		Manager:  mgr,
		Interval: interval,
		OnClean: func(ts timestamp.Timestamp) {
			log.L().Info("clean time advanced", zap.Stringer("clean", ts))
		},
	}
	var pollerDone sync.WaitGroup
	pollerDone.Add(1)
	go func() {
		defer pollerDone.Done()
		poller.Run(ctx)
	}()

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		perWriter := ops / writers
		if i < ops%writers {
			perWriter++
		}
		wg.Add(1)
		go func(writer int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				ts, err := driver.Run(ctx, func(context.Context, timestamp.Timestamp) error {
					return nil
				})
				if err != nil {
					log.L().Error("op failed",
						zap.Int("writer", writer), zap.Stringer("timestamp", ts), zap.Error(err))
					return
				}
			}
		}(i)
	}
	wg.Wait()

	// Block until everything written so far is clean, then report the
	// final snapshot.
	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	snap, err := mgr.WaitForSnapshotWithAllCommitted(waitCtx, clk.Now())
	if err != nil {
		return errors.Wrap(err, "waiting for clean snapshot")
	}
	log.L().Info("all ops clean",
		zap.Stringer("snapshot", snap),
		zap.Stringer("clean", mgr.CleanTimestamp()))

	cancel()
	pollerDone.Wait()
	return nil
}
