// Package log provides the process-wide structured logger used across the
// mvcc core and its surrounding commands, built on zap.
package log

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mycastiel/kudu/internal/syncutil"
)

var logger atomic.Pointer[zap.Logger]

func init() {
	l, _ := zap.NewProduction()
	logger.Store(l)
}

// Options configures the process logger. Dev selects a human-readable
// console encoder suitable for local runs of cmd/mvccdemo; the default
// (Dev == false) is the JSON production encoder.
type Options struct {
	Dev bool
}

// Init replaces the process-wide logger. Called once at process startup by
// cmd/mvccdemo; library code (mvcc, clock, opdriver, compactor) never calls
// this and only ever reads the current logger via L().
func Init(opts Options) error {
	var l *zap.Logger
	var err error
	if opts.Dev {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	logger.Store(l)
	return nil
}

// L returns the current process logger.
func L() *zap.Logger {
	return logger.Load()
}

// EveryN rate-limits spammy log sites, such as the registry's message
// about a caller trying to move the new-op lower bound backwards. It
// tracks how recently the event last logged so that it can decide whether
// it's worth logging again.
//
// The zero value is usable and is equivalent to Every(0): every call to
// ShouldLog returns true.
type EveryN struct {
	// N is the minimum duration of time between log messages.
	N time.Duration

	syncutil.Mutex
	lastLogged time.Time
}

// Every is a convenience constructor for an EveryN that allows a log
// message every n duration.
func Every(n time.Duration) EveryN {
	return EveryN{N: n}
}

// ShouldLog returns whether at least N time has passed since the last
// accepted call.
func (e *EveryN) ShouldLog() bool {
	var shouldLog bool
	now := time.Now()
	e.Lock()
	if now.Sub(e.lastLogged) >= e.N {
		shouldLog = true
		e.lastLogged = now
	}
	e.Unlock()
	return shouldLog
}
