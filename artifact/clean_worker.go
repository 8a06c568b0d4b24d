package artifact

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/obsidiantrove/sleepyfactory/internal"
)

const (
	stopped = iota
	started
)

var (
	// ErrDoubleStarted is returned when Start is called on a
	// RetentionWorker that is already running.
	ErrDoubleStarted = errors.New("artifact: double start")
	// ErrDoubleStopped is returned when Stop is called on a
	// RetentionWorker that is not running.
	ErrDoubleStopped = errors.New("artifact: double stop")
	// ErrStopTimeout is returned when a RetentionWorker fails to shut
	// down within the timeout passed to Stop.
	ErrStopTimeout = errors.New("artifact: stop timeout")
)

// RetentionWorkerConfig configures a RetentionWorker.
//
// IsTerminal is required: it reports whether a job id has every stage
// in a terminal state, typically backed by a store.Observer.
type RetentionWorkerConfig struct {
	Interval   time.Duration
	OlderThan  time.Duration
	IsTerminal func(uuid.UUID) bool
	Log        *slog.Logger
}

// RetentionWorker periodically invokes a Cleaner, mirroring the
// teacher's CleanWorker lifecycle: purely an operator-facing
// background task, started by the dev command and by
// clean-artifacts --watch, never invoked by the scheduler loops
// themselves.
type RetentionWorker struct {
	state atomic.Int32

	cleaner *Cleaner
	cfg     RetentionWorkerConfig
	task    internal.TimerTask
}

// NewRetentionWorker returns a RetentionWorker driving cleaner on
// cfg.Interval.
func NewRetentionWorker(cleaner *Cleaner, cfg RetentionWorkerConfig) *RetentionWorker {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &RetentionWorker{cleaner: cleaner, cfg: cfg}
}

func (w *RetentionWorker) clean(ctx context.Context) {
	var olderThan *time.Time
	if w.cfg.OlderThan > 0 {
		t := time.Now().Add(-w.cfg.OlderThan)
		olderThan = &t
	}
	n, err := w.cleaner.Clean(ctx, olderThan, w.cfg.IsTerminal)
	if err != nil {
		w.cfg.Log.Error("artifact retention pass failed", "err", err)
		return
	}
	if n > 0 {
		w.cfg.Log.Info("pruned artifact directories", "count", n)
	}
}

// Start begins periodic retention passes in the background.
func (w *RetentionWorker) Start(ctx context.Context) error {
	if !w.state.CompareAndSwap(stopped, started) {
		return ErrDoubleStarted
	}
	w.task.Start(ctx, func(ctx context.Context) bool {
		w.clean(ctx)
		return false
	}, w.cfg.Interval)
	return nil
}

// Stop initiates graceful shutdown, waiting up to timeout for the
// current pass to finish.
func (w *RetentionWorker) Stop(timeout time.Duration) error {
	if !w.state.CompareAndSwap(started, stopped) {
		return ErrDoubleStopped
	}
	done := w.task.Stop()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}
