package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/obsidiantrove/sleepyfactory/internal"
	"github.com/obsidiantrove/sleepyfactory/job"
	"github.com/obsidiantrove/sleepyfactory/store"
)

// defaultRecoveryBatch bounds how many candidate jobs one recovery
// pass inspects, unless LeaseRecoveryConfig.BatchSize overrides it.
const defaultRecoveryBatch = 50

// LeaseRecoveryConfig configures a LeaseRecovery.
type LeaseRecoveryConfig struct {
	// Interval is how often Run executes when driven by Start.
	Interval time.Duration

	// BatchSize bounds how many candidate jobs one pass inspects.
	// Defaults to defaultRecoveryBatch if <= 0.
	BatchSize int

	Backoff BackoffConfig

	Log *slog.Logger
}

// LeaseRecovery returns RUNNING stages whose lease has expired back
// to READY, so another worker can reclaim them. It never inspects or
// depends on the reason a worker went silent.
type LeaseRecovery struct {
	lcBase

	store store.Store
	cfg   LeaseRecoveryConfig

	task internal.TimerTask
	back errorBackoff
}

// NewLeaseRecovery builds a LeaseRecovery over s using cfg.
func NewLeaseRecovery(s store.Store, cfg LeaseRecoveryConfig) *LeaseRecovery {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultRecoveryBatch
	}
	return &LeaseRecovery{
		store: s,
		cfg:   cfg,
		back:  errorBackoff{BackoffConfig: cfg.Backoff},
	}
}

// Run executes a single recovery pass and returns the number of
// stages reset from RUNNING to READY.
func (r *LeaseRecovery) Run(ctx context.Context) (int, error) {
	var recovered int
	err := r.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		recovered = 0
		now := time.Now()
		candidates, err := tx.SelectForUpdate(ctx, store.LeaseExpired{Now: now}, r.cfg.BatchSize, true)
		if err != nil {
			return err
		}
		for _, j := range candidates {
			stage, ok := firstExpiredStage(j, now)
			if !ok {
				continue
			}
			st := j.Stage(stage)
			st.Status = job.Ready
			st.LeaseOwner = nil
			st.LeaseExpiresAt = nil
			msg := fmt.Sprintf("lease expired, re-queued %s", stage)
			j.LastError = &msg
			if err := tx.UpdateJob(ctx, j, now); err != nil {
				return err
			}
			recovered++
		}
		return nil
	})
	return recovered, err
}

// firstExpiredStage returns the first stage (in canonical order) that
// is RUNNING with a lease that expired strictly before now. Only one
// stage is ever reset per job per pass: the at-most-one-RUNNING
// invariant means no job can have a second stage to find.
func firstExpiredStage(j *job.Job, now time.Time) (job.Stage, bool) {
	for _, stage := range job.Stages() {
		st := j.Stage(stage)
		if st.Status != job.Running {
			continue
		}
		if st.LeaseExpiresAt != nil && st.LeaseExpiresAt.Before(now) {
			return stage, true
		}
	}
	return 0, false
}

// Start begins running Run on cfg.Interval in the background.
func (r *LeaseRecovery) Start(ctx context.Context) error {
	if err := r.tryStart(); err != nil {
		return err
	}
	r.task.Start(ctx, r.onTick, r.cfg.Interval)
	return nil
}

func (r *LeaseRecovery) onTick(ctx context.Context) bool {
	n, err := r.Run(ctx)
	if err != nil {
		r.cfg.Log.Error("lease recovery pass failed", "err", err)
		internal.Sleep(ctx, r.back.failure())
		return false
	}
	r.back.success()
	return n > 0
}

// Stop initiates graceful shutdown, waiting up to timeout for the
// current pass to finish.
func (r *LeaseRecovery) Stop(timeout time.Duration) error {
	return r.tryStop(timeout, func() internal.DoneChan {
		return r.task.Stop()
	})
}
