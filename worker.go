package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/obsidiantrove/sleepyfactory/internal"
	"github.com/obsidiantrove/sleepyfactory/job"
	"github.com/obsidiantrove/sleepyfactory/store"

	"github.com/google/uuid"
)

// StageFunc performs the external work for one job's stage. It has no
// dependency on the store or the scheduler: it receives only what it
// needs to act (typically reading/writing through package artifact),
// and reports success or a failure message.
type StageFunc func(ctx context.Context, jobID uuid.UUID, stage job.Stage) error

// DefaultLeaseDuration is how long a claimed stage's lease lasts
// before Lease Recovery considers it abandoned.
const DefaultLeaseDuration = 10 * time.Minute

// StageWorkerConfig configures a StageWorker.
type StageWorkerConfig struct {
	Stage job.Stage
	Do    StageFunc

	// PollInterval is how long the worker sleeps between claim
	// attempts when no job is READY.
	PollInterval time.Duration

	// LeaseDuration is how long a claimed lease lasts. Zero means
	// DefaultLeaseDuration.
	LeaseDuration time.Duration

	// OwnerTag identifies this worker in lease_owner. Empty means a
	// tag is derived from the host name, process id, and stage.
	OwnerTag string

	Backoff BackoffConfig

	Log *slog.Logger
}

// StageWorker claims one READY job for its stage at a time, executes
// the stage function outside any transaction, and completes the stage
// with a compare-and-set guarded by the lease it installed at claim
// time.
type StageWorker struct {
	lcBase

	store store.Store
	cfg   StageWorkerConfig
	owner string

	task internal.TimerTask
	back errorBackoff
}

// NewStageWorker builds a StageWorker over s using cfg.
func NewStageWorker(s store.Store, cfg StageWorkerConfig) *StageWorker {
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = DefaultLeaseDuration
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	owner := cfg.OwnerTag
	if owner == "" {
		owner = defaultOwnerTag(cfg.Stage)
	}
	return &StageWorker{
		store: s,
		cfg:   cfg,
		owner: owner,
		back:  errorBackoff{BackoffConfig: cfg.Backoff},
	}
}

func defaultOwnerTag(stage job.Stage) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), stage)
}

// claim installs a lease on up to one READY job for the worker's
// stage and returns it, or nil if none was available.
func (w *StageWorker) claim(ctx context.Context) (*job.Job, error) {
	var claimed *job.Job
	err := w.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		claimed = nil
		rows, err := tx.SelectForUpdate(ctx, store.StageStatusEquals{Stage: w.cfg.Stage, Status: job.Ready}, 1, true)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		j := rows[0]
		now := time.Now()
		expires := now.Add(w.cfg.LeaseDuration)
		owner := w.owner
		st := j.Stage(w.cfg.Stage)
		st.Status = job.Running
		st.LeaseOwner = &owner
		st.LeaseExpiresAt = &expires
		j.LastError = nil
		if err := tx.UpdateJob(ctx, j, now); err != nil {
			return err
		}
		claimed = j
		return nil
	})
	return claimed, err
}

// complete runs the compare-and-set completion protocol. It returns an
// error wrapping ErrDisowned (naming the stage and job id) if the job
// is gone or the lease was revoked or reassigned before this call, and
// the caller must not treat that as its own failure; any other non-nil
// error is a genuine store failure.
func (w *StageWorker) complete(ctx context.Context, jobID uuid.UUID, execErr error) error {
	var disowned bool
	err := w.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		disowned = false
		rows, err := tx.SelectForUpdate(ctx, store.ByID{ID: jobID}, 1, false)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			disowned = true
			return nil
		}
		j := rows[0]
		st := j.Stage(w.cfg.Stage)
		if st.Status != job.Running || st.LeaseOwner == nil || *st.LeaseOwner != w.owner {
			disowned = true
			return nil
		}
		now := time.Now()
		st.LeaseOwner = nil
		st.LeaseExpiresAt = nil
		if execErr != nil {
			st.Status = job.Error
			msg := execErr.Error()
			j.LastError = &msg
		} else {
			st.Status = job.Done
			j.LastError = nil
		}
		return tx.UpdateJob(ctx, j, now)
	})
	if err != nil {
		return err
	}
	if disowned {
		return fmt.Errorf("stage %s job %s: %w", w.cfg.Stage, jobID, ErrDisowned)
	}
	return nil
}

// iteration runs one claim/execute/complete cycle and reports whether
// a job was claimed, letting the caller decide whether to rerun
// immediately or wait PollInterval.
func (w *StageWorker) iteration(ctx context.Context) bool {
	j, err := w.claim(ctx)
	if err != nil {
		w.cfg.Log.Error("stage worker claim failed", "stage", w.cfg.Stage, "err", err)
		internal.Sleep(ctx, w.back.failure())
		return false
	}
	w.back.success()
	if j == nil {
		return false
	}

	execErr := w.cfg.Do(ctx, j.ID, w.cfg.Stage)
	if execErr != nil {
		w.cfg.Log.Warn("stage execution failed", "stage", w.cfg.Stage, "job", j.ID, "err", execErr)
	}

	if err := w.complete(ctx, j.ID, execErr); err != nil {
		if errors.Is(err, ErrDisowned) {
			w.cfg.Log.Info("stage completion disowned, lease no longer held", "stage", w.cfg.Stage, "job", j.ID)
		} else {
			w.cfg.Log.Error("stage worker complete failed", "stage", w.cfg.Stage, "job", j.ID, "err", err)
		}
	}
	return true
}

// Start begins the claim/execute/complete loop in the background.
func (w *StageWorker) Start(ctx context.Context) error {
	if err := w.tryStart(); err != nil {
		return err
	}
	w.task.Start(ctx, func(ctx context.Context) bool {
		return w.iteration(ctx)
	}, w.cfg.PollInterval)
	return nil
}

// Stop initiates graceful shutdown, waiting up to timeout for the
// current iteration to finish. A stage claimed but not yet completed
// when Stop returns stays RUNNING until Lease Recovery reclaims it.
func (w *StageWorker) Stop(timeout time.Duration) error {
	return w.tryStop(timeout, func() internal.DoneChan {
		return w.task.Stop()
	})
}
