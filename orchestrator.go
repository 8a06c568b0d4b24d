package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/obsidiantrove/sleepyfactory/internal"
	"github.com/obsidiantrove/sleepyfactory/job"
	"github.com/obsidiantrove/sleepyfactory/store"
)

// defaultPromoteBatch bounds how many jobs a single Tick call promotes
// per stage, so one tick can never hold an unbounded number of row
// locks, unless OrchestratorConfig.BatchSize overrides it.
const defaultPromoteBatch = 50

// OrchestratorConfig configures an Orchestrator.
type OrchestratorConfig struct {
	// Interval is how often Tick runs when the Orchestrator is driven
	// by Start rather than called directly.
	Interval time.Duration

	// BatchSize bounds how many rows a single promotion pass selects
	// per stage. Defaults to defaultPromoteBatch if <= 0.
	BatchSize int

	Backoff BackoffConfig

	Log *slog.Logger
}

// Orchestrator promotes stages from NEW to READY: script unconditionally,
// and each later stage once its predecessor is DONE. It never claims or
// executes a stage itself.
type Orchestrator struct {
	lcBase

	store store.Store
	cfg   OrchestratorConfig

	task internal.TimerTask
	back errorBackoff
}

// NewOrchestrator builds an Orchestrator over s using cfg.
func NewOrchestrator(s store.Store, cfg OrchestratorConfig) *Orchestrator {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultPromoteBatch
	}
	return &Orchestrator{
		store: s,
		cfg:   cfg,
		back:  errorBackoff{BackoffConfig: cfg.Backoff},
	}
}

// Tick runs one promotion pass and returns the total number of stages
// promoted NEW->READY across all stages. A non-zero return lets the
// caller (Start's internal loop) rerun immediately instead of waiting
// out Interval, since more work may be immediately available.
func (o *Orchestrator) Tick(ctx context.Context) (int, error) {
	total := 0
	for _, stage := range job.Stages() {
		n, err := o.promoteStage(ctx, stage)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (o *Orchestrator) promoteStage(ctx context.Context, stage job.Stage) (int, error) {
	var promoted int
	err := o.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		promoted = 0
		var pred store.Predicate = store.StageStatusEquals{Stage: stage, Status: job.New}
		if p, ok := stage.Predecessor(); ok {
			pred = store.All{Predicates: []store.Predicate{pred, store.StageStatusEquals{Stage: p, Status: job.Done}}}
		}
		candidates, err := tx.SelectForUpdate(ctx, pred, o.cfg.BatchSize, true)
		if err != nil {
			return err
		}
		now := time.Now()
		for _, j := range candidates {
			if !o.ready(j, stage) {
				continue
			}
			j.Stage(stage).Status = job.Ready
			if err := tx.UpdateJob(ctx, j, now); err != nil {
				return err
			}
			promoted++
		}
		return nil
	})
	return promoted, err
}

// ready reports whether stage's prerequisite is satisfied on j: script
// has none, every later stage requires its predecessor DONE.
func (o *Orchestrator) ready(j *job.Job, stage job.Stage) bool {
	pred, ok := stage.Predecessor()
	if !ok {
		return true
	}
	return j.Stage(pred).Status == job.Done
}

// Start begins running Tick on cfg.Interval in the background. It
// returns ErrDoubleStarted if already running.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.tryStart(); err != nil {
		return err
	}
	o.task.Start(ctx, o.onTick, o.cfg.Interval)
	return nil
}

func (o *Orchestrator) onTick(ctx context.Context) bool {
	n, err := o.Tick(ctx)
	if err != nil {
		o.cfg.Log.Error("orchestrator tick failed", "err", err)
		internal.Sleep(ctx, o.back.failure())
		return false
	}
	o.back.success()
	return n > 0
}

// Stop initiates graceful shutdown, waiting up to timeout for the
// current tick to finish.
func (o *Orchestrator) Stop(timeout time.Duration) error {
	return o.tryStop(timeout, func() internal.DoneChan {
		return o.task.Stop()
	})
}
