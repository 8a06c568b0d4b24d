package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	pipeline "github.com/obsidiantrove/sleepyfactory"
	"github.com/obsidiantrove/sleepyfactory/job"
	"github.com/obsidiantrove/sleepyfactory/jobspec"
	"github.com/obsidiantrove/sleepyfactory/store"
	"github.com/obsidiantrove/sleepyfactory/store/memstore"
)

func readyScript(t *testing.T, ctx context.Context, ms *memstore.Store, id uuid.UUID) {
	t.Helper()
	err := ms.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		rows, err := tx.SelectForUpdate(ctx, store.ByID{ID: id}, 1, false)
		if err != nil {
			return err
		}
		rows[0].Stage(job.Script).Status = job.Ready
		return tx.UpdateJob(ctx, rows[0], time.Now())
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestStageWorkerProcessesReadyJob(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()

	j, err := ms.CreateJob(ctx, &jobspec.Spec{})
	if err != nil {
		t.Fatal(err)
	}
	readyScript(t, ctx, ms, j.ID)

	called := make(chan struct{}, 1)
	do := func(ctx context.Context, jobID uuid.UUID, stage job.Stage) error {
		called <- struct{}{}
		return nil
	}

	w := pipeline.NewStageWorker(ms, pipeline.StageWorkerConfig{
		Stage:        job.Script,
		Do:           do,
		PollInterval: 10 * time.Millisecond,
		OwnerTag:     "test:1:script",
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := w.Start(runCtx); err != nil {
		t.Fatal(err)
	}

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("stage function not called")
	}

	time.Sleep(50 * time.Millisecond)

	got, err := ms.Get(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Stage(job.Script).Status != job.Done {
		t.Fatalf("expected DONE, got %v", got.Stage(job.Script).Status)
	}
	if got.Stage(job.Script).LeaseOwner != nil {
		t.Fatal("expected lease released after completion")
	}

	if err := w.Stop(time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestStageWorkerMarksError(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()

	j, err := ms.CreateJob(ctx, &jobspec.Spec{})
	if err != nil {
		t.Fatal(err)
	}
	readyScript(t, ctx, ms, j.ID)

	do := func(ctx context.Context, jobID uuid.UUID, stage job.Stage) error {
		return errors.New("boom")
	}

	w := pipeline.NewStageWorker(ms, pipeline.StageWorkerConfig{
		Stage:        job.Script,
		Do:           do,
		PollInterval: 10 * time.Millisecond,
		OwnerTag:     "test:1:script",
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := w.Start(runCtx); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		got, err := ms.Get(ctx, j.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Stage(job.Script).Status == job.Error {
			if got.LastError == nil || *got.LastError != "boom" {
				t.Fatalf("expected last_error %q, got %v", "boom", got.LastError)
			}
			if err := w.Stop(time.Second); err != nil {
				t.Fatal(err)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("stage never reached ERROR")
}

func TestStageWorkerIgnoresDisownedCompletion(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()

	j, err := ms.CreateJob(ctx, &jobspec.Spec{})
	if err != nil {
		t.Fatal(err)
	}
	readyScript(t, ctx, ms, j.ID)

	blockExec := make(chan struct{})
	do := func(ctx context.Context, jobID uuid.UUID, stage job.Stage) error {
		<-blockExec
		return nil
	}

	w := pipeline.NewStageWorker(ms, pipeline.StageWorkerConfig{
		Stage:        job.Script,
		Do:           do,
		PollInterval: 5 * time.Second,
		OwnerTag:     "test:1:script",
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := w.Start(runCtx); err != nil {
		t.Fatal(err)
	}

	// Wait for the claim to land, then simulate lease recovery reclaiming
	// the stage out from under the in-flight execution.
	deadline := time.Now().Add(time.Second)
	for {
		got, err := ms.Get(ctx, j.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Stage(job.Script).Status == job.Running {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stage never reached RUNNING")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := ms.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		rows, err := tx.SelectForUpdate(ctx, store.ByID{ID: j.ID}, 1, false)
		if err != nil {
			return err
		}
		st := rows[0].Stage(job.Script)
		st.Status = job.Ready
		st.LeaseOwner = nil
		st.LeaseExpiresAt = nil
		return tx.UpdateJob(ctx, rows[0], time.Now())
	}); err != nil {
		t.Fatal(err)
	}

	// Cancel the worker's context before releasing the execution, so the
	// loop exits after this completion attempt instead of re-claiming the
	// now-READY stage and completing it legitimately.
	cancel()
	close(blockExec)
	time.Sleep(50 * time.Millisecond)

	if err := w.Stop(time.Second); err != nil {
		t.Fatal(err)
	}

	got, err := ms.Get(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	// The disowned completion must not have clobbered the stage back to
	// DONE; the reclaimed READY status must stand.
	if got.Stage(job.Script).Status == job.Done {
		t.Fatal("disowned completion must not mark the stage DONE")
	}
}
