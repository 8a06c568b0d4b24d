package pipeline_test

import (
	"context"
	"strings"
	"testing"
	"time"

	pipeline "github.com/obsidiantrove/sleepyfactory"
	"github.com/obsidiantrove/sleepyfactory/job"
	"github.com/obsidiantrove/sleepyfactory/jobspec"
	"github.com/obsidiantrove/sleepyfactory/store"
	"github.com/obsidiantrove/sleepyfactory/store/memstore"
)

func TestLeaseRecoveryResetsExpiredLease(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()

	j, err := ms.CreateJob(ctx, &jobspec.Spec{})
	if err != nil {
		t.Fatal(err)
	}

	past := time.Now().Add(-time.Minute)
	owner := "stale:1:script"
	if err := ms.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		rows, err := tx.SelectForUpdate(ctx, store.ByID{ID: j.ID}, 1, false)
		if err != nil {
			return err
		}
		st := rows[0].Stage(job.Script)
		st.Status = job.Running
		st.LeaseOwner = &owner
		st.LeaseExpiresAt = &past
		return tx.UpdateJob(ctx, rows[0], time.Now())
	}); err != nil {
		t.Fatal(err)
	}

	rec := pipeline.NewLeaseRecovery(ms, pipeline.LeaseRecoveryConfig{})
	n, err := rec.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recovered stage, got %d", n)
	}

	got, err := ms.Get(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	st := got.Stage(job.Script)
	if st.Status != job.Ready {
		t.Fatalf("expected READY, got %v", st.Status)
	}
	if st.LeaseOwner != nil || st.LeaseExpiresAt != nil {
		t.Fatal("expected lease cleared")
	}
	if got.LastError == nil || !strings.Contains(*got.LastError, "lease expired") {
		t.Fatalf("expected last_error to mention lease expiry, got %v", got.LastError)
	}
}

func TestLeaseRecoveryIgnoresLiveLease(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()

	j, err := ms.CreateJob(ctx, &jobspec.Spec{})
	if err != nil {
		t.Fatal(err)
	}

	future := time.Now().Add(time.Hour)
	owner := "live:1:script"
	if err := ms.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		rows, err := tx.SelectForUpdate(ctx, store.ByID{ID: j.ID}, 1, false)
		if err != nil {
			return err
		}
		st := rows[0].Stage(job.Script)
		st.Status = job.Running
		st.LeaseOwner = &owner
		st.LeaseExpiresAt = &future
		return tx.UpdateJob(ctx, rows[0], time.Now())
	}); err != nil {
		t.Fatal(err)
	}

	rec := pipeline.NewLeaseRecovery(ms, pipeline.LeaseRecoveryConfig{})
	n, err := rec.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected 0 recovered stages, got %d", n)
	}

	got, err := ms.Get(ctx, j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Stage(job.Script).Status != job.Running {
		t.Fatalf("expected still RUNNING, got %v", got.Stage(job.Script).Status)
	}
}
