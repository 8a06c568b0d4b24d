// Package store defines the Job Store contract (spec §4.1): the sole
// concurrency primitive the scheduler core depends on.
//
// A Store exposes transactions; within a transaction, a Tx can create
// a job, fetch one by id, acquire exclusive row locks on a predicate
// match (optionally skipping already-locked rows), and write back
// mutated fields. Everything the Orchestrator, Stage Worker, and
// Lease Recovery do is expressed purely in terms of this interface,
// so either a real relational backend (package sql) or an in-memory
// test double (package memstore) can satisfy it.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/obsidiantrove/sleepyfactory/job"
	"github.com/obsidiantrove/sleepyfactory/jobspec"
)

// Tx is the set of operations available inside one open transaction.
// All mutations made through a Tx are committed atomically when the
// function passed to Store.WithTx returns nil, and discarded if it
// returns an error.
type Tx interface {
	// CreateJob inserts a new job row with every stage NEW and
	// attempts = 1.
	CreateJob(ctx context.Context, spec *jobspec.Spec, now time.Time) (*job.Job, error)

	// GetJob returns the job identified by id, or ErrNotFound. GetJob
	// never holds the row locked for the rest of the transaction; use
	// SelectForUpdate with ByID when the caller needs to mutate the
	// result.
	GetJob(ctx context.Context, id uuid.UUID) (*job.Job, error)

	// SelectForUpdate returns up to limit jobs matching pred, holding
	// an exclusive row lock on each until the transaction ends. When
	// skipLocked is true, rows already locked by a concurrent
	// transaction are silently omitted rather than blocked on.
	SelectForUpdate(ctx context.Context, pred Predicate, limit int, skipLocked bool) ([]*job.Job, error)

	// UpdateJob persists every mutable field of j (stage statuses and
	// leases, attempts, last error, updated_at) back to the row
	// identified by j.ID. The caller must have obtained that row via
	// SelectForUpdate (or CreateJob) earlier in the same transaction.
	UpdateJob(ctx context.Context, j *job.Job, now time.Time) error
}

// Store is the durable backing store for jobs. Every mutating
// operation happens inside WithTx; Store also exposes read-only
// helpers used by administrative tooling (the CLI's list-jobs and
// show-job commands), which do not need transactional isolation.
type Store interface {
	// WithTx runs fn inside a new transaction, committing if fn
	// returns nil and rolling back otherwise. The error from fn (or
	// from the commit itself) is returned unwrapped.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// CreateJob is a convenience wrapper around WithTx + Tx.CreateJob
	// for callers (the CLI, tests) that don't need the new job in the
	// same transaction as anything else.
	CreateJob(ctx context.Context, spec *jobspec.Spec) (*job.Job, error)

	// Observer
	Observer
}

// Observer provides read-only, unlocked access to job state, for
// diagnostic and administrative use. It must never be used as part of
// the claim/complete protocol.
type Observer interface {
	// Get returns the job identified by id, or (nil, nil) if absent.
	Get(ctx context.Context, id uuid.UUID) (*job.Job, error)

	// List returns up to limit jobs, newest-first. limit <= 0 means
	// no limit.
	List(ctx context.Context, limit int) ([]*job.Job, error)
}
