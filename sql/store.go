package sql

import (
	"context"
	gosql "database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/obsidiantrove/sleepyfactory/job"
	"github.com/obsidiantrove/sleepyfactory/jobspec"
	"github.com/obsidiantrove/sleepyfactory/store"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// Store implements store.Store over a *bun.DB. It supports both
// PostgreSQL (via pgdialect, with real SELECT ... FOR UPDATE SKIP
// LOCKED semantics) and SQLite (via sqlitedialect, used for fast
// driver-light tests of the non-locking code paths): SQLite has no
// row-level locking to speak of, so skipLocked and the locking clause
// are simply omitted on that dialect, which is harmless in tests
// since they run against a single connection anyway.
type Store struct {
	db *bun.DB
}

// NewStore wraps an already-connected, already-migrated *bun.DB.
func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) supportsRowLocking() bool {
	return s.db.Dialect().Name() == dialect.PG
}

// WithTx runs fn inside a new database transaction, committing on nil
// and rolling back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, btx bun.Tx) error {
		return fn(ctx, &sqlTx{db: btx, locking: s.supportsRowLocking()})
	})
}

// CreateJob is a convenience wrapper around WithTx for callers that
// don't need the new job in the same transaction as anything else.
func (s *Store) CreateJob(ctx context.Context, spec *jobspec.Spec) (*job.Job, error) {
	var out *job.Job
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		j, err := tx.CreateJob(ctx, spec, time.Now().UTC())
		if err != nil {
			return err
		}
		out = j
		return nil
	})
	return out, err
}

// Get returns the job identified by id, unlocked, for administrative
// and diagnostic use (the CLI's show-job command).
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	var jm jobModel
	err := s.db.NewSelect().Model(&jm).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, gosql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return jm.toJob(), nil
}

// List returns up to limit jobs, newest-first, unlocked.
func (s *Store) List(ctx context.Context, limit int) ([]*job.Job, error) {
	var rows []*jobModel
	q := s.db.NewSelect().Model(&rows).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*job.Job, len(rows))
	for i, jm := range rows {
		out[i] = jm.toJob()
	}
	return out, nil
}

// sqlTx implements store.Tx over one open bun.Tx.
type sqlTx struct {
	db      bun.Tx
	locking bool
}

func (t *sqlTx) CreateJob(ctx context.Context, spec *jobspec.Spec, now time.Time) (*job.Job, error) {
	var metadata map[string]any
	if spec != nil {
		metadata = spec.Metadata
	}
	j := job.NewJob(uuid.New(), metadata, now)
	jm := fromJob(j)
	if _, err := t.db.NewInsert().Model(jm).Exec(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

func (t *sqlTx) GetJob(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	var jm jobModel
	err := t.db.NewSelect().Model(&jm).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, gosql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return jm.toJob(), nil
}

func (t *sqlTx) SelectForUpdate(ctx context.Context, pred store.Predicate, limit int, skipLocked bool) ([]*job.Job, error) {
	var rows []*jobModel
	q := t.db.NewSelect().Model(&rows).Order("created_at ASC")
	q = applyPredicate(q, pred)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if t.locking {
		clause := "UPDATE"
		if skipLocked {
			clause = "UPDATE SKIP LOCKED"
		}
		q = q.For(clause)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*job.Job, len(rows))
	for i, jm := range rows {
		out[i] = jm.toJob()
	}
	return out, nil
}

func (t *sqlTx) UpdateJob(ctx context.Context, j *job.Job, now time.Time) error {
	jm := fromJob(j)
	jm.UpdatedAt = now
	res, err := t.db.NewUpdate().Model(jm).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err == nil && rows == 0 {
		return store.ErrNotFound
	}
	j.UpdatedAt = now
	return nil
}

// applyPredicate translates a store.Predicate into WHERE clauses,
// keyed off columnsByStage so no call site string-concatenates a
// column name (design note §9, option (a)).
func applyPredicate(q *bun.SelectQuery, pred store.Predicate) *bun.SelectQuery {
	switch p := pred.(type) {
	case store.ByID:
		return q.Where("id = ?", p.ID)
	case store.StageStatusEquals:
		cols := columnsByStage[p.Stage]
		return q.Where(cols.status+" = ?", p.Status)
	case store.All:
		for _, sub := range p.Predicates {
			q = applyPredicate(q, sub)
		}
		return q
	case store.LeaseExpired:
		return q.WhereGroup("AND", func(sq *bun.SelectQuery) *bun.SelectQuery {
			for i, stage := range job.Stages() {
				cols := columnsByStage[stage]
				cond := fmt.Sprintf("(%s = ? AND %s < ?)", cols.status, cols.leaseExp)
				if i == 0 {
					sq = sq.Where(cond, job.Running, p.Now)
				} else {
					sq = sq.WhereOr(cond, job.Running, p.Now)
				}
			}
			return sq
		})
	default:
		return q
	}
}
