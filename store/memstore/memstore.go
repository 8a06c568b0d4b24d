// Package memstore is an in-memory store.Store used to test the
// Orchestrator, Stage Worker, and Lease Recovery logic without a real
// database.
//
// It exists purely as a test double (spec §2's "test doubles &
// fixtures" budget line): it implements the same row-lock /
// skip-locked semantics the sql backend provides against Postgres, so
// the scheduler core's concurrency properties (§8, properties 5-7) can
// be exercised deterministically and with -race. It is not suitable
// for production use: a single process, single address space is the
// whole point.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/obsidiantrove/sleepyfactory/job"
	"github.com/obsidiantrove/sleepyfactory/jobspec"
	"github.com/obsidiantrove/sleepyfactory/store"
)

type entry struct {
	job  *job.Job
	lock sync.Mutex
	seq  int64
}

// Store is an in-memory, goroutine-safe store.Store.
type Store struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	seq     int64
}

// New creates an empty Store.
func New() *Store {
	return &Store{entries: make(map[uuid.UUID]*entry)}
}

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

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, nil
	}
	return e.job.Clone(), nil
}

func (s *Store) List(ctx context.Context, limit int) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]*job.Job, len(entries))
	for i, e := range entries {
		out[i] = e.job.Clone()
	}
	return out, nil
}

// WithTx runs fn, tracking which rows it locked via SelectForUpdate so
// they can be released once fn returns, regardless of outcome.
// memstore applies every UpdateJob immediately under the row's lock;
// there is no separate commit/rollback buffer, since the lock alone is
// enough to keep concurrent transactions from observing a
// half-written row.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx := &memTx{store: s}
	defer tx.releaseAll()
	return fn(ctx, tx)
}

type memTx struct {
	store *Store
	held  []*entry
}

func (t *memTx) CreateJob(ctx context.Context, spec *jobspec.Spec, now time.Time) (*job.Job, error) {
	id := uuid.New()
	var metadata map[string]any
	if spec != nil {
		metadata = spec.Metadata
	}
	j := job.NewJob(id, metadata, now)

	t.store.mu.Lock()
	t.store.seq++
	e := &entry{job: j.Clone(), seq: t.store.seq}
	e.lock.Lock()
	t.held = append(t.held, e)
	t.store.entries[id] = e
	t.store.mu.Unlock()

	return j.Clone(), nil
}

// GetJob takes the row's lock only for the instant needed to read and
// clone e.job, then releases it immediately: unlike SelectForUpdate it
// never appends to t.held, so it never holds the row locked for the
// rest of the transaction and a concurrent SelectForUpdate on the same
// row is free to proceed as soon as this call returns.
func (t *memTx) GetJob(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	t.store.mu.Lock()
	e, ok := t.store.entries[id]
	t.store.mu.Unlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.job.Clone(), nil
}

func (t *memTx) SelectForUpdate(ctx context.Context, pred store.Predicate, limit int, skipLocked bool) ([]*job.Job, error) {
	t.store.mu.Lock()
	candidates := make([]*entry, 0, len(t.store.entries))
	for _, e := range t.store.entries {
		candidates = append(candidates, e)
	}
	t.store.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].seq < candidates[j].seq })

	var out []*job.Job
	for _, e := range candidates {
		if limit > 0 && len(out) >= limit {
			break
		}
		if t.alreadyHeld(e) {
			// Re-selecting a row this same transaction already
			// locked; just re-read it.
			if matches(pred, e.job) {
				out = append(out, e.job.Clone())
			}
			continue
		}
		if skipLocked {
			if !e.lock.TryLock() {
				continue
			}
		} else {
			e.lock.Lock()
		}
		if !matches(pred, e.job) {
			e.lock.Unlock()
			continue
		}
		t.held = append(t.held, e)
		out = append(out, e.job.Clone())
	}
	return out, nil
}

func (t *memTx) UpdateJob(ctx context.Context, j *job.Job, now time.Time) error {
	t.store.mu.Lock()
	e, ok := t.store.entries[j.ID]
	t.store.mu.Unlock()
	if !ok {
		return store.ErrNotFound
	}
	if !t.alreadyHeld(e) {
		return store.ErrStaleUpdate
	}
	cp := j.Clone()
	cp.UpdatedAt = now
	t.store.mu.Lock()
	e.job = cp
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) alreadyHeld(e *entry) bool {
	for _, h := range t.held {
		if h == e {
			return true
		}
	}
	return false
}

func (t *memTx) releaseAll() {
	for _, e := range t.held {
		e.lock.Unlock()
	}
	t.held = nil
}

func matches(pred store.Predicate, j *job.Job) bool {
	switch p := pred.(type) {
	case store.ByID:
		return j.ID == p.ID
	case store.StageStatusEquals:
		return j.Stage(p.Stage).Status == p.Status
	case store.All:
		for _, sub := range p.Predicates {
			if !matches(sub, j) {
				return false
			}
		}
		return true
	case store.LeaseExpired:
		for _, s := range job.Stages() {
			st := j.Stage(s)
			if st.Status == job.Running && st.LeaseExpiresAt != nil && st.LeaseExpiresAt.Before(p.Now) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
