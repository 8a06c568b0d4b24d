package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/obsidiantrove/sleepyfactory/job"
)

// Predicate selects which job rows SelectForUpdate acquires. It is a
// small closed set of value types rather than a generic filter DSL or
// a SQL string: each storage backend (sql, memstore) type-switches
// over the concrete predicate and applies it in its own terms.
//
// This is the "predicate" of spec §4.1's
// select_for_update(predicate, limit, skip_locked); expressing it as
// typed Go values instead of a string keeps every stage reference
// (job.Stage, job.Status) compiler-checked.
type Predicate interface {
	isPredicate()
}

// ByID selects the single job with the given identifier.
type ByID struct {
	ID uuid.UUID
}

func (ByID) isPredicate() {}

// StageStatusEquals selects jobs whose Stage field currently has the
// given Status.
type StageStatusEquals struct {
	Stage  job.Stage
	Status job.Status
}

func (StageStatusEquals) isPredicate() {}

// All is the conjunction (AND) of its members.
type All struct {
	Predicates []Predicate
}

func (All) isPredicate() {}

// LeaseExpired selects jobs with at least one stage in job.Running
// whose lease expired strictly before Now. This is the predicate
// Lease Recovery uses; it is inherently a disjunction across the four
// stages, so it gets its own predicate type rather than being built
// from StageStatusEquals + All.
type LeaseExpired struct {
	Now time.Time
}

func (LeaseExpired) isPredicate() {}
