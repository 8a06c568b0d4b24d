package job

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrInvariantViolated is returned by Job.Validate when a stored Job
// violates one of the invariants in the state-machine design: a
// RUNNING stage without a lease, a lease on a non-RUNNING stage, or
// more than one RUNNING stage.
var ErrInvariantViolated = errors.New("job: invariant violated")

// StageState holds the per-stage status and lease of a Job. It is
// deliberately homogeneous across stages (rather than four sets of
// named status/owner/expiry fields) so that "at most one stage
// RUNNING" and "RUNNING implies a lease" can be checked uniformly
// instead of via per-stage string-keyed field access.
//
// LeaseOwner and LeaseExpiresAt are nil/absent whenever Status is not
// Running.
type StageState struct {
	Status         Status
	LeaseOwner     *string
	LeaseExpiresAt *time.Time
}

// hasFullLease reports whether both lease fields are set, the
// condition a RUNNING stage must satisfy.
func (s StageState) hasFullLease() bool {
	return s.LeaseOwner != nil && s.LeaseExpiresAt != nil
}

// hasAnyLease reports whether either lease field is set, the condition
// a non-RUNNING stage must not satisfy.
func (s StageState) hasAnyLease() bool {
	return s.LeaseOwner != nil || s.LeaseExpiresAt != nil
}

// Job is a snapshot of one pipeline job's durable state.
//
// Job values returned by a store are snapshots: mutating them in
// memory does not affect storage. All transitions happen through
// store.Tx.
type Job struct {
	ID uuid.UUID

	Stages [stageCount]StageState

	Attempts  uint32
	LastError *string

	Metadata map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Stage returns the state for the given stage.
func (j *Job) Stage(s Stage) *StageState {
	return &j.Stages[s]
}

// Clone returns a deep-enough copy of j; StageState is a value type so
// the array copy suffices, Metadata is shallow-copied since callers
// treat it as immutable once read from storage.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Metadata != nil {
		cp.Metadata = make(map[string]any, len(j.Metadata))
		for k, v := range j.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Validate checks the state-machine invariants from the design:
//
//  1. status = RUNNING implies both lease fields are present.
//  2. status in {NEW, READY, DONE, ERROR} implies both lease fields
//     are absent.
//  3. at most one stage is RUNNING at a time.
func (j *Job) Validate() error {
	running := 0
	for _, s := range j.Stages {
		switch s.Status {
		case Running:
			running++
			if !s.hasFullLease() {
				return ErrInvariantViolated
			}
		default:
			if s.hasAnyLease() {
				return ErrInvariantViolated
			}
		}
	}
	if running > 1 {
		return ErrInvariantViolated
	}
	return nil
}

// NewJob constructs a fresh Job with every stage NEW, attempts = 1,
// and the given identifier and metadata. It does not touch storage;
// it is the value a store.Store.CreateJob implementation builds
// before inserting.
func NewJob(id uuid.UUID, metadata map[string]any, now time.Time) *Job {
	j := &Job{
		ID:        id,
		Attempts:  1,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, s := range Stages() {
		j.Stages[s] = StageState{Status: New}
	}
	return j
}
