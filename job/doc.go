// Package job defines the stateful representation of a pipeline job.
//
// A Job carries, for each of the four fixed stages (script, audio,
// visuals, render), a StageState: a status plus an optional lease.
// Unlike a flat row of twelve separately-named columns, Job models the
// four stages as a homogeneous array indexed by Stage, so invariants
// such as "at most one stage RUNNING" and "RUNNING implies a lease"
// can be checked with a single loop instead of per-stage field access.
//
// Job values are snapshots returned by a store.Store. Mutating them in
// memory does not change persisted state; transitions happen only
// through store.Tx.
package job
