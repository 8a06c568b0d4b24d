// Package pipeline implements the stage scheduler: the coordination
// core of a durable, staged job pipeline backed by a relational store.
//
// # Overview
//
// A job advances through a fixed, linear sequence of stages: script,
// audio, visuals, render. Each stage is performed by one or more
// competing workers. Stage state, ordering, and recovery from worker
// failure are owned entirely by the store (package store); workers
// are stateless and may crash, disappear, or be replaced mid-flight
// without losing progress or allowing duplicate completion.
//
// # Components
//
//	Orchestrator   promotes NEW stages to READY once prerequisites hold.
//	StageWorker    claims one READY job for its stage, runs it, completes it.
//	LeaseRecovery  returns RUNNING stages whose lease expired back to READY.
//
// All three are built purely on the store.Store interface, never on a
// concrete backend, so the same logic runs against package sql
// (Postgres/SQLite via bun) or package store/memstore (in-process,
// for tests).
//
// # Delivery Semantics
//
// The scheduler provides at-least-once stage execution. A stage may
// run more than once if a worker crashes before completing it or its
// lease expires before completion; stage handlers must be
// idempotent. There is no automatic retry of a failed stage: ERROR is
// terminal, and operators must delete, re-create, or manually reset a
// job; the CLI (cmd/sleepyfactory) offers new-job for re-creation and
// has no delete or reset command.
//
// # Concurrency Model
//
// Claim and complete are compare-and-set transactions guarded by the
// store's row lock: Claim installs a lease inside one transaction;
// Complete only succeeds if the stage is still RUNNING under the same
// owner. There are no in-memory queues or channels between
// components — all coordination is mediated by the store.
//
// # Lifecycle
//
// Orchestrator, StageWorker, and LeaseRecovery share a strict
// Start/Stop lifecycle: Start fails while the runner is running; Stop initiates
// graceful shutdown and waits up to a timeout for the current
// iteration to finish.
package pipeline
