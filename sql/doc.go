// Package sql provides a bun-based relational implementation of
// package store for the stage scheduler.
//
// # Overview
//
// The backend provides:
//
//   - durable persistence of jobs, one row per job with flattened
//     per-stage status/lease columns (see jobModel)
//   - atomic claim/complete transitions via SELECT ... FOR UPDATE
//     [SKIP LOCKED] (PostgreSQL) inside a single bun transaction
//   - administrative read access (Store.Get/List) outside any
//     transaction, for the CLI's show-job and list-jobs commands
//
// # Dialects
//
// PostgreSQL (via bun/dialect/pgdialect + jackc/pgx/v5/stdlib) is the
// production target: spec.md's store is explicitly "PostgreSQL-class"
// with row-level SKIP LOCKED semantics. SQLite (via
// bun/dialect/sqlitedialect + modernc.org/sqlite) remains wired for
// fast, driver-light tests of the non-locking code paths (schema
// creation, plain CRUD); SQLite has no equivalent to SKIP LOCKED, so
// Store detects the dialect and omits the locking clause entirely on
// SQLite rather than emulating it. Concurrency properties that depend
// on real row locking are exercised instead through the in-memory
// store/memstore test double.
//
// # Schema
//
// InitDB creates the jobs table (if not exists) plus one index per
// stage status column. It is idempotent and runs inside a single
// transaction; it performs no destructive migrations.
//
// # Database Lifecycle
//
// This package does not manage connection pooling or migrations. The
// caller is responsible for constructing and configuring *bun.DB and
// running InitDB before use.
package sql
