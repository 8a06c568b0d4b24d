package sql

import (
	"context"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
)

func createTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*jobModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

// createStageIndex creates one index on a stage's status column, used
// by both the Orchestrator's promotion query and the Stage Worker's
// claim query.
func createStageIndex(ctx context.Context, db bun.IDB, statusColumn string) error {
	_, err := db.NewCreateIndex().
		Model((*jobModel)(nil)).
		Index(fmt.Sprintf("idx_jobs_%s", statusColumn)).
		Column(statusColumn).
		IfNotExists().
		Exec(ctx)
	return err
}

func initDB(ctx context.Context, db *bun.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := createTable(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	for _, cols := range columnsByStage {
		if err := createStageIndex(ctx, tx, cols.status); err != nil {
			return errors.Join(err, tx.Rollback())
		}
	}
	return tx.Commit()
}

// InitDB initializes the database schema required by the SQL backend:
// the jobs table and one index per stage status column.
//
// InitDB is idempotent and may be safely called multiple times. It
// does not drop or modify existing tables beyond creating missing
// objects.
func InitDB(ctx context.Context, db *bun.DB) error {
	return initDB(ctx, db)
}

// MustInitDB behaves like InitDB but panics if initialization fails.
// Intended for application bootstrap code where failure to
// initialize schema is considered unrecoverable.
func MustInitDB(ctx context.Context, db *bun.DB) {
	if err := initDB(ctx, db); err != nil {
		panic(err)
	}
}
