// Command sleepyfactory is the control surface for the stage
// scheduler: a CLI that can create and inspect jobs, run each loop
// runner standalone or together, and prune old artifacts.
//
// Every command reads its configuration from the environment via
// package config; DATABASE_URL is the only required variable.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/obsidiantrove/sleepyfactory/artifact"
	"github.com/obsidiantrove/sleepyfactory/config"
	gsql "github.com/obsidiantrove/sleepyfactory/sql"
)

// app bundles the dependencies every subcommand needs: a connected,
// schema-initialized store and an artifact store rooted per
// configuration. Commands that only touch one of the two still go
// through app so cmd/ has a single place that knows how to construct
// them.
type app struct {
	cfg       *config.Config
	db        *bun.DB
	store     *gsql.Store
	artifacts *artifact.Store
	log       *slog.Logger
}

// newApp loads configuration, opens the database, runs InitDB, and
// roots the artifact store. Callers must call close when done.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())

	if err := gsql.InitDB(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &app{
		cfg:       cfg,
		db:        db,
		store:     gsql.NewStore(db),
		artifacts: artifact.NewStore(cfg.ArtifactsRoot),
		log:       slog.Default(),
	}, nil
}

func (a *app) close() error {
	return a.db.Close()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
