package storage

import (
	"context"

	"github.com/spherical-ai/catalog-engine/internal/domain"
)

// schema is valid for both sqlite and postgres.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS catalog_entries (
		vehicle_id TEXT PRIMARY KEY,
		document   TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS vehicle_summaries (
		vehicle_id TEXT PRIMARY KEY,
		document   TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reconcile_runs (
		id             TEXT PRIMARY KEY,
		batch_id       TEXT NOT NULL,
		vehicle_id     TEXT NOT NULL,
		outcome        TEXT NOT NULL,
		trims_assigned INTEGER NOT NULL DEFAULT 0,
		diagnostics    TEXT,
		error          TEXT,
		occurred_at    TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reconcile_runs_batch ON reconcile_runs (batch_id)`,
	`CREATE INDEX IF NOT EXISTS idx_reconcile_runs_vehicle ON reconcile_runs (vehicle_id, occurred_at)`,
}

// Migrate creates the engine's tables if they do not exist.
func Migrate(ctx context.Context, db DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return domain.StorageError("migrate", err)
		}
	}
	return nil
}
