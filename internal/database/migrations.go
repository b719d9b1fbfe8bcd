// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

// Versioned schema migration support.
//
// All one-time data repairs live here as named, replayable operations
// tracked in schema_migrations. They run exactly once per database, in
// order, and are append-only: never modify or remove an entry once it
// has shipped.

package database

import (
	"context"
	"fmt"
	"time"
)

// Migration is a versioned database migration.
type Migration struct {
	Version     int
	Name        string
	Description string
	SQL         string
	AppliedAt   time.Time
}

const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// getMigrations returns all versioned migrations in order.
func (db *DB) getMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Name:        "backfill_random_sort",
			Description: "Reassign random_sort values outside [0,1) written by out-of-band bulk loads; reassigned once, never changed after",
			SQL: `UPDATE videos SET random_sort = random()
				WHERE random_sort < 0 OR random_sort >= 1`,
		},
		{
			Version:     2,
			Name:        "denormalize_institutional_flag",
			Description: "Ensure is_institutional is non-null so the sampler can filter on the indexed boolean",
			SQL: `UPDATE videos SET is_institutional = FALSE
				WHERE is_institutional IS NULL`,
		},
	}
}

// createMigrationsTable creates the tracking table if needed.
func (db *DB) createMigrationsTable(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, schemaMigrationsTable)
	return err
}

// getAppliedMigrations returns version -> Migration for applied rows.
func (db *DB) getAppliedMigrations(ctx context.Context) (map[int]Migration, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT version, name, description, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]Migration)
	for rows.Next() {
		var m Migration
		if err := rows.Scan(&m.Version, &m.Name, &m.Description, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[m.Version] = m
	}
	return applied, rows.Err()
}

// runVersionedMigrations executes migrations that have not been applied
// yet. Each migration and its bookkeeping row commit atomically.
func (db *DB) runVersionedMigrations() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := db.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := db.getAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, m := range db.getMigrations() {
		if _, exists := applied[m.Version]; exists {
			continue
		}

		tx, err := db.batchTx(ctx)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			rollbackQuietly(tx)
			return fmt.Errorf("failed to execute migration v%d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, description) VALUES ($1, $2, $3)`,
			m.Version, m.Name, m.Description); err != nil {
			rollbackQuietly(tx)
			return fmt.Errorf("failed to record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}
