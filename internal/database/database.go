// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/periscope-analytics/periscope/internal/config"
	"github.com/periscope-analytics/periscope/internal/logging"
)

// DB wraps the PostgreSQL connection and provides data access methods.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig
}

// New opens a PostgreSQL connection pool, applies pool settings, and
// brings the schema up to date.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	conn, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	db := &DB{conn: conn, cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := db.initSchema(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := db.runVersionedMigrations(); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logging.Info().Str("component", "database").Msg("Database initialized")
	return db, nil
}

// Conn returns the underlying SQL connection pool for packages that
// need direct access (tests, one-off maintenance).
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// readCtx derives a bounded context for read-path queries (sampler,
// classifier). Batch jobs must NOT use it; they run relaxed via batchTx.
func (db *DB) readCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := db.cfg.StatementTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// batchTx begins a transaction for offline batch work with the
// statement timeout disabled. The relaxation is transaction-local and
// never leaks to the pooled connection.
func (db *DB) batchTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SET LOCAL statement_timeout = 0`); err != nil {
		rollbackQuietly(tx)
		return nil, fmt.Errorf("failed to relax statement timeout: %w", err)
	}
	return tx, nil
}

func closeQuietly(conn *sql.DB) {
	if err := conn.Close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close database connection")
	}
}

func rollbackQuietly(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		logging.Warn().Err(err).Msg("Failed to roll back transaction")
	}
}
