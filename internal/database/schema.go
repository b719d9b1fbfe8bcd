// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package database

import (
	"context"
	"fmt"
	"time"
)

// Initial schema. All statements are idempotent (IF NOT EXISTS) so a
// restart can always replay them; incremental changes go through the
// versioned migrations in migrations.go, never ad-hoc fix scripts.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS videos (
		id TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		published_at TIMESTAMPTZ NOT NULL,
		view_count BIGINT NOT NULL DEFAULT 0,
		is_short BOOLEAN NOT NULL DEFAULT FALSE,
		is_institutional BOOLEAN NOT NULL DEFAULT FALSE,
		topic_domain TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		channel_baseline_at_publish NUMERIC(11,3),
		temporal_performance_score NUMERIC(11,3),
		random_sort DOUBLE PRECISION NOT NULL DEFAULT random(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS view_snapshots (
		video_id TEXT NOT NULL REFERENCES videos(id),
		snapshot_date DATE NOT NULL,
		days_since_published INTEGER NOT NULL,
		view_count BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (video_id, snapshot_date)
	)`,

	`CREATE TABLE IF NOT EXISTS performance_envelope (
		days_since_published INTEGER PRIMARY KEY,
		p50_views DOUBLE PRECISION NOT NULL,
		sample_count BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS quota_usage (
		usage_date DATE PRIMARY KEY,
		units_used INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS refresh_jobs (
		id UUID PRIMARY KEY,
		status TEXT NOT NULL,
		total_videos INTEGER NOT NULL DEFAULT 0,
		processed_videos INTEGER NOT NULL DEFAULT 0,
		succeeded_videos INTEGER NOT NULL DEFAULT 0,
		failed_videos INTEGER NOT NULL DEFAULT 0,
		deferred BOOLEAN NOT NULL DEFAULT FALSE,
		last_error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ
	)`,

	// One active refresher run at a time, coordinated through the job
	// row rather than a lock.
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_refresh_jobs_active
		ON refresh_jobs ((TRUE))
		WHERE status IN ('pending', 'running', 'cancelling')`,

	`CREATE INDEX IF NOT EXISTS idx_videos_channel_published
		ON videos (channel_id, published_at DESC)`,

	// The sampler's range scan: ascending random_sort over the
	// non-institutional, scored subset.
	`CREATE INDEX IF NOT EXISTS idx_videos_random_sort
		ON videos (random_sort)
		WHERE NOT is_institutional AND temporal_performance_score IS NOT NULL`,

	`CREATE INDEX IF NOT EXISTS idx_videos_score
		ON videos (temporal_performance_score)
		WHERE temporal_performance_score IS NOT NULL`,

	`CREATE INDEX IF NOT EXISTS idx_snapshots_age
		ON view_snapshots (days_since_published)`,

	// Read-optimized surface for the sampler and classifier. Not
	// auto-updated: RefreshPerformanceView must run after bulk
	// baseline/score updates.
	`CREATE MATERIALIZED VIEW IF NOT EXISTS video_performance AS
		SELECT id, channel_id, title, published_at, view_count, is_short,
		       is_institutional, topic_domain, category,
		       channel_baseline_at_publish, temporal_performance_score,
		       random_sort
		FROM videos
		WHERE temporal_performance_score IS NOT NULL`,

	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_video_performance_id
		ON video_performance (id)`,

	`CREATE INDEX IF NOT EXISTS idx_video_performance_random_sort
		ON video_performance (random_sort)`,
}

// initSchema applies the initial schema statements.
func (db *DB) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// RefreshPerformanceView refreshes the materialized view that backs the
// sampler and classifier read path. CONCURRENTLY keeps readers
// unblocked; the unique index on id makes that possible. REFRESH
// cannot run inside a transaction, so this uses a dedicated connection
// with the statement timeout disabled for the session.
func (db *DB) RefreshPerformanceView(ctx context.Context) error {
	conn, err := db.conn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, `SET statement_timeout = 0`); err != nil {
		return fmt.Errorf("failed to relax statement timeout: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY video_performance`); err != nil {
		return fmt.Errorf("failed to refresh video_performance: %w", err)
	}
	// Restore the session default before the connection returns to the pool.
	if _, err := conn.ExecContext(ctx, `SET statement_timeout = DEFAULT`); err != nil {
		return fmt.Errorf("failed to restore statement timeout: %w", err)
	}
	return nil
}
