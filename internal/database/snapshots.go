// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/periscope-analytics/periscope/internal/metrics"
	"github.com/periscope-analytics/periscope/internal/models"
)

// InsertSnapshotBatch upserts one ViewSnapshot per video for a single
// refresh batch and mirrors the latest count onto the video row. The
// whole batch commits atomically and independently of other batches: a
// failure here aborts only this batch, prior batches stand.
//
// Upserting on (video_id, snapshot_date) makes a same-day re-run leave
// exactly one row per pair, carrying the latest fetched count.
func (db *DB) InsertSnapshotBatch(ctx context.Context, snaps []models.ViewSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	start := time.Now()
	tx, err := db.batchTx(ctx)
	if err != nil {
		return err
	}
	defer rollbackQuietly(tx)

	snapStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO view_snapshots (video_id, snapshot_date, days_since_published, view_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (video_id, snapshot_date) DO UPDATE
			SET view_count = EXCLUDED.view_count,
			    days_since_published = EXCLUDED.days_since_published`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot upsert: %w", err)
	}
	defer snapStmt.Close()

	videoStmt, err := tx.PrepareContext(ctx, `
		UPDATE videos SET view_count = $2, updated_at = now() WHERE id = $1`)
	if err != nil {
		return fmt.Errorf("failed to prepare video update: %w", err)
	}
	defer videoStmt.Close()

	for _, s := range snaps {
		if _, err := snapStmt.ExecContext(ctx, s.VideoID, s.SnapshotDate, s.DaysSincePublished, s.ViewCount); err != nil {
			metrics.RecordDBQuery("upsert", "view_snapshots", start, err)
			return fmt.Errorf("failed to upsert snapshot for %s: %w", s.VideoID, err)
		}
		if _, err := videoStmt.ExecContext(ctx, s.VideoID, s.ViewCount); err != nil {
			metrics.RecordDBQuery("update", "videos", start, err)
			return fmt.Errorf("failed to update view count for %s: %w", s.VideoID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		metrics.RecordDBQuery("upsert", "view_snapshots", start, err)
		return fmt.Errorf("failed to commit snapshot batch: %w", err)
	}
	metrics.RecordDBQuery("upsert", "view_snapshots", start, nil)
	return nil
}

// SnapshotCount returns how many snapshot rows exist for a video.
func (db *DB) SnapshotCount(ctx context.Context, videoID string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM view_snapshots WHERE video_id = $1`, videoID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count snapshots for %s: %w", videoID, err)
	}
	return n, nil
}

// StaleVideoCandidates selects videos whose most recent snapshot is
// older than the given date (or absent), least-recently-refreshed
// first. Shorts are excluded when excludeShorts is set.
func (db *DB) StaleVideoCandidates(ctx context.Context, before string, excludeShorts bool, limit int) ([]string, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, `
		SELECT v.id
		FROM videos v
		LEFT JOIN LATERAL (
			SELECT max(s.snapshot_date) AS last_date
			FROM view_snapshots s
			WHERE s.video_id = v.id
		) ls ON TRUE
		WHERE (NOT $2 OR NOT v.is_short)
		  AND (ls.last_date IS NULL OR ls.last_date < $1)
		ORDER BY ls.last_date ASC NULLS FIRST, v.id
		LIMIT $3`,
		before, excludeShorts, limit)
	metrics.RecordDBQuery("select", "videos", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to select stale videos: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan video id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
