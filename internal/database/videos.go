// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/periscope-analytics/periscope/internal/metrics"
	"github.com/periscope-analytics/periscope/internal/models"
)

const videoColumns = `id, channel_id, title, published_at, view_count, is_short,
	is_institutional, topic_domain, category, channel_baseline_at_publish,
	temporal_performance_score, random_sort, created_at, updated_at`

// scanVideo scans one row of videoColumns.
func scanVideo(scanner interface{ Scan(...interface{}) error }) (models.Video, error) {
	var v models.Video
	err := scanner.Scan(
		&v.ID, &v.ChannelID, &v.Title, &v.PublishedAt, &v.ViewCount, &v.IsShort,
		&v.IsInstitutional, &v.TopicDomain, &v.Category, &v.ChannelBaselineAtPublish,
		&v.TemporalPerformanceScore, &v.RandomSort, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

// UpsertVideo inserts or updates a video row. random_sort is assigned
// by the column default on first insert and deliberately excluded from
// the conflict update so it never changes afterwards.
func (db *DB) UpsertVideo(ctx context.Context, v *models.Video) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO videos (id, channel_id, title, published_at, view_count,
			is_short, is_institutional, topic_domain, category)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			view_count = EXCLUDED.view_count,
			is_short = EXCLUDED.is_short,
			is_institutional = EXCLUDED.is_institutional,
			topic_domain = EXCLUDED.topic_domain,
			category = EXCLUDED.category,
			updated_at = now()`,
		v.ID, v.ChannelID, v.Title, v.PublishedAt, v.ViewCount,
		v.IsShort, v.IsInstitutional, v.TopicDomain, v.Category)
	metrics.RecordDBQuery("upsert", "videos", start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert video %s: %w", v.ID, err)
	}
	return nil
}

// GetVideosByIDs fetches videos by id, preserving no particular order.
func (db *DB) GetVideosByIDs(ctx context.Context, ids []string) ([]models.Video, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rctx, cancel := db.readCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := db.conn.QueryContext(rctx,
		`SELECT `+videoColumns+` FROM videos WHERE id = ANY($1)`, pq.Array(ids))
	metrics.RecordDBQuery("select", "videos", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to select videos: %w", err)
	}
	defer rows.Close()

	videos := make([]models.Video, 0, len(ids))
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

// ChannelHistoryBefore returns up to limit non-short videos from the
// channel published strictly before the cutoff with positive views,
// most recent first. The strict inequality prevents lookahead bias in
// the baseline estimator.
func (db *DB) ChannelHistoryBefore(ctx context.Context, channelID string, before time.Time, limit int) ([]models.Video, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+videoColumns+`
		FROM videos
		WHERE channel_id = $1
		  AND published_at < $2
		  AND NOT is_short
		  AND view_count > 0
		ORDER BY published_at DESC
		LIMIT $3`,
		channelID, before, limit)
	metrics.RecordDBQuery("select", "videos", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to select channel history: %w", err)
	}
	defer rows.Close()

	var videos []models.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

// ScoringCandidatesAfter returns the next page of non-short videos in
// id order for the bulk baseline recompute. Keyset pagination keeps the
// scan linear in row count rather than in round-trip latency.
func (db *DB) ScoringCandidatesAfter(ctx context.Context, afterID string, limit int) ([]models.Video, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+videoColumns+`
		FROM videos
		WHERE id > $1 AND NOT is_short
		ORDER BY id
		LIMIT $2`,
		afterID, limit)
	metrics.RecordDBQuery("select", "videos", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to select scoring candidates: %w", err)
	}
	defer rows.Close()

	var videos []models.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

// BaselineUpdate is one video's new baseline from the estimator.
type BaselineUpdate struct {
	VideoID  string
	Baseline float64
}

// ApplyBaselines writes baselines for many videos in one set-based
// statement and derives each score in SQL from the row's current view
// count, so score always equals min(view_count/baseline, cap) at
// commit time. Saturation to the cap happens here, never an error.
func (db *DB) ApplyBaselines(ctx context.Context, updates []BaselineUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	ids := make([]string, len(updates))
	baselines := make([]float64, len(updates))
	for i, u := range updates {
		ids[i] = u.VideoID
		baselines[i] = u.Baseline
	}

	start := time.Now()
	tx, err := db.batchTx(ctx)
	if err != nil {
		return err
	}
	defer rollbackQuietly(tx)

	_, err = tx.ExecContext(ctx, `
		UPDATE videos v
		SET channel_baseline_at_publish = LEAST(u.baseline, $3),
		    temporal_performance_score = CASE
			WHEN u.baseline > 0 THEN LEAST(v.view_count / u.baseline, $3)
			ELSE NULL
		    END,
		    updated_at = now()
		FROM (
			SELECT unnest($1::text[]) AS id, unnest($2::float8[]) AS baseline
		) u
		WHERE v.id = u.id`,
		pq.Array(ids), pq.Array(baselines), models.ScoreCap)
	metrics.RecordDBQuery("update", "videos", start, err)
	if err != nil {
		return fmt.Errorf("failed to apply baselines: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit baseline batch: %w", err)
	}
	return nil
}
