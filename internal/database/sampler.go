// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/periscope-analytics/periscope/internal/metrics"
	"github.com/periscope-analytics/periscope/internal/models"
)

// sampleConditions translates a SampleFilter into WHERE fragments with
// positional parameters. Institutional rows are excluded by the view
// itself being filtered here rather than at write time, so the flag can
// be corrected on the video row and take effect at the next refresh.
func sampleConditions(f models.SampleFilter, now time.Time) (conds []string, args []interface{}) {
	conds = append(conds, "NOT is_institutional", "NOT is_short")

	if f.MinScore > 0 {
		args = append(args, f.MinScore)
		conds = append(conds, fmt.Sprintf("temporal_performance_score >= $%d", len(args)))
	}
	if f.MinViews > 0 {
		args = append(args, f.MinViews)
		conds = append(conds, fmt.Sprintf("view_count >= $%d", len(args)))
	}
	if f.MaxAgeDays > 0 {
		args = append(args, now.UTC().AddDate(0, 0, -f.MaxAgeDays))
		conds = append(conds, fmt.Sprintf("published_at >= $%d", len(args)))
	}
	if f.TopicDomain != "" {
		args = append(args, f.TopicDomain)
		conds = append(conds, fmt.Sprintf("topic_domain = $%d", len(args)))
	}
	if f.Category != "" && f.Category != "all" {
		args = append(args, f.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	return conds, args
}

const performanceColumns = `id, channel_id, title, published_at, view_count, is_short,
	is_institutional, topic_domain, category, channel_baseline_at_publish,
	temporal_performance_score, random_sort`

func scanPerformanceRow(scanner interface{ Scan(...interface{}) error }) (models.Video, error) {
	var v models.Video
	err := scanner.Scan(
		&v.ID, &v.ChannelID, &v.Title, &v.PublishedAt, &v.ViewCount, &v.IsShort,
		&v.IsInstitutional, &v.TopicDomain, &v.Category, &v.ChannelBaselineAtPublish,
		&v.TemporalPerformanceScore, &v.RandomSort)
	return v, err
}

// SampleFrom reads up to limit rows from the video_performance view at
// or after the cursor in random_sort order. Callers issue a second call
// with cursor 0 and an upper bound to wrap around when the first pass
// comes up short near the top of the keyspace.
func (db *DB) SampleFrom(ctx context.Context, f models.SampleFilter, now time.Time, lo, hi float64, limit int) ([]models.Video, error) {
	conds, args := sampleConditions(f, now)

	args = append(args, lo)
	conds = append(conds, fmt.Sprintf("random_sort >= $%d", len(args)))
	if hi > 0 {
		args = append(args, hi)
		conds = append(conds, fmt.Sprintf("random_sort < $%d", len(args)))
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s
		FROM video_performance
		WHERE %s
		ORDER BY random_sort
		LIMIT $%d`,
		performanceColumns, strings.Join(conds, " AND "), len(args))

	rctx, cancel := db.readCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := db.conn.QueryContext(rctx, query, args...)
	metrics.RecordDBQuery("select", "video_performance", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to sample videos: %w", err)
	}
	defer rows.Close()

	videos := make([]models.Video, 0, limit)
	for rows.Next() {
		v, err := scanPerformanceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sampled video: %w", err)
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

// PerformanceRowsByIDs reads the classifier's view of specific videos.
func (db *DB) PerformanceRowsByIDs(ctx context.Context, ids []string) (map[string]models.Video, error) {
	videos, err := db.GetVideosByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.Video, len(videos))
	for _, v := range videos {
		byID[v.ID] = v
	}
	return byID, nil
}
