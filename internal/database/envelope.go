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

// RebuildEnvelope recomputes the global performance envelope from all
// snapshots of non-short videos within the horizon. The whole rebuild
// is one transaction: readers see either the old curve or the new one,
// never a half-built table.
func (db *DB) RebuildEnvelope(ctx context.Context, horizonDays int) error {
	start := time.Now()
	tx, err := db.batchTx(ctx)
	if err != nil {
		return err
	}
	defer rollbackQuietly(tx)

	if _, err := tx.ExecContext(ctx, `DELETE FROM performance_envelope`); err != nil {
		metrics.RecordDBQuery("rebuild", "performance_envelope", start, err)
		return fmt.Errorf("failed to clear envelope: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO performance_envelope (days_since_published, p50_views, sample_count)
		SELECT s.days_since_published,
		       percentile_cont(0.5) WITHIN GROUP (ORDER BY s.view_count),
		       COUNT(*)
		FROM view_snapshots s
		JOIN videos v ON v.id = s.video_id
		WHERE NOT v.is_short
		  AND s.days_since_published BETWEEN 0 AND $1
		GROUP BY s.days_since_published`,
		horizonDays)
	metrics.RecordDBQuery("rebuild", "performance_envelope", start, err)
	if err != nil {
		return fmt.Errorf("failed to rebuild envelope: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit envelope rebuild: %w", err)
	}
	return nil
}

// LoadEnvelope returns the full envelope curve ordered by age.
func (db *DB) LoadEnvelope(ctx context.Context) ([]models.EnvelopePoint, error) {
	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, `
		SELECT days_since_published, p50_views, sample_count
		FROM performance_envelope
		ORDER BY days_since_published`)
	metrics.RecordDBQuery("select", "performance_envelope", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to load envelope: %w", err)
	}
	defer rows.Close()

	var points []models.EnvelopePoint
	for rows.Next() {
		var p models.EnvelopePoint
		if err := rows.Scan(&p.DaysSincePublished, &p.P50Views, &p.SampleCount); err != nil {
			return nil, fmt.Errorf("failed to scan envelope point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
