// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/periscope-analytics/periscope/internal/metrics"
)

// IncrementQuota atomically adds units to the given day's counter and
// returns the new total. The upsert-with-add form is what makes this
// safe under concurrent callers; a read-modify-write in application
// code would lose updates.
func (db *DB) IncrementQuota(ctx context.Context, date string, units int) (int, error) {
	start := time.Now()
	var total int
	err := db.conn.QueryRowContext(ctx, `
		INSERT INTO quota_usage (usage_date, units_used, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (usage_date) DO UPDATE
			SET units_used = quota_usage.units_used + EXCLUDED.units_used,
			    updated_at = now()
		RETURNING units_used`,
		date, units).Scan(&total)
	metrics.RecordDBQuery("increment", "quota_usage", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to increment quota for %s: %w", date, err)
	}
	return total, nil
}

// QuotaUsed returns the units consumed on the given day. A missing row
// means nothing was used.
func (db *DB) QuotaUsed(ctx context.Context, date string) (int, error) {
	start := time.Now()
	var used int
	err := db.conn.QueryRowContext(ctx,
		`SELECT units_used FROM quota_usage WHERE usage_date = $1`, date).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordDBQuery("select", "quota_usage", start, nil)
		return 0, nil
	}
	metrics.RecordDBQuery("select", "quota_usage", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to read quota for %s: %w", date, err)
	}
	return used, nil
}
