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

	"github.com/google/uuid"

	"github.com/periscope-analytics/periscope/internal/metrics"
	"github.com/periscope-analytics/periscope/internal/models"
)

const jobColumns = `id, status, total_videos, processed_videos, succeeded_videos,
	failed_videos, deferred, last_error, started_at, updated_at, completed_at`

func scanJob(scanner interface{ Scan(...interface{}) error }) (models.RefreshJob, error) {
	var j models.RefreshJob
	err := scanner.Scan(
		&j.ID, &j.Status, &j.TotalVideos, &j.ProcessedVideos, &j.SucceededVideos,
		&j.FailedVideos, &j.Deferred, &j.LastError, &j.StartedAt, &j.UpdatedAt,
		&j.CompletedAt)
	return j, err
}

// StartRefreshJob creates the single active job row. The partial unique
// index on active statuses is the mutual exclusion: a second caller
// gets ErrJobActive instead of a second job, with no advisory locks.
func (db *DB) StartRefreshJob(ctx context.Context, totalVideos int) (*models.RefreshJob, error) {
	id := uuid.NewString()
	start := time.Now()
	row := db.conn.QueryRowContext(ctx, `
		INSERT INTO refresh_jobs (id, status, total_videos)
		VALUES ($1, $2, $3)
		RETURNING `+jobColumns,
		id, models.JobStatusPending, totalVideos)
	j, err := scanJob(row)
	metrics.RecordDBQuery("insert", "refresh_jobs", start, err)
	if isUniqueViolation(err) {
		return nil, ErrJobActive
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start refresh job: %w", err)
	}
	return &j, nil
}

// ActiveRefreshJob returns the currently active job, or ErrNoActiveJob.
func (db *DB) ActiveRefreshJob(ctx context.Context) (*models.RefreshJob, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM refresh_jobs
		WHERE status IN ('pending', 'running', 'cancelling')`)
	j, err := scanJob(row)
	metrics.RecordDBQuery("select", "refresh_jobs", start, nil)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveJob
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active job: %w", err)
	}
	return &j, nil
}

// LatestRefreshJob returns the most recently started job regardless of
// status, or ErrNotFound when no job has ever run.
func (db *DB) LatestRefreshJob(ctx context.Context) (*models.RefreshJob, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM refresh_jobs
		ORDER BY started_at DESC
		LIMIT 1`)
	j, err := scanJob(row)
	metrics.RecordDBQuery("select", "refresh_jobs", start, nil)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest job: %w", err)
	}
	return &j, nil
}

// JobByID fetches one job row.
func (db *DB) JobByID(ctx context.Context, id string) (*models.RefreshJob, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM refresh_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	metrics.RecordDBQuery("select", "refresh_jobs", start, nil)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job %s: %w", id, err)
	}
	return &j, nil
}

// MarkJobRunning transitions a pending job to running.
func (db *DB) MarkJobRunning(ctx context.Context, id string) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		UPDATE refresh_jobs SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, models.JobStatusRunning, models.JobStatusPending)
	metrics.RecordDBQuery("update", "refresh_jobs", start, err)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	return nil
}

// UpdateJobProgress persists progress counters after each batch so a
// restarted process reports accurate state.
func (db *DB) UpdateJobProgress(ctx context.Context, id string, processed, succeeded, failed int) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		UPDATE refresh_jobs
		SET processed_videos = $2, succeeded_videos = $3, failed_videos = $4,
		    updated_at = now()
		WHERE id = $1`,
		id, processed, succeeded, failed)
	metrics.RecordDBQuery("update", "refresh_jobs", start, err)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

// FinishJob records the terminal status for a job. The deferred flag
// marks a run stopped early by quota exhaustion; that run still counts
// as completed, not failed.
func (db *DB) FinishJob(ctx context.Context, id string, status models.JobStatus, deferred bool, lastError string) error {
	start := time.Now()
	_, err := db.conn.ExecContext(ctx, `
		UPDATE refresh_jobs
		SET status = $2, deferred = $3, last_error = $4,
		    updated_at = now(), completed_at = now()
		WHERE id = $1`,
		id, status, deferred, lastError)
	metrics.RecordDBQuery("update", "refresh_jobs", start, err)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return nil
}

// RequestCancel flips the active job to cancelling. The refresher polls
// for the transition between batches, finishes the in-flight batch, and
// then stops; there is no hard kill. A pending job cancels immediately.
func (db *DB) RequestCancel(ctx context.Context) (*models.RefreshJob, error) {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx, `
		UPDATE refresh_jobs
		SET status = $1, updated_at = now()
		WHERE status IN ('pending', 'running')
		RETURNING `+jobColumns,
		models.JobStatusCancelling)
	j, err := scanJob(row)
	metrics.RecordDBQuery("update", "refresh_jobs", start, nil)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveJob
	}
	if err != nil {
		return nil, fmt.Errorf("failed to request cancellation: %w", err)
	}
	return &j, nil
}

// JobStatusByID returns just the status column, for the refresher's
// between-batch cancellation poll.
func (db *DB) JobStatusByID(ctx context.Context, id string) (models.JobStatus, error) {
	var s models.JobStatus
	err := db.conn.QueryRowContext(ctx,
		`SELECT status FROM refresh_jobs WHERE id = $1`, id).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query job status: %w", err)
	}
	return s, nil
}
