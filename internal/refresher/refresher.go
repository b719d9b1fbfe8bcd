// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

// Package refresher runs the quota-gated view snapshot refresh.
//
// A run selects the stalest videos, fetches their current view counts
// in full batches from the metadata API, and appends one snapshot per
// (video, day). The daily quota is checked before every batch; an
// exhausted budget defers the rest of the run to tomorrow rather than
// failing it. Exactly one run can be active at a time, enforced by the
// job table, and cancellation is cooperative between batches.
package refresher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/periscope-analytics/periscope/internal/config"
	"github.com/periscope-analytics/periscope/internal/logging"
	"github.com/periscope-analytics/periscope/internal/metrics"
	"github.com/periscope-analytics/periscope/internal/models"
	"github.com/periscope-analytics/periscope/internal/quota"
	"github.com/periscope-analytics/periscope/internal/youtube"
)

// Store is the persistence surface a refresh run needs.
type Store interface {
	StaleVideoCandidates(ctx context.Context, before string, excludeShorts bool, limit int) ([]string, error)
	GetVideosByIDs(ctx context.Context, ids []string) ([]models.Video, error)
	InsertSnapshotBatch(ctx context.Context, snaps []models.ViewSnapshot) error
	StartRefreshJob(ctx context.Context, totalVideos int) (*models.RefreshJob, error)
	MarkJobRunning(ctx context.Context, id string) error
	UpdateJobProgress(ctx context.Context, id string, processed, succeeded, failed int) error
	FinishJob(ctx context.Context, id string, status models.JobStatus, deferred bool, lastError string) error
	JobStatusByID(ctx context.Context, id string) (models.JobStatus, error)
}

// StatsFetcher fetches view counts for one batch of video ids.
type StatsFetcher interface {
	FetchStats(ctx context.Context, ids []string) (*youtube.BatchResult, error)
}

// Summary reports the outcome of one refresh run.
type Summary struct {
	JobID     string `json:"job_id"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Remaining int    `json:"remaining"`
	Deferred  bool   `json:"deferred"`
	Cancelled bool   `json:"cancelled"`
}

// Refresher drives refresh runs.
type Refresher struct {
	store   Store
	stats   StatsFetcher
	ledger  *quota.Ledger
	cfg     *config.RefresherConfig
	ytCfg   *config.YouTubeConfig
	limiter *rate.Limiter
	now     func() time.Time
}

// New creates a refresher. now is injectable for tests; nil means
// time.Now.
func New(store Store, stats StatsFetcher, ledger *quota.Ledger, cfg *config.RefresherConfig, ytCfg *config.YouTubeConfig, now func() time.Time) *Refresher {
	if now == nil {
		now = time.Now
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.BatchesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.BatchesPerSecond), 1)
	}
	return &Refresher{
		store:   store,
		stats:   stats,
		ledger:  ledger,
		cfg:     cfg,
		ytCfg:   ytCfg,
		limiter: limiter,
		now:     now,
	}
}

// RunOnce executes one complete refresh run. ErrJobActive from the
// store means another process holds the run slot; callers treat that as
// a skip, not a failure.
func (r *Refresher) RunOnce(ctx context.Context) (*Summary, error) {
	start := time.Now()
	today := r.now().UTC().Format("2006-01-02")

	candidates, err := r.store.StaleVideoCandidates(ctx, today, r.cfg.ExcludeShorts, r.cfg.MaxVideosPerRun)
	if err != nil {
		return nil, fmt.Errorf("failed to select refresh candidates: %w", err)
	}

	job, err := r.store.StartRefreshJob(ctx, len(candidates))
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		if err := r.store.FinishJob(ctx, job.ID, models.JobStatusCompleted, false, ""); err != nil {
			return nil, err
		}
		return &Summary{JobID: job.ID}, nil
	}
	if err := r.store.MarkJobRunning(ctx, job.ID); err != nil {
		return nil, err
	}

	summary, runErr := r.processBatches(ctx, job.ID, today, candidates)
	if runErr != nil {
		_ = r.store.FinishJob(ctx, job.ID, models.JobStatusFailed, false, runErr.Error())
		return summary, runErr
	}

	status := models.JobStatusCompleted
	if summary.Cancelled {
		status = models.JobStatusCancelled
	}
	if err := r.store.FinishJob(ctx, job.ID, status, summary.Deferred, ""); err != nil {
		return summary, err
	}

	metrics.RefreshRunDuration.Observe(time.Since(start).Seconds())
	logging.Info().
		Str("component", "refresher").
		Str("job_id", summary.JobID).
		Int("processed", summary.Processed).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("remaining", summary.Remaining).
		Bool("deferred", summary.Deferred).
		Bool("cancelled", summary.Cancelled).
		Dur("elapsed", time.Since(start)).
		Msg("Refresh run finished")
	return summary, nil
}

// processBatches walks the candidate list in full API-sized batches.
// Each iteration checks cancellation, then quota, then fetches and
// persists. Batches are independent: a partial run leaves everything
// already committed in place.
func (r *Refresher) processBatches(ctx context.Context, jobID, today string, candidates []string) (*Summary, error) {
	summary := &Summary{JobID: jobID}

	for offset := 0; offset < len(candidates); offset += r.ytCfg.MaxIDsPerCall {
		end := offset + r.ytCfg.MaxIDsPerCall
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[offset:end]
		summary.Remaining = len(candidates) - offset

		status, err := r.store.JobStatusByID(ctx, jobID)
		if err != nil {
			return summary, err
		}
		if status == models.JobStatusCancelling {
			summary.Cancelled = true
			return summary, nil
		}

		ok, err := r.ledger.CheckAvailable(ctx, r.ytCfg.UnitsPerCall)
		if err != nil {
			return summary, err
		}
		if !ok {
			metrics.QuotaDenied.Inc()
			metrics.RefreshBatches.WithLabelValues("deferred").Inc()
			summary.Deferred = true
			return summary, nil
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return summary, err
		}

		succeeded, failed, err := r.refreshBatch(ctx, today, batch)
		if err != nil {
			if errors.Is(err, quota.ErrExhausted) {
				summary.Deferred = true
				metrics.RefreshBatches.WithLabelValues("deferred").Inc()
				return summary, nil
			}
			// A failed batch does not abort the run; later batches may
			// still land before the breaker opens.
			logging.Warn().Err(err).
				Str("component", "refresher").
				Int("batch_size", len(batch)).
				Msg("Refresh batch failed")
			failed = len(batch)
		}

		summary.Processed += len(batch)
		summary.Succeeded += succeeded
		summary.Failed += failed
		summary.Remaining = len(candidates) - summary.Processed
		metrics.RefreshVideosProcessed.Add(float64(len(batch)))

		if err := r.store.UpdateJobProgress(ctx, jobID, summary.Processed, summary.Succeeded, summary.Failed); err != nil {
			return summary, err
		}

		if r.cfg.BatchDelay > 0 && summary.Remaining > 0 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-time.After(r.cfg.BatchDelay):
			}
		}
	}
	return summary, nil
}

// refreshBatch spends quota, fetches one batch, and persists its
// snapshots. Per-item misses (deleted or private videos) fail only
// those items.
func (r *Refresher) refreshBatch(ctx context.Context, today string, ids []string) (succeeded, failed int, err error) {
	// The unit is spent per call regardless of how many ids rode along,
	// and regardless of per-item misses.
	if _, err := r.ledger.Spend(ctx, r.ytCfg.UnitsPerCall); err != nil {
		return 0, 0, err
	}

	result, err := r.stats.FetchStats(ctx, ids)
	if err != nil {
		metrics.RefreshBatches.WithLabelValues("api_error").Inc()
		return 0, 0, fmt.Errorf("stats fetch failed: %w", err)
	}

	videos, err := r.store.GetVideosByIDs(ctx, ids)
	if err != nil {
		metrics.RefreshBatches.WithLabelValues("db_error").Inc()
		return 0, 0, err
	}
	publishedAt := make(map[string]time.Time, len(videos))
	for _, v := range videos {
		publishedAt[v.ID] = v.PublishedAt
	}

	now := r.now().UTC()
	snaps := make([]models.ViewSnapshot, 0, len(result.Stats))
	for _, s := range result.Stats {
		pub, ok := publishedAt[s.VideoID]
		if !ok {
			failed++
			continue
		}
		age := int(now.Sub(pub).Hours() / 24)
		if age < 0 {
			age = 0
		}
		snaps = append(snaps, models.ViewSnapshot{
			VideoID:            s.VideoID,
			SnapshotDate:       today,
			DaysSincePublished: age,
			ViewCount:          s.ViewCount,
		})
	}

	if err := r.store.InsertSnapshotBatch(ctx, snaps); err != nil {
		metrics.RefreshBatches.WithLabelValues("db_error").Inc()
		return 0, len(ids), err
	}

	failed += len(result.Missing)
	metrics.RefreshItemErrors.Add(float64(len(result.Missing)))
	metrics.RefreshBatches.WithLabelValues("ok").Inc()
	return len(snaps), failed, nil
}
