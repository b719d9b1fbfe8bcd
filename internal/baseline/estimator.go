// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

// Package baseline computes per-video channel baselines and temporal
// performance scores.
//
// A video's baseline is the median Day-30 view count of the channel's
// recent history at the moment the video was published: each of up to
// K prior videos is projected onto the common reference age using the
// global performance envelope, and the median of those projections is
// the expectation the new video is scored against. Channels with fewer
// than M qualifying prior videos get a neutral sentinel baseline
// instead of a fabricated one.
package baseline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/periscope-analytics/periscope/internal/config"
	"github.com/periscope-analytics/periscope/internal/database"
	"github.com/periscope-analytics/periscope/internal/envelope"
	"github.com/periscope-analytics/periscope/internal/logging"
	"github.com/periscope-analytics/periscope/internal/metrics"
	"github.com/periscope-analytics/periscope/internal/models"
)

// Store is the persistence surface the estimator needs.
type Store interface {
	ChannelHistoryBefore(ctx context.Context, channelID string, before time.Time, limit int) ([]models.Video, error)
	ScoringCandidatesAfter(ctx context.Context, afterID string, limit int) ([]models.Video, error)
	ApplyBaselines(ctx context.Context, updates []database.BaselineUpdate) error
	RefreshPerformanceView(ctx context.Context) error
}

// CurveProvider yields the current envelope curve.
type CurveProvider interface {
	Current() *envelope.Curve
}

// Estimator computes baselines and runs the bulk recompute.
type Estimator struct {
	store  Store
	curves CurveProvider
	cfg    *config.BaselineConfig
	now    func() time.Time
}

// NewEstimator creates an estimator. now is injectable for tests; nil
// means time.Now.
func NewEstimator(store Store, curves CurveProvider, cfg *config.BaselineConfig, now func() time.Time) *Estimator {
	if now == nil {
		now = time.Now
	}
	return &Estimator{store: store, curves: curves, cfg: cfg, now: now}
}

// Median returns the middle value of vs, averaging the two middle
// values for even lengths. The input is not modified.
func Median(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sorted := make([]float64, len(vs))
	copy(sorted, vs)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// ProjectToReferenceDay estimates what a video's view count would be at
// the reference age, scaling its observed count by the envelope's
// typical growth between its current age and the reference day. Works
// in both directions: younger videos scale up, older ones scale down.
func (e *Estimator) ProjectToReferenceDay(v *models.Video, curve *envelope.Curve, at time.Time) (float64, error) {
	ratio, err := curve.GrowthRatio(v.AgeDays(at), e.cfg.ReferenceDay)
	if err != nil {
		return 0, err
	}
	return float64(v.ViewCount) * ratio, nil
}

// Estimate computes the channel baseline for one video: the median
// reference-day projection of up to HistoryCount prior videos from the
// same channel. The second return reports whether the channel had
// enough history; when false the sentinel baseline is returned.
//
// History is read strictly before the video's publish time, and each
// prior video is projected from its age at that same instant, so the
// baseline reflects only information available at publication and does
// not drift as wall-clock time advances.
func (e *Estimator) Estimate(ctx context.Context, v *models.Video) (float64, bool, error) {
	history, err := e.store.ChannelHistoryBefore(ctx, v.ChannelID, v.PublishedAt, e.cfg.HistoryCount)
	if err != nil {
		return 0, false, fmt.Errorf("failed to load channel history for %s: %w", v.ID, err)
	}
	if len(history) < e.cfg.MinHistory {
		metrics.BaselineSentinelAssigned.Inc()
		return models.SentinelBaseline, false, nil
	}

	curve := e.curves.Current()
	projections := make([]float64, 0, len(history))
	for i := range history {
		p, err := e.ProjectToReferenceDay(&history[i], curve, v.PublishedAt)
		if err != nil {
			return 0, false, fmt.Errorf("failed to project video %s: %w", history[i].ID, err)
		}
		projections = append(projections, p)
	}

	baseline := Median(projections)
	if baseline <= 0 {
		// A channel whose history all projects to zero cannot anchor a
		// ratio; treat it like insufficient history.
		metrics.BaselineSentinelAssigned.Inc()
		return models.SentinelBaseline, false, nil
	}
	if baseline > models.ScoreCap {
		baseline = models.ScoreCap
	}
	return baseline, true, nil
}

// RecomputeAll walks the whole catalog in keyset-paginated batches,
// recomputes every baseline and score, and refreshes the read-path
// materialized view once at the end. Long but resumable: each batch
// commits independently.
func (e *Estimator) RecomputeAll(ctx context.Context) (int, error) {
	start := time.Now()
	batchSize := e.cfg.RecomputeBatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	scored := 0
	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return scored, err
		}

		videos, err := e.store.ScoringCandidatesAfter(ctx, afterID, batchSize)
		if err != nil {
			return scored, fmt.Errorf("failed to page scoring candidates: %w", err)
		}
		if len(videos) == 0 {
			break
		}

		updates := make([]database.BaselineUpdate, 0, len(videos))
		for i := range videos {
			b, _, err := e.Estimate(ctx, &videos[i])
			if err != nil {
				return scored, err
			}
			updates = append(updates, database.BaselineUpdate{VideoID: videos[i].ID, Baseline: b})
		}
		if err := e.store.ApplyBaselines(ctx, updates); err != nil {
			return scored, err
		}

		scored += len(updates)
		metrics.BaselineVideosScored.Add(float64(len(updates)))
		afterID = videos[len(videos)-1].ID
	}

	if err := e.store.RefreshPerformanceView(ctx); err != nil {
		return scored, err
	}

	metrics.BaselineRecomputeDuration.Observe(time.Since(start).Seconds())
	logging.Info().
		Str("component", "baseline").
		Int("videos_scored", scored).
		Dur("elapsed", time.Since(start)).
		Msg("Baseline recompute finished")
	return scored, nil
}
