// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package baseline

import (
	"context"
	"fmt"

	"github.com/periscope-analytics/periscope/internal/config"
	"github.com/periscope-analytics/periscope/internal/models"
)

// Classifier maps a video's performance score onto the configured tier
// ladder. Tiers are configuration, not code; the ladder is validated at
// startup to be strictly monotonic with a catch-all at zero.
type Classifier struct {
	estimator *Estimator
	tiers     []config.Tier
}

// NewClassifier creates a classifier over pre-sorted tiers.
func NewClassifier(estimator *Estimator, scoring config.ScoringConfig) *Classifier {
	return &Classifier{estimator: estimator, tiers: scoring.SortedTiers()}
}

// TierFor returns the highest tier whose threshold the score meets.
func (c *Classifier) TierFor(score float64) string {
	for _, tier := range c.tiers {
		if score >= tier.MinScore {
			return tier.Name
		}
	}
	// Unreachable with a validated ladder (lowest tier is 0), kept for
	// negative scores from corrupted input.
	return c.tiers[len(c.tiers)-1].Name
}

// Classify computes a fresh baseline, score, and tier for one video.
// Channels without enough history get the insufficient_history flag and
// no tier: a score against the sentinel baseline is a raw view count,
// not a comparable multiplier, so ranking it on the ladder would be
// misleading.
func (c *Classifier) Classify(ctx context.Context, v *models.Video) (models.Classification, error) {
	out := models.Classification{VideoID: v.ID, ViewCount: v.ViewCount}

	baseline, ok, err := c.estimator.Estimate(ctx, v)
	if err != nil {
		return out, fmt.Errorf("failed to estimate baseline for %s: %w", v.ID, err)
	}
	out.Baseline = &baseline

	if !ok {
		out.InsufficientHistory = true
		return out, nil
	}

	// Expected views at the video's current age: the baseline is a
	// reference-day expectation, so scale it along the envelope to
	// where the video is now.
	curve := c.estimator.curves.Current()
	ratio, err := curve.GrowthRatio(c.estimator.cfg.ReferenceDay, v.AgeDays(c.estimator.now()))
	if err != nil {
		return out, fmt.Errorf("failed to scale baseline for %s: %w", v.ID, err)
	}
	expected := baseline * ratio
	out.ExpectedViews = &expected

	score := float64(v.ViewCount) / baseline
	if score > models.ScoreCap {
		score = models.ScoreCap
	}
	out.Score = &score
	out.Tier = c.TierFor(score)
	return out, nil
}
