// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

// Package envelope maintains the global performance envelope: the
// median view count across the catalog at each age in days. The
// baseline estimator uses the curve to project historical videos onto a
// common reference age, so "how do views typically grow with age" is
// answered once, globally, instead of per channel.
package envelope

import (
	"fmt"

	"github.com/periscope-analytics/periscope/internal/models"
)

// Curve is an immutable snapshot of the envelope, safe for concurrent
// readers. Rebuilds swap in a whole new Curve rather than mutating.
type Curve struct {
	points     map[int]models.EnvelopePoint
	minSamples int
	horizon    int
}

// NewCurve builds a lookup curve from envelope points. minSamples is
// the trust threshold: days with fewer samples exist in the table but
// are skipped during lookup in favor of a denser neighbor.
func NewCurve(points []models.EnvelopePoint, minSamples, horizonDays int) *Curve {
	byDay := make(map[int]models.EnvelopePoint, len(points))
	for _, p := range points {
		byDay[p.DaysSincePublished] = p
	}
	return &Curve{points: byDay, minSamples: minSamples, horizon: horizonDays}
}

// Len returns how many day points the curve holds.
func (c *Curve) Len() int {
	return len(c.points)
}

// At returns the median view count at the given age. Ages outside the
// horizon clamp to its edges. A day that is missing or too sparse falls
// back to the nearest day with enough samples; equidistant neighbors
// resolve toward the younger day. When no day on the whole curve
// qualifies, At returns 1 so downstream ratios degrade to neutral
// instead of dividing by zero.
func (c *Curve) At(day int) float64 {
	if day < 0 {
		day = 0
	}
	if day > c.horizon {
		day = c.horizon
	}

	if p, ok := c.points[day]; ok && p.SampleCount >= int64(c.minSamples) {
		return p.P50Views
	}

	for dist := 1; dist <= c.horizon; dist++ {
		if p, ok := c.points[day-dist]; ok && day-dist >= 0 && p.SampleCount >= int64(c.minSamples) {
			return p.P50Views
		}
		if p, ok := c.points[day+dist]; ok && day+dist <= c.horizon && p.SampleCount >= int64(c.minSamples) {
			return p.P50Views
		}
	}
	return 1
}

// GrowthRatio returns the typical view multiplier from fromDay to
// toDay, used to project an observed count onto a reference age.
func (c *Curve) GrowthRatio(fromDay, toDay int) (float64, error) {
	from := c.At(fromDay)
	if from <= 0 {
		return 0, fmt.Errorf("envelope value at day %d is non-positive", fromDay)
	}
	return c.At(toDay) / from, nil
}
