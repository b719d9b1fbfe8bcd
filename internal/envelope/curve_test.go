// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/periscope-analytics/periscope/internal/models"
)

func point(day int, p50 float64, samples int64) models.EnvelopePoint {
	return models.EnvelopePoint{DaysSincePublished: day, P50Views: p50, SampleCount: samples}
}

func TestCurveAtExactDay(t *testing.T) {
	c := NewCurve([]models.EnvelopePoint{
		point(0, 100, 50),
		point(30, 4000, 50),
	}, 30, 365)

	assert.Equal(t, float64(100), c.At(0))
	assert.Equal(t, float64(4000), c.At(30))
}

func TestCurveAtClampsToHorizon(t *testing.T) {
	c := NewCurve([]models.EnvelopePoint{
		point(0, 100, 50),
		point(365, 9000, 50),
	}, 30, 365)

	assert.Equal(t, float64(9000), c.At(400))
	assert.Equal(t, float64(100), c.At(-3))
}

func TestCurveSparseDayFallsBackToNearest(t *testing.T) {
	c := NewCurve([]models.EnvelopePoint{
		point(28, 3800, 50),
		point(30, 4000, 5), // below min_samples, untrusted
		point(35, 4500, 50),
	}, 30, 365)

	// Day 30 itself is too sparse; day 28 (distance 2) beats day 35
	// (distance 5).
	assert.Equal(t, float64(3800), c.At(30))
}

func TestCurveEquidistantTieGoesToYoungerDay(t *testing.T) {
	c := NewCurve([]models.EnvelopePoint{
		point(28, 3800, 50),
		point(32, 4200, 50),
	}, 30, 365)

	assert.Equal(t, float64(3800), c.At(30))
}

func TestCurveNoQualifyingDayIsNeutral(t *testing.T) {
	c := NewCurve([]models.EnvelopePoint{
		point(10, 500, 3),
	}, 30, 365)

	assert.Equal(t, float64(1), c.At(10))
}

func TestGrowthRatio(t *testing.T) {
	c := NewCurve([]models.EnvelopePoint{
		point(7, 1000, 50),
		point(30, 4000, 50),
	}, 30, 365)

	ratio, err := c.GrowthRatio(7, 30)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, ratio, 1e-9)
}
