// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package baseline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/periscope-analytics/periscope/internal/config"
	"github.com/periscope-analytics/periscope/internal/database"
	"github.com/periscope-analytics/periscope/internal/envelope"
	"github.com/periscope-analytics/periscope/internal/models"
)

type fakeStore struct {
	history   map[string][]models.Video
	pages     [][]models.Video
	pageIdx   int
	applied   []database.BaselineUpdate
	refreshed bool
}

func (f *fakeStore) ChannelHistoryBefore(_ context.Context, channelID string, _ time.Time, limit int) ([]models.Video, error) {
	h := f.history[channelID]
	if len(h) > limit {
		h = h[:limit]
	}
	return h, nil
}

func (f *fakeStore) ScoringCandidatesAfter(_ context.Context, _ string, _ int) ([]models.Video, error) {
	if f.pageIdx >= len(f.pages) {
		return nil, nil
	}
	page := f.pages[f.pageIdx]
	f.pageIdx++
	return page, nil
}

func (f *fakeStore) ApplyBaselines(_ context.Context, updates []database.BaselineUpdate) error {
	f.applied = append(f.applied, updates...)
	return nil
}

func (f *fakeStore) RefreshPerformanceView(_ context.Context) error {
	f.refreshed = true
	return nil
}

type fixedCurve struct{ c *envelope.Curve }

func (f fixedCurve) Current() *envelope.Curve { return f.c }

// flatCurve makes every age equally valuable, so projections are
// identity and test arithmetic stays readable.
func flatCurve() CurveProvider {
	points := make([]models.EnvelopePoint, 366)
	for d := range points {
		points[d] = models.EnvelopePoint{DaysSincePublished: d, P50Views: 1000, SampleCount: 100}
	}
	return fixedCurve{envelope.NewCurve(points, 30, 365)}
}

func testCfg() *config.BaselineConfig {
	return &config.BaselineConfig{
		HistoryCount:       10,
		MinHistory:         3,
		ReferenceDay:       30,
		RecomputeBatchSize: 2,
	}
}

func histVideo(id string, ageDays int, views int64, now time.Time) models.Video {
	return models.Video{
		ID:          id,
		ChannelID:   "chan",
		PublishedAt: now.AddDate(0, 0, -ageDays),
		ViewCount:   views,
	}
}

func TestMedian(t *testing.T) {
	assert.Zero(t, Median(nil))
	assert.Equal(t, 5.0, Median([]float64{5}))
	assert.Equal(t, 4.0, Median([]float64{9, 4, 1}))
	assert.Equal(t, 3.5, Median([]float64{1, 2, 5, 9}))

	// Input must not be reordered in place.
	in := []float64{9, 1, 5}
	Median(in)
	assert.Equal(t, []float64{9, 1, 5}, in)
}

func TestEstimateSentinelWhenHistoryTooShort(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{history: map[string][]models.Video{
		"chan": {histVideo("h1", 60, 5000, now), histVideo("h2", 90, 7000, now)},
	}}
	est := NewEstimator(store, flatCurve(), testCfg(), func() time.Time { return now })

	v := histVideo("new", 2, 100, now)
	b, ok, err := est.Estimate(context.Background(), &v)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.SentinelBaseline, b)
}

func TestEstimateMedianOfProjections(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	// Flat curve: projections equal current view counts.
	store := &fakeStore{history: map[string][]models.Video{
		"chan": {
			histVideo("h1", 60, 1000, now),
			histVideo("h2", 90, 3000, now),
			histVideo("h3", 120, 9000, now),
		},
	}}
	est := NewEstimator(store, flatCurve(), testCfg(), func() time.Time { return now })

	v := histVideo("new", 5, 6000, now)
	b, ok, err := est.Estimate(context.Background(), &v)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 3000, b, 1e-9)
}

func TestEstimateProjectsAlongEnvelope(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	// Envelope doubles from day 10 to day 30: a 10-day-old historical
	// video's count is projected up by 2x.
	points := []models.EnvelopePoint{
		{DaysSincePublished: 10, P50Views: 2000, SampleCount: 100},
		{DaysSincePublished: 30, P50Views: 4000, SampleCount: 100},
	}
	curve := fixedCurve{envelope.NewCurve(points, 30, 365)}

	store := &fakeStore{history: map[string][]models.Video{
		"chan": {
			histVideo("h1", 10, 500, now),
			histVideo("h2", 10, 500, now),
			histVideo("h3", 10, 500, now),
		},
	}}
	est := NewEstimator(store, curve, testCfg(), func() time.Time { return now })

	v := histVideo("new", 1, 0, now)
	b, ok, err := est.Estimate(context.Background(), &v)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 1000, b, 1e-9)
}

func TestEstimateProjectsHistoryAtTargetPublishInstant(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	// The envelope doubles between day 30 and day 130. The history
	// videos are 130 days old now but were 30 days old when the target
	// was published, so the projection ratio must be env(30)/env(30)=1,
	// not env(30)/env(130). The baseline is an at-publish quantity and
	// must not drift as wall-clock time advances.
	points := []models.EnvelopePoint{
		{DaysSincePublished: 30, P50Views: 4000, SampleCount: 100},
		{DaysSincePublished: 130, P50Views: 8000, SampleCount: 100},
	}
	curve := fixedCurve{envelope.NewCurve(points, 30, 365)}

	store := &fakeStore{history: map[string][]models.Video{
		"chan": {
			histVideo("h1", 130, 1000, now),
			histVideo("h2", 130, 1000, now),
			histVideo("h3", 130, 1000, now),
		},
	}}
	est := NewEstimator(store, curve, testCfg(), func() time.Time { return now })

	v := histVideo("backdated", 100, 50000, now)
	b, ok, err := est.Estimate(context.Background(), &v)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 1000, b, 1e-9)
}

func TestEstimateZeroHistoryViewsFallsBackToSentinel(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{history: map[string][]models.Video{
		"chan": {
			histVideo("h1", 60, 0, now),
			histVideo("h2", 90, 0, now),
			histVideo("h3", 120, 0, now),
		},
	}}
	est := NewEstimator(store, flatCurve(), testCfg(), func() time.Time { return now })

	v := histVideo("new", 5, 100, now)
	b, ok, err := est.Estimate(context.Background(), &v)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.SentinelBaseline, b)
}

func TestRecomputeAllPagesAndRefreshes(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	history := []models.Video{
		histVideo("h1", 60, 1000, now),
		histVideo("h2", 90, 2000, now),
		histVideo("h3", 120, 3000, now),
	}
	store := &fakeStore{
		history: map[string][]models.Video{"chan": history},
		pages: [][]models.Video{
			{histVideo("a", 40, 100, now), histVideo("b", 41, 200, now)},
			{histVideo("c", 42, 300, now)},
		},
	}
	est := NewEstimator(store, flatCurve(), testCfg(), func() time.Time { return now })

	scored, err := est.RecomputeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, scored)
	require.Len(t, store.applied, 3)
	assert.True(t, store.refreshed)
	for _, u := range store.applied {
		assert.InDelta(t, 2000, u.Baseline, 1e-9)
	}
}
