// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/periscope-analytics/periscope/internal/models"
)

func TestSampleConditionsDefaults(t *testing.T) {
	conds, args := sampleConditions(models.SampleFilter{}, time.Now())

	assert.Equal(t, []string{"NOT is_institutional", "NOT is_short"}, conds)
	assert.Empty(t, args)
}

func TestSampleConditionsAllFilters(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := models.SampleFilter{
		MinScore:    2.0,
		MinViews:    1000,
		MaxAgeDays:  90,
		TopicDomain: "engineering",
		Category:    "tutorial",
	}

	conds, args := sampleConditions(f, now)

	require.Len(t, conds, 7)
	require.Len(t, args, 5)
	assert.Contains(t, conds, "temporal_performance_score >= $1")
	assert.Contains(t, conds, "view_count >= $2")
	assert.Contains(t, conds, "published_at >= $3")
	assert.Contains(t, conds, "topic_domain = $4")
	assert.Contains(t, conds, "category = $5")
	assert.Equal(t, now.AddDate(0, 0, -90), args[2])
}

func TestSampleConditionsCategoryAllIsNoConstraint(t *testing.T) {
	conds, args := sampleConditions(models.SampleFilter{Category: "all"}, time.Now())

	assert.Len(t, conds, 2)
	assert.Empty(t, args)
}

func TestSampleConditionsParameterNumbering(t *testing.T) {
	// Placeholders must stay dense and ordered when only some filters
	// are set, or the args slice and the SQL drift apart.
	f := models.SampleFilter{MinViews: 500, Category: "news"}
	conds, args := sampleConditions(f, time.Now())

	require.Len(t, args, 2)
	assert.Contains(t, conds, "view_count >= $1")
	assert.Contains(t, conds, "category = $2")
}
