// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/periscope-analytics/periscope/internal/models"
	"github.com/periscope-analytics/periscope/internal/validation"
)

// SampleRequest carries the parsed query parameters of a sample call.
type SampleRequest struct {
	Size        int     `validate:"min=0,max=500"`
	MinScore    float64 `validate:"min=0"`
	MinViews    int64   `validate:"min=0"`
	MaxAgeDays  int     `validate:"min=0,max=3650"`
	TopicDomain string  `validate:"max=128"`
	Category    string  `validate:"max=128"`
}

// Filter converts the request into the sampler's filter.
func (sr *SampleRequest) Filter() models.SampleFilter {
	return models.SampleFilter{
		Size:        sr.Size,
		MinScore:    sr.MinScore,
		MinViews:    sr.MinViews,
		MaxAgeDays:  sr.MaxAgeDays,
		TopicDomain: sr.TopicDomain,
		Category:    sr.Category,
	}
}

// parseSampleRequest reads and validates sample query parameters.
func parseSampleRequest(r *http.Request) (*SampleRequest, error) {
	q := r.URL.Query()
	req := &SampleRequest{
		TopicDomain: q.Get("topic_domain"),
		Category:    q.Get("category"),
	}

	var err error
	if req.Size, err = intParam(q.Get("size"), 0); err != nil {
		return nil, fmt.Errorf("invalid size: %w", err)
	}
	if req.MinScore, err = floatParam(q.Get("min_score"), 0); err != nil {
		return nil, fmt.Errorf("invalid min_score: %w", err)
	}
	if req.MinViews, err = int64Param(q.Get("min_views"), 0); err != nil {
		return nil, fmt.Errorf("invalid min_views: %w", err)
	}
	if req.MaxAgeDays, err = intParam(q.Get("max_age_days"), 0); err != nil {
		return nil, fmt.Errorf("invalid max_age_days: %w", err)
	}

	if verr := validation.ValidateStruct(req); verr != nil {
		return nil, verr
	}
	return req, nil
}

// ClassifyRequest asks for fresh classification of specific videos.
type ClassifyRequest struct {
	VideoIDs []string `json:"video_ids" validate:"required,min=1,max=50,dive,required,max=64"`
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func int64Param(raw string, def int64) (int64, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func floatParam(raw string, def float64) (float64, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.ParseFloat(raw, 64)
}
