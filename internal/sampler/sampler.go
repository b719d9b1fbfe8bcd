// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

// Package sampler serves pseudo-random outlier samples off the indexed
// read path.
//
// Every video carries an immutable random_sort value in [0,1). A
// sample is a range scan starting at a time-derived cursor over that
// index: cheap, index-friendly, and different from minute to minute,
// with no ORDER BY random() table scan anywhere. Requests inside the
// same rotation window with the same filter hit the cache instead of
// PostgreSQL.
package sampler

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"

	"github.com/periscope-analytics/periscope/internal/cache"
	"github.com/periscope-analytics/periscope/internal/config"
	"github.com/periscope-analytics/periscope/internal/logging"
	"github.com/periscope-analytics/periscope/internal/metrics"
	"github.com/periscope-analytics/periscope/internal/models"
)

// Clock abstracts time for cursor derivation, injectable in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// Store is the read surface the sampler queries. lo/hi bound the
// random_sort range; hi of zero means unbounded above.
type Store interface {
	SampleFrom(ctx context.Context, f models.SampleFilter, now time.Time, lo, hi float64, limit int) ([]models.Video, error)
}

// Result is one served sample with its provenance.
type Result struct {
	Cursor        float64        `json:"cursor"`
	WrappedAround bool           `json:"wrapped_around"`
	FromCache     bool           `json:"from_cache"`
	Videos        []models.Video `json:"videos"`
}

// Sampler orchestrates cursor derivation, the two-pass range scan, and
// the response cache.
type Sampler struct {
	store Store
	cache *cache.Cache
	cfg   *config.SamplerConfig
	clock Clock
}

// New creates a sampler. cache may be nil to disable caching.
func New(store Store, c *cache.Cache, cfg *config.SamplerConfig, clock Clock) *Sampler {
	if clock == nil {
		clock = SystemClock()
	}
	return &Sampler{store: store, cache: c, cfg: cfg, clock: clock}
}

// cursorBucket returns which rotation window the instant falls in.
func (s *Sampler) cursorBucket(now time.Time) int64 {
	return (now.UTC().Unix() / 60) % int64(s.cfg.RotationMinutes)
}

// Cursor derives the time-based starting point in [0,1): the epoch
// minute modulo the rotation period, normalized. Consecutive minutes
// start the scan at different offsets, so callers see fresh slices of
// the catalog without any per-request randomness to cache-bust.
func (s *Sampler) Cursor(now time.Time) float64 {
	return float64(s.cursorBucket(now)) / float64(s.cfg.RotationMinutes)
}

// normalizeSize clamps the requested sample size into configured bounds.
func (s *Sampler) normalizeSize(size int) int {
	if size <= 0 {
		return s.cfg.DefaultSampleSize
	}
	if size > s.cfg.MaxSampleSize {
		return s.cfg.MaxSampleSize
	}
	return size
}

// cacheKey hashes the filter plus the rotation bucket. Two requests
// with the same filter in the same window share one database read.
func (s *Sampler) cacheKey(f models.SampleFilter, bucket int64, size int) []byte {
	h := xxhash.New()
	_, _ = fmt.Fprintf(h, "%g|%d|%d|%s|%s|%d|%d",
		f.MinScore, f.MinViews, f.MaxAgeDays, f.TopicDomain, f.Category, size, bucket)
	sum := h.Sum64()
	key := make([]byte, 8)
	for i := 0; i < 8; i++ {
		key[i] = byte(sum >> (8 * i))
	}
	return key
}

// Sample serves one pseudo-random sample for the filter. The first
// pass scans random_sort ascending from the cursor; if the catalog
// tail yields too few rows the second pass wraps around from zero up
// to the cursor, so a sample near cursor 0.99 is as full as one at
// 0.10. Duplicates are impossible: the two ranges are disjoint.
func (s *Sampler) Sample(ctx context.Context, f models.SampleFilter) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.SamplerRequestDuration.Observe(time.Since(start).Seconds())
	}()

	now := s.clock.Now()
	size := s.normalizeSize(f.Size)
	cursor := s.Cursor(now)
	key := s.cacheKey(f, s.cursorBucket(now), size)

	if s.cache != nil {
		if cached, ok, err := s.cache.Get(key); err == nil && ok {
			var result Result
			if err := json.Unmarshal(cached, &result); err == nil {
				metrics.SamplerCacheHits.Inc()
				result.FromCache = true
				return &result, nil
			}
		}
		metrics.SamplerCacheMisses.Inc()
	}

	videos, err := s.store.SampleFrom(ctx, f, now, cursor, 0, size)
	if err != nil {
		return nil, fmt.Errorf("sample first pass failed: %w", err)
	}

	result := &Result{Cursor: cursor, Videos: videos}
	if len(videos) < size && cursor > 0 {
		more, err := s.store.SampleFrom(ctx, f, now, 0, cursor, size-len(videos))
		if err != nil {
			return nil, fmt.Errorf("sample wrap-around pass failed: %w", err)
		}
		result.Videos = append(result.Videos, more...)
		result.WrappedAround = true
		metrics.SamplerWraparounds.Inc()
	}
	if result.Videos == nil {
		result.Videos = []models.Video{}
	}

	if s.cache != nil {
		if encoded, err := json.Marshal(result); err == nil {
			if err := s.cache.Set(key, encoded, s.cacheTTL()); err != nil {
				logging.Warn().Err(err).Str("component", "sampler").Msg("Failed to cache sample")
			}
		}
	}
	return result, nil
}

// cacheTTL bounds entry lifetime to one rotation window: a cached
// sample must never outlive the cursor that produced it.
func (s *Sampler) cacheTTL() time.Duration {
	ttl := s.cfg.CacheTTL
	if ttl <= 0 || ttl > time.Minute {
		ttl = time.Minute
	}
	return ttl
}
