// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package envelope

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/periscope-analytics/periscope/internal/config"
	"github.com/periscope-analytics/periscope/internal/logging"
	"github.com/periscope-analytics/periscope/internal/metrics"
	"github.com/periscope-analytics/periscope/internal/models"
)

// Store is the persistence surface the builder needs.
type Store interface {
	RebuildEnvelope(ctx context.Context, horizonDays int) error
	LoadEnvelope(ctx context.Context) ([]models.EnvelopePoint, error)
}

// Builder recomputes the envelope and serves the current curve to
// concurrent readers.
type Builder struct {
	store Store
	cfg   *config.EnvelopeConfig
	curve atomic.Pointer[Curve]
}

// NewBuilder creates a builder. Call Load or Rebuild before Current is
// useful; until then Current returns an empty curve.
func NewBuilder(store Store, cfg *config.EnvelopeConfig) *Builder {
	b := &Builder{store: store, cfg: cfg}
	b.curve.Store(NewCurve(nil, cfg.MinSamples, cfg.HorizonDays))
	return b
}

// Current returns the latest curve. Never nil.
func (b *Builder) Current() *Curve {
	return b.curve.Load()
}

// Load reads the persisted envelope without recomputing it, for fast
// startup on a warm database.
func (b *Builder) Load(ctx context.Context) error {
	points, err := b.store.LoadEnvelope(ctx)
	if err != nil {
		return fmt.Errorf("failed to load envelope: %w", err)
	}
	b.curve.Store(NewCurve(points, b.cfg.MinSamples, b.cfg.HorizonDays))
	metrics.EnvelopePoints.Set(float64(len(points)))
	return nil
}

// Rebuild recomputes the envelope from all snapshots and swaps the new
// curve in. Safe to run while readers consult the old curve.
func (b *Builder) Rebuild(ctx context.Context) error {
	start := time.Now()
	logging.Info().Str("component", "envelope").Msg("Rebuilding performance envelope")

	if err := b.store.RebuildEnvelope(ctx, b.cfg.HorizonDays); err != nil {
		return fmt.Errorf("failed to rebuild envelope: %w", err)
	}
	if err := b.Load(ctx); err != nil {
		return err
	}

	metrics.EnvelopeRebuildDuration.Observe(time.Since(start).Seconds())
	logging.Info().
		Str("component", "envelope").
		Int("points", b.Current().Len()).
		Dur("elapsed", time.Since(start)).
		Msg("Performance envelope rebuilt")
	return nil
}
