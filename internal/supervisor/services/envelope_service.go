// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package services

import (
	"context"
	"time"

	"github.com/periscope-analytics/periscope/internal/logging"
)

// EnvelopeRebuilder recomputes the envelope and the baselines that
// depend on it.
type EnvelopeRebuilder interface {
	Rebuild(ctx context.Context) error
	RecomputeAll(ctx context.Context) (int, error)
}

// EnvelopeService periodically rebuilds the performance envelope and
// rescores the catalog against it. Scores drift as the envelope
// evolves; the periodic rescore keeps them comparable across videos
// scored at different times.
type EnvelopeService struct {
	rebuilder EnvelopeRebuilder
	interval  time.Duration
}

// NewEnvelopeService creates the interval scheduler.
func NewEnvelopeService(rebuilder EnvelopeRebuilder, interval time.Duration) *EnvelopeService {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &EnvelopeService{rebuilder: rebuilder, interval: interval}
}

// Serve implements suture.Service.
func (s *EnvelopeService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *EnvelopeService) run(ctx context.Context) {
	if err := s.rebuilder.Rebuild(ctx); err != nil {
		logging.Error().Err(err).Str("component", "envelope-service").Msg("Scheduled envelope rebuild failed")
		return
	}
	scored, err := s.rebuilder.RecomputeAll(ctx)
	if err != nil {
		logging.Error().Err(err).Str("component", "envelope-service").Msg("Scheduled baseline rescore failed")
		return
	}
	logging.Info().
		Str("component", "envelope-service").
		Int("videos_scored", scored).
		Msg("Scheduled envelope rebuild and rescore finished")
}

// String identifies the service in suture logs.
func (s *EnvelopeService) String() string {
	return "envelope-scheduler"
}
