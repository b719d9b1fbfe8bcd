// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package services

import (
	"context"
	"errors"
	"time"

	"github.com/periscope-analytics/periscope/internal/database"
	"github.com/periscope-analytics/periscope/internal/logging"
	"github.com/periscope-analytics/periscope/internal/refresher"
)

// RefreshRunner is the refresher surface the scheduler drives.
type RefreshRunner interface {
	RunOnce(ctx context.Context) (*refresher.Summary, error)
}

// RefresherService runs the snapshot refresher on a fixed interval.
// Another process (or an API-triggered run) holding the job slot is a
// normal skip, never a service failure, so the scheduler does not
// thrash the supervisor's restart budget.
type RefresherService struct {
	runner   RefreshRunner
	interval time.Duration
}

// NewRefresherService creates the interval scheduler.
func NewRefresherService(runner RefreshRunner, interval time.Duration) *RefresherService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RefresherService{runner: runner, interval: interval}
}

// Serve implements suture.Service.
func (s *RefresherService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// One run at startup, then on the interval.
	s.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *RefresherService) run(ctx context.Context) {
	summary, err := s.runner.RunOnce(ctx)
	switch {
	case errors.Is(err, database.ErrJobActive):
		logging.Debug().Str("component", "refresher-service").Msg("Scheduled run skipped, job slot held")
	case err != nil:
		logging.Error().Err(err).Str("component", "refresher-service").Msg("Scheduled refresh run failed")
	case summary.Deferred:
		logging.Info().
			Str("component", "refresher-service").
			Int("remaining", summary.Remaining).
			Msg("Scheduled refresh deferred on quota, remainder runs tomorrow")
	}
}

// String identifies the service in suture logs.
func (s *RefresherService) String() string {
	return "refresher-scheduler"
}
