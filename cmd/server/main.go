// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

// Command server runs the Periscope API server and its background
// jobs: the quota-gated view snapshot refresher and the periodic
// envelope rebuild, all under one supervision tree.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/periscope-analytics/periscope/internal/api"
	"github.com/periscope-analytics/periscope/internal/baseline"
	"github.com/periscope-analytics/periscope/internal/cache"
	"github.com/periscope-analytics/periscope/internal/config"
	"github.com/periscope-analytics/periscope/internal/database"
	"github.com/periscope-analytics/periscope/internal/envelope"
	"github.com/periscope-analytics/periscope/internal/logging"
	"github.com/periscope-analytics/periscope/internal/metrics"
	"github.com/periscope-analytics/periscope/internal/quota"
	"github.com/periscope-analytics/periscope/internal/refresher"
	"github.com/periscope-analytics/periscope/internal/sampler"
	"github.com/periscope-analytics/periscope/internal/supervisor"
	"github.com/periscope-analytics/periscope/internal/supervisor/services"
	"github.com/periscope-analytics/periscope/internal/youtube"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Msg("Starting Periscope")

	db, err := database.New(&cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	sampleCache, err := cache.New(cfg.Sampler.CachePath)
	if err != nil {
		return err
	}
	defer func() { _ = sampleCache.Close() }()

	metrics.QuotaUnitsTotal.Set(float64(cfg.YouTube.MaxDailyUnits))
	ledger := quota.New(db, cfg.YouTube.MaxDailyUnits, nil)
	statsClient := youtube.New(&cfg.YouTube)

	builder := envelope.NewBuilder(db, &cfg.Envelope)
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), cfg.Server.Timeout)
	if err := builder.Load(startupCtx); err != nil {
		cancelStartup()
		return err
	}
	cancelStartup()

	estimator := baseline.NewEstimator(db, builder, &cfg.Baseline, nil)
	classifier := baseline.NewClassifier(estimator, cfg.Scoring)
	refr := refresher.New(db, statsClient, ledger, &cfg.Refresher, &cfg.YouTube, nil)
	smp := sampler.New(db, sampleCache, &cfg.Sampler, nil)

	handler := api.NewHandler(db, smp, classifier, ledger, refr, rebuilder{builder, estimator})
	router := api.NewRouter(handler, &cfg.Server)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddAPIService(services.NewHTTPService(httpServer, cfg.Server.ShutdownTimeout))
	if cfg.Refresher.Enabled {
		tree.AddJobService(services.NewRefresherService(refr, cfg.Refresher.Interval))
	}
	if cfg.Envelope.Enabled {
		tree.AddJobService(services.NewEnvelopeService(rebuilder{builder, estimator}, cfg.Envelope.Interval))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && ctx.Err() != nil {
		// Normal signal-driven shutdown.
		logging.Info().Msg("Periscope stopped")
		return nil
	}
	return err
}

// rebuilder bundles the envelope builder and baseline estimator behind
// the rebuild interface the API and scheduler share.
type rebuilder struct {
	builder   *envelope.Builder
	estimator *baseline.Estimator
}

func (r rebuilder) Rebuild(ctx context.Context) error {
	return r.builder.Rebuild(ctx)
}

func (r rebuilder) RecomputeAll(ctx context.Context) (int, error) {
	return r.estimator.RecomputeAll(ctx)
}
