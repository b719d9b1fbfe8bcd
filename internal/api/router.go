// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/periscope-analytics/periscope/internal/config"
	"github.com/periscope-analytics/periscope/internal/middleware"
)

// NewRouter wires all routes with the global middleware stack.
func NewRouter(h *Handler, cfg *config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	// Health endpoints stay outside the rate limit so orchestrator
	// probes never get throttled.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rateLimit(cfg))
		r.Use(middleware.Prometheus)

		r.Get("/outliers/sample", h.SampleOutliers)
		r.Post("/videos/classify", h.ClassifyVideos)
		r.Get("/quota/status", h.QuotaStatus)
		r.Get("/envelope", h.Envelope)
		r.Post("/envelope/rebuild", h.RebuildEnvelope)

		r.Route("/jobs/refresh", func(r chi.Router) {
			r.Post("/", h.StartRefresh)
			r.Get("/", h.RefreshStatus)
			r.Delete("/", h.CancelRefresh)
		})
	})

	return r
}

func rateLimit(cfg *config.ServerConfig) func(http.Handler) http.Handler {
	reqs := cfg.RateLimitReqs
	if reqs <= 0 {
		reqs = 300
	}
	window := cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	return httprate.LimitByIP(reqs, window)
}
