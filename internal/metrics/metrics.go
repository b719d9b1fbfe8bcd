// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - Quota ledger consumption
// - Snapshot refresh runs and batches
// - Envelope rebuilds and baseline recomputes
// - Sampler latency and cache efficiency
// - Database query performance
// - API endpoint latency and throughput

var (
	// Quota Ledger Metrics
	QuotaUnitsUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quota_units_used",
			Help: "External API quota units used for the current UTC day",
		},
	)

	QuotaUnitsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quota_units_total",
			Help: "Configured daily external API quota budget",
		},
	)

	QuotaDenied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quota_denied_total",
			Help: "Total number of batch requests denied by the quota ledger",
		},
	)

	// Refresher Metrics
	RefreshRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "refresh_run_duration_seconds",
			Help:    "Duration of complete snapshot refresh runs",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	RefreshBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_batches_total",
			Help: "Total refresh batches processed by outcome",
		},
		[]string{"outcome"}, // "ok", "api_error", "db_error", "deferred"
	)

	RefreshVideosProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refresh_videos_processed_total",
			Help: "Total videos whose snapshots were refreshed",
		},
	)

	RefreshItemErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refresh_item_errors_total",
			Help: "Total per-video errors returned by the metadata API",
		},
	)

	// Envelope / Baseline Metrics
	EnvelopeRebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "envelope_rebuild_duration_seconds",
			Help:    "Duration of performance envelope rebuilds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	EnvelopePoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "envelope_points",
			Help: "Number of day points in the current performance envelope",
		},
	)

	BaselineRecomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "baseline_recompute_duration_seconds",
			Help:    "Duration of bulk baseline/score recomputes",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
		},
	)

	BaselineVideosScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "baseline_videos_scored_total",
			Help: "Total videos that received a baseline and score",
		},
	)

	BaselineSentinelAssigned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "baseline_sentinel_assigned_total",
			Help: "Total videos assigned the insufficient-history sentinel baseline",
		},
	)

	// Sampler Metrics
	SamplerRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sampler_request_duration_seconds",
			Help:    "Duration of outlier sample requests (read path, must stay sub-second)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	SamplerCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sampler_cache_hits_total",
			Help: "Total sampler cache hits",
		},
	)

	SamplerCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sampler_cache_misses_total",
			Help: "Total sampler cache misses",
		},
	)

	SamplerWraparounds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sampler_wraparounds_total",
			Help: "Total samples that needed the wrap-around second pass",
		},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of PostgreSQL queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_query_errors_total",
			Help: "Total number of PostgreSQL query errors",
		},
		[]string{"operation", "table"},
	)

	// Circuit Breaker Metrics (metadata API)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Circuit breaker request outcomes",
		},
		[]string{"name", "outcome"}, // "success", "failure", "rejected"
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordDBQuery records the duration and outcome of a database query.
func RecordDBQuery(operation, table string, start time.Time, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records an API request's duration and status.
func RecordAPIRequest(method, endpoint string, status int, start time.Time) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
}
