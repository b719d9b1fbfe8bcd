// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

// Package metrics defines the Prometheus instrumentation shared across
// the quota ledger, refresher, envelope builder, baseline estimator,
// sampler, database layer, and HTTP API.
package metrics
