// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

// Package middleware provides HTTP middleware shared across the API:
// request-ID propagation and Prometheus request instrumentation.
package middleware
