// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

// Package models defines the shared data structures for Periscope:
// videos, view snapshots, the performance envelope, quota usage, and
// refresh job state. These types mirror the database schema and are
// used across the database, refresher, baseline, and API packages.
package models
