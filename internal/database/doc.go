// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

// Package database provides the PostgreSQL data access layer for
// Periscope: videos, append-only view snapshots, the performance
// envelope, quota usage, refresh job state, and the sampler's
// index-friendly random sampling queries.
//
// Write-path conventions:
//   - All writes are idempotent upserts keyed by natural keys
//     (video_id+date for snapshots, video_id for baseline/score).
//   - Bulk baseline updates are set-based (one statement, many rows).
//   - Batch transactions relax statement_timeout; read-path queries run
//     under a bounded context deadline and must stay sub-second.
package database
