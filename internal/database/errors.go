// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package database

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrJobActive is returned when a refresh job is requested while
	// another is pending, running, or cancelling.
	ErrJobActive = errors.New("a refresh job is already active")

	// ErrNoActiveJob is returned when a cancel is requested with no
	// active job.
	ErrNoActiveJob = errors.New("no active refresh job")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
)

// pqUniqueViolation is the PostgreSQL error code for unique_violation.
const pqUniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique constraint failure.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
