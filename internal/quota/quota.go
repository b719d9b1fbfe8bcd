// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

// Package quota tracks daily consumption of the external API budget.
//
// The ledger itself lives in PostgreSQL as one row per UTC calendar
// day; this package layers the budget policy on top. All arithmetic on
// the counter happens in the database as an atomic upsert-with-add, so
// concurrent refresher processes sharing one budget cannot lose
// updates. The day boundary is UTC regardless of server timezone.
package quota

import (
	"context"
	"errors"
	"time"

	"github.com/periscope-analytics/periscope/internal/metrics"
	"github.com/periscope-analytics/periscope/internal/models"
)

// ErrExhausted is returned when a spend would exceed the daily budget.
var ErrExhausted = errors.New("daily quota exhausted")

// Store is the persistence surface the ledger needs.
type Store interface {
	IncrementQuota(ctx context.Context, date string, units int) (int, error)
	QuotaUsed(ctx context.Context, date string) (int, error)
}

// Ledger enforces the daily unit budget.
type Ledger struct {
	store Store
	max   int
	now   func() time.Time
}

// New creates a ledger over the given store with the given daily
// budget. now is injectable for tests; nil means time.Now.
func New(store Store, maxDailyUnits int, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, max: maxDailyUnits, now: now}
}

// today returns the current UTC calendar day as YYYY-MM-DD.
func (l *Ledger) today() string {
	return l.now().UTC().Format("2006-01-02")
}

// CheckAvailable reports whether units more can be spent today. This is
// advisory: the authoritative check is the post-increment total in
// Spend, since another process may spend between check and act.
func (l *Ledger) CheckAvailable(ctx context.Context, units int) (bool, error) {
	used, err := l.store.QuotaUsed(ctx, l.today())
	if err != nil {
		return false, err
	}
	return used+units <= l.max, nil
}

// Spend records units against today's budget and returns the new
// total. When the increment lands past the budget the units are still
// recorded (the external call already happened) but ErrExhausted is
// returned so the caller stops issuing further calls.
func (l *Ledger) Spend(ctx context.Context, units int) (int, error) {
	date := l.today()
	total, err := l.store.IncrementQuota(ctx, date, units)
	if err != nil {
		return 0, err
	}
	metrics.QuotaUnitsUsed.Set(float64(total))
	if total > l.max {
		metrics.QuotaDenied.Inc()
		return total, ErrExhausted
	}
	return total, nil
}

// Status reports today's consumption.
func (l *Ledger) Status(ctx context.Context) (models.QuotaStatus, error) {
	date := l.today()
	used, err := l.store.QuotaUsed(ctx, date)
	if err != nil {
		return models.QuotaStatus{}, err
	}
	remaining := l.max - used
	if remaining < 0 {
		remaining = 0
	}
	return models.QuotaStatus{
		Date:      date,
		Used:      used,
		Remaining: remaining,
		Total:     l.max,
	}, nil
}
