// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package refresher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/periscope-analytics/periscope/internal/config"
	"github.com/periscope-analytics/periscope/internal/database"
	"github.com/periscope-analytics/periscope/internal/models"
	"github.com/periscope-analytics/periscope/internal/quota"
	"github.com/periscope-analytics/periscope/internal/youtube"
)

type memQuotaStore struct{ used map[string]int }

func (m *memQuotaStore) IncrementQuota(_ context.Context, date string, units int) (int, error) {
	m.used[date] += units
	return m.used[date], nil
}

func (m *memQuotaStore) QuotaUsed(_ context.Context, date string) (int, error) {
	return m.used[date], nil
}

type fakeStore struct {
	candidates []string
	videos     map[string]models.Video
	snapshots  []models.ViewSnapshot
	job        *models.RefreshJob
	jobStatus  models.JobStatus
	// cancelAfterBatches flips the job to cancelling after N progress
	// updates, mimicking an API cancel mid-run.
	cancelAfterBatches int
	progressUpdates    int
	active             bool
}

func (f *fakeStore) StaleVideoCandidates(_ context.Context, _ string, _ bool, limit int) ([]string, error) {
	c := f.candidates
	if len(c) > limit {
		c = c[:limit]
	}
	return c, nil
}

func (f *fakeStore) GetVideosByIDs(_ context.Context, ids []string) ([]models.Video, error) {
	var out []models.Video
	for _, id := range ids {
		if v, ok := f.videos[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertSnapshotBatch(_ context.Context, snaps []models.ViewSnapshot) error {
	f.snapshots = append(f.snapshots, snaps...)
	return nil
}

func (f *fakeStore) StartRefreshJob(_ context.Context, total int) (*models.RefreshJob, error) {
	if f.active {
		return nil, database.ErrJobActive
	}
	f.active = true
	f.jobStatus = models.JobStatusPending
	f.job = &models.RefreshJob{ID: "job-1", Status: models.JobStatusPending, TotalVideos: total, StartedAt: time.Now()}
	return f.job, nil
}

func (f *fakeStore) MarkJobRunning(_ context.Context, _ string) error {
	f.jobStatus = models.JobStatusRunning
	return nil
}

func (f *fakeStore) UpdateJobProgress(_ context.Context, _ string, processed, succeeded, failed int) error {
	f.progressUpdates++
	f.job.ProcessedVideos = processed
	f.job.SucceededVideos = succeeded
	f.job.FailedVideos = failed
	if f.cancelAfterBatches > 0 && f.progressUpdates >= f.cancelAfterBatches {
		f.jobStatus = models.JobStatusCancelling
	}
	return nil
}

func (f *fakeStore) FinishJob(_ context.Context, _ string, status models.JobStatus, deferred bool, lastError string) error {
	f.active = false
	f.jobStatus = status
	f.job.Status = status
	f.job.Deferred = deferred
	f.job.LastError = lastError
	return nil
}

func (f *fakeStore) JobStatusByID(_ context.Context, _ string) (models.JobStatus, error) {
	return f.jobStatus, nil
}

type fakeFetcher struct {
	calls   int
	missing map[string]bool
	err     error
}

func (f *fakeFetcher) FetchStats(_ context.Context, ids []string) (*youtube.BatchResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	result := &youtube.BatchResult{}
	for _, id := range ids {
		if f.missing[id] {
			result.Missing = append(result.Missing, id)
			continue
		}
		result.Stats = append(result.Stats, youtube.VideoStats{VideoID: id, ViewCount: 100})
	}
	return result, nil
}

func fixedNow() time.Time {
	return time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)
}

func newTestRefresher(store *fakeStore, fetcher *fakeFetcher, dailyUnits int) *Refresher {
	ledger := quota.New(&memQuotaStore{used: map[string]int{}}, dailyUnits, fixedNow)
	return New(store, fetcher, ledger,
		&config.RefresherConfig{MaxVideosPerRun: 100, ExcludeShorts: true},
		&config.YouTubeConfig{MaxIDsPerCall: 2, UnitsPerCall: 1, MaxDailyUnits: dailyUnits},
		fixedNow)
}

func videoMap(ids ...string) map[string]models.Video {
	m := make(map[string]models.Video, len(ids))
	for _, id := range ids {
		m[id] = models.Video{ID: id, ChannelID: "chan", PublishedAt: fixedNow().AddDate(0, 0, -12)}
	}
	return m
}

func TestRunOnceBatchesAndRecordsSnapshots(t *testing.T) {
	store := &fakeStore{
		candidates: []string{"a", "b", "c"},
		videos:     videoMap("a", "b", "c"),
	}
	fetcher := &fakeFetcher{}
	r := newTestRefresher(store, fetcher, 100)

	summary, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	assert.False(t, summary.Deferred)
	assert.Equal(t, 2, fetcher.calls) // 3 ids at 2 per call
	assert.Len(t, store.snapshots, 3)
	assert.Equal(t, models.JobStatusCompleted, store.jobStatus)

	snap := store.snapshots[0]
	assert.Equal(t, "2026-04-01", snap.SnapshotDate)
	assert.Equal(t, 12, snap.DaysSincePublished)
}

func TestRunOnceDefersWhenQuotaExhausted(t *testing.T) {
	store := &fakeStore{
		candidates: []string{"a", "b", "c", "d"},
		videos:     videoMap("a", "b", "c", "d"),
	}
	fetcher := &fakeFetcher{}
	// Budget for exactly one call; the second batch defers.
	r := newTestRefresher(store, fetcher, 1)

	summary, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Deferred)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, summary.Remaining)
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, models.JobStatusCompleted, store.jobStatus)
	assert.True(t, store.job.Deferred)
}

func TestRunOncePerItemMissesFailOnlyThoseItems(t *testing.T) {
	store := &fakeStore{
		candidates: []string{"a", "gone"},
		videos:     videoMap("a", "gone"),
	}
	fetcher := &fakeFetcher{missing: map[string]bool{"gone": true}}
	r := newTestRefresher(store, fetcher, 100)

	summary, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, store.snapshots, 1)
	assert.Equal(t, models.JobStatusCompleted, store.jobStatus)
}

func TestRunOnceSkipsWhenJobAlreadyActive(t *testing.T) {
	store := &fakeStore{candidates: []string{"a"}, videos: videoMap("a"), active: true}
	r := newTestRefresher(store, &fakeFetcher{}, 100)

	_, err := r.RunOnce(context.Background())
	assert.ErrorIs(t, err, database.ErrJobActive)
}

func TestRunOnceNoCandidatesCompletesImmediately(t *testing.T) {
	store := &fakeStore{}
	fetcher := &fakeFetcher{}
	r := newTestRefresher(store, fetcher, 100)

	summary, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	assert.Zero(t, fetcher.calls)
	assert.Equal(t, models.JobStatusCompleted, store.jobStatus)
}

func TestRunOnceObservesCancellationBetweenBatches(t *testing.T) {
	store := &fakeStore{
		candidates:         []string{"a", "b", "c", "d", "e", "f"},
		videos:             videoMap("a", "b", "c", "d", "e", "f"),
		cancelAfterBatches: 1,
	}
	fetcher := &fakeFetcher{}
	r := newTestRefresher(store, fetcher, 100)

	summary, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	// The in-flight batch finished; later ones never started.
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, models.JobStatusCancelled, store.jobStatus)
}

func TestRunOnceBatchAPIFailureDoesNotAbortRun(t *testing.T) {
	store := &fakeStore{
		candidates: []string{"a", "b"},
		videos:     videoMap("a", "b"),
	}
	fetcher := &fakeFetcher{err: errors.New("upstream down")}
	r := newTestRefresher(store, fetcher, 100)

	summary, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, summary.Failed)
	assert.Zero(t, summary.Succeeded)
	assert.Equal(t, models.JobStatusCompleted, store.jobStatus)
}
