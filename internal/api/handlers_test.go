// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/periscope-analytics/periscope/internal/config"
	"github.com/periscope-analytics/periscope/internal/database"
	"github.com/periscope-analytics/periscope/internal/models"
	"github.com/periscope-analytics/periscope/internal/refresher"
	"github.com/periscope-analytics/periscope/internal/sampler"
)

type fakeStore struct {
	mu        sync.Mutex
	videos    map[string]models.Video
	activeJob *models.RefreshJob
	latestJob *models.RefreshJob
	envelope  []models.EnvelopePoint
	pingErr   error
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) GetVideosByIDs(_ context.Context, ids []string) ([]models.Video, error) {
	var out []models.Video
	for _, id := range ids {
		if v, ok := f.videos[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeStore) ActiveRefreshJob(context.Context) (*models.RefreshJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activeJob == nil {
		return nil, database.ErrNoActiveJob
	}
	return f.activeJob, nil
}

func (f *fakeStore) LatestRefreshJob(context.Context) (*models.RefreshJob, error) {
	if f.latestJob == nil {
		return nil, database.ErrNotFound
	}
	return f.latestJob, nil
}

func (f *fakeStore) RequestCancel(context.Context) (*models.RefreshJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activeJob == nil {
		return nil, database.ErrNoActiveJob
	}
	f.activeJob.Status = models.JobStatusCancelling
	return f.activeJob, nil
}

func (f *fakeStore) LoadEnvelope(context.Context) ([]models.EnvelopePoint, error) {
	return f.envelope, nil
}

type fakeSampler struct{ result *sampler.Result }

func (f *fakeSampler) Sample(context.Context, models.SampleFilter) (*sampler.Result, error) {
	return f.result, nil
}

type fakeClassifier struct{}

func (fakeClassifier) Classify(_ context.Context, v *models.Video) (models.Classification, error) {
	score := 2.5
	return models.Classification{VideoID: v.ID, ViewCount: v.ViewCount, Score: &score, Tier: "outperforming"}, nil
}

type fakeQuota struct{ status models.QuotaStatus }

func (f fakeQuota) Status(context.Context) (models.QuotaStatus, error) { return f.status, nil }

type fakeRunner struct {
	mu   sync.Mutex
	runs int
}

func (f *fakeRunner) RunOnce(context.Context) (*refresher.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return &refresher.Summary{JobID: "job-1"}, nil
}

type fakeRebuilder struct {
	mu       sync.Mutex
	rebuilds int
	done     chan struct{}
}

func (f *fakeRebuilder) Rebuild(context.Context) error {
	f.mu.Lock()
	f.rebuilds++
	f.mu.Unlock()
	return nil
}

func (f *fakeRebuilder) RecomputeAll(context.Context) (int, error) {
	if f.done != nil {
		close(f.done)
	}
	return 42, nil
}

func newTestServer(t *testing.T, store *fakeStore, deps ...interface{}) http.Handler {
	t.Helper()
	s := &fakeSampler{result: &sampler.Result{Videos: []models.Video{}}}
	runner := &fakeRunner{}
	rebuilder := &fakeRebuilder{}
	for _, d := range deps {
		switch v := d.(type) {
		case *fakeSampler:
			s = v
		case *fakeRunner:
			runner = v
		case *fakeRebuilder:
			rebuilder = v
		}
	}
	h := NewHandler(store, s, fakeClassifier{}, fakeQuota{status: models.QuotaStatus{Date: "2026-04-01", Used: 3, Remaining: 9997, Total: 10000}}, runner, rebuilder)
	return NewRouter(h, &config.ServerConfig{RateLimitReqs: 1000, RateLimitWindow: time.Minute})
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestServer(t, &fakeStore{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthReadyReportsDatabaseOutage(t *testing.T) {
	router := newTestServer(t, &fakeStore{pingErr: assert.AnError})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSampleOutliers(t *testing.T) {
	s := &fakeSampler{result: &sampler.Result{
		Cursor: 0.5,
		Videos: []models.Video{{ID: "a"}, {ID: "b"}},
	}}
	router := newTestServer(t, &fakeStore{}, s)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/outliers/sample?size=2&min_score=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSampleOutliersRejectsBadParams(t *testing.T) {
	router := newTestServer(t, &fakeStore{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/outliers/sample?size=notanumber", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/outliers/sample?size=9999", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeValidationFailed, resp.Error.Code)
}

func TestClassifyVideos(t *testing.T) {
	store := &fakeStore{videos: map[string]models.Video{
		"a": {ID: "a", ViewCount: 100},
	}}
	router := newTestServer(t, store)

	body, _ := json.Marshal(ClassifyRequest{VideoIDs: []string{"a", "missing"}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/videos/classify", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data classifyResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Classifications, 1)
	assert.Equal(t, "a", resp.Data.Classifications[0].VideoID)
	assert.Equal(t, []string{"missing"}, resp.Data.NotFound)
}

func TestClassifyVideosValidatesBody(t *testing.T) {
	router := newTestServer(t, &fakeStore{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/videos/classify", bytes.NewReader([]byte(`{"video_ids":[]}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/videos/classify", bytes.NewReader([]byte(`not json`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuotaStatus(t *testing.T) {
	router := newTestServer(t, &fakeStore{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/quota/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data models.QuotaStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Data.Used)
	assert.Equal(t, 9997, resp.Data.Remaining)
}

func TestStartRefreshConflictsWithActiveJob(t *testing.T) {
	store := &fakeStore{activeJob: &models.RefreshJob{ID: "job-1", Status: models.JobStatusRunning}}
	router := newTestServer(t, store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/refresh", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartRefreshAccepted(t *testing.T) {
	runner := &fakeRunner{}
	router := newTestServer(t, &fakeStore{}, runner)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/refresh", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRefreshStatusFallsBackToLatest(t *testing.T) {
	store := &fakeStore{latestJob: &models.RefreshJob{ID: "old", Status: models.JobStatusCompleted}}
	router := newTestServer(t, store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/refresh", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data models.RefreshJob `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "old", resp.Data.ID)
}

func TestRefreshStatusNotFoundWhenNeverRun(t *testing.T) {
	router := newTestServer(t, &fakeStore{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/refresh", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelRefresh(t *testing.T) {
	store := &fakeStore{activeJob: &models.RefreshJob{ID: "job-1", Status: models.JobStatusRunning}}
	router := newTestServer(t, store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/refresh", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, models.JobStatusCancelling, store.activeJob.Status)

	store.activeJob = nil
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/refresh", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRebuildEnvelopeGuardsOverlap(t *testing.T) {
	rebuilder := &fakeRebuilder{done: make(chan struct{})}
	router := newTestServer(t, &fakeStore{}, rebuilder)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/envelope/rebuild", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-rebuilder.done:
	case <-time.After(2 * time.Second):
		t.Fatal("rebuild never ran")
	}
}

func TestEnvelopeEndpoint(t *testing.T) {
	store := &fakeStore{envelope: []models.EnvelopePoint{
		{DaysSincePublished: 0, P50Views: 120, SampleCount: 900},
		{DaysSincePublished: 30, P50Views: 4400, SampleCount: 700},
	}}
	router := newTestServer(t, store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/envelope", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Points []models.EnvelopePoint `json:"points"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data.Points, 2)
}
