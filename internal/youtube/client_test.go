// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package youtube

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/periscope-analytics/periscope/internal/config"
)

func testConfig(baseURL string) *config.YouTubeConfig {
	return &config.YouTubeConfig{
		APIKey:        "test-key",
		BaseURL:       baseURL,
		Timeout:       2 * time.Second,
		MaxIDsPerCall: 50,
		UnitsPerCall:  1,
		MaxDailyUnits: 10000,
		RetryAttempts: 2,
	}
}

func TestFetchStatsParsesBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "statistics", r.URL.Query().Get("part"))
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "a,b", r.URL.Query().Get("id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[
			{"id":"a","statistics":{"viewCount":"1234"}},
			{"id":"b","statistics":{"viewCount":"99"}}
		]}`))
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL))
	result, err := client.FetchStats(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, result.Stats, 2)
	assert.Equal(t, int64(1234), result.Stats[0].ViewCount)
	assert.Equal(t, int64(99), result.Stats[1].ViewCount)
	assert.Empty(t, result.Missing)
}

func TestFetchStatsReportsMissingIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"id":"a","statistics":{"viewCount":"10"}}]}`))
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL))
	result, err := client.FetchStats(context.Background(), []string{"a", "deleted", "private"})
	require.NoError(t, err)
	require.Len(t, result.Stats, 1)
	assert.Equal(t, []string{"deleted", "private"}, result.Missing)
}

func TestFetchStatsRejectsOversizedBatch(t *testing.T) {
	client := New(testConfig("http://unused.invalid"))

	ids := make([]string, 51)
	for i := range ids {
		ids[i] = "x"
	}
	_, err := client.FetchStats(context.Background(), ids)
	assert.ErrorIs(t, err, ErrTooManyIDs)
}

func TestFetchStatsRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"id":"a","statistics":{"viewCount":"7"}}]}`))
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL))
	result, err := client.FetchStats(context.Background(), []string{"a"})
	require.NoError(t, err)
	require.Len(t, result.Stats, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchStatsDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL))
	_, err := client.FetchStats(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchStatsEmptyBatchIsNoop(t *testing.T) {
	client := New(testConfig("http://unused.invalid"))

	result, err := client.FetchStats(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Stats)
	assert.Empty(t, result.Missing)
}
