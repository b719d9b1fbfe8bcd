// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

// Package youtube is the client for the external video statistics API.
//
// One call fetches statistics for up to 50 video ids and costs a fixed
// number of quota units regardless of how many ids are batched in, so
// callers should always fill batches. Transient failures retry with
// exponential backoff; a persistent outage trips the circuit breaker so
// refresh runs fail fast instead of burning their run window on
// timeouts.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/periscope-analytics/periscope/internal/config"
	"github.com/periscope-analytics/periscope/internal/logging"
	"github.com/periscope-analytics/periscope/internal/metrics"
)

// ErrTooManyIDs is returned when a batch exceeds the per-call limit.
var ErrTooManyIDs = errors.New("too many video ids for one call")

// errRetryable marks HTTP failures worth retrying (5xx, 429, transport).
var errRetryable = errors.New("retryable api error")

// VideoStats is one video's statistics from the API.
type VideoStats struct {
	VideoID   string
	ViewCount int64
}

// BatchResult separates per-item outcomes: ids missing from the
// response failed individually (deleted or private videos) without
// failing the batch.
type BatchResult struct {
	Stats   []VideoStats
	Missing []string
}

// Client calls the video statistics API.
type Client struct {
	cfg     *config.YouTubeConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*BatchResult]
}

// New creates a stats client from configuration.
func New(cfg *config.YouTubeConfig) *Client {
	settings := gobreaker.Settings{
		Name:    "youtube-stats",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("component", "youtube").
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker[*BatchResult](settings),
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// FetchStats fetches view counts for up to MaxIDsPerCall video ids in a
// single API call. The result distinguishes per-item misses from batch
// failure.
func (c *Client) FetchStats(ctx context.Context, ids []string) (*BatchResult, error) {
	if len(ids) == 0 {
		return &BatchResult{}, nil
	}
	if len(ids) > c.cfg.MaxIDsPerCall {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyIDs, len(ids), c.cfg.MaxIDsPerCall)
	}

	result, err := c.breaker.Execute(func() (*BatchResult, error) {
		return c.fetchWithRetry(ctx, ids)
	})
	if err != nil {
		metrics.CircuitBreakerRequests.WithLabelValues("youtube-stats", requestOutcome(err)).Inc()
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues("youtube-stats", "success").Inc()
	return result, nil
}

func requestOutcome(err error) string {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "rejected"
	}
	return "failure"
}

// fetchWithRetry retries transient failures with exponential backoff.
// Non-retryable failures (4xx other than 429) surface immediately.
func (c *Client) fetchWithRetry(ctx context.Context, ids []string) (*BatchResult, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.RetryAttempts)),
		ctx)

	var result *BatchResult
	operation := func() error {
		var err error
		result, err = c.fetchOnce(ctx, ids)
		if err != nil && !errors.Is(err, errRetryable) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return result, nil
}

// statsResponse mirrors the subset of the API response we consume.
type statsResponse struct {
	Items []struct {
		ID         string `json:"id"`
		Statistics struct {
			ViewCount string `json:"viewCount"`
		} `json:"statistics"`
	} `json:"items"`
}

func (c *Client) fetchOnce(ctx context.Context, ids []string) (*BatchResult, error) {
	endpoint := fmt.Sprintf("%s/videos?%s", strings.TrimRight(c.cfg.BaseURL, "/"), url.Values{
		"part": {"statistics"},
		"id":   {strings.Join(ids, ",")},
		"key":  {c.cfg.APIKey},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build stats request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errRetryable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", errRetryable, resp.StatusCode, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("stats api returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode stats response: %w", err)
	}

	byID := make(map[string]int64, len(parsed.Items))
	for _, item := range parsed.Items {
		views, err := strconv.ParseInt(item.Statistics.ViewCount, 10, 64)
		if err != nil {
			logging.Warn().
				Str("component", "youtube").
				Str("video_id", item.ID).
				Str("view_count", item.Statistics.ViewCount).
				Msg("Unparseable view count in stats response")
			continue
		}
		byID[item.ID] = views
	}

	result := &BatchResult{}
	for _, id := range ids {
		if views, ok := byID[id]; ok {
			result.Stats = append(result.Stats, VideoStats{VideoID: id, ViewCount: views})
		} else {
			result.Missing = append(result.Missing, id)
		}
	}
	return result, nil
}
