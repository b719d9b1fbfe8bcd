// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package models

import "time"

// ScoreCap is the maximum storable baseline and performance score.
// The columns are NUMERIC(11,3), so values saturate at 99999999.999 in
// theory; the documented product cap is 99999.999 and both baseline and
// score saturate there instead of erroring on overflow.
const ScoreCap = 99999.999

// SentinelBaseline is assigned when a channel has insufficient history
// to compute a real baseline. It is a neutral multiplier ("assume
// channel average"), not a raw view count.
const SentinelBaseline = 1.0

// Video is one row per content item. Rows are created by ingestion and
// mutated here only by the refresher (view_count) and the baseline
// estimator (baseline, score).
type Video struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channel_id"`
	Title       string    `json:"title,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	ViewCount   int64     `json:"view_count"`
	IsShort     bool      `json:"is_short"`

	// IsInstitutional is denormalized from the channel so the sampler
	// can filter on an indexed boolean instead of a correlated subquery.
	IsInstitutional bool `json:"is_institutional"`

	TopicDomain string `json:"topic_domain,omitempty"`
	Category    string `json:"category,omitempty"`

	// ChannelBaselineAtPublish is the expected Day-30 view count derived
	// from the channel's history at the moment this video was published.
	// Nil until the estimator has run for this video.
	ChannelBaselineAtPublish *float64 `json:"channel_baseline_at_publish,omitempty"`

	// TemporalPerformanceScore is view_count / baseline, clamped to
	// ScoreCap. Nil when the baseline is null or non-positive.
	TemporalPerformanceScore *float64 `json:"temporal_performance_score,omitempty"`

	// RandomSort is a uniform value in [0,1) assigned once at insert and
	// never changed. It is the index key for pseudo-random sampling.
	RandomSort float64 `json:"random_sort"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AgeDays returns the video's age in whole days at the given instant.
func (v *Video) AgeDays(at time.Time) int {
	d := int(at.Sub(v.PublishedAt).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// ViewSnapshot is one append-only time-series row per (video, date).
// Re-running a refresh for the same day upserts rather than duplicates.
type ViewSnapshot struct {
	VideoID            string    `json:"video_id"`
	SnapshotDate       string    `json:"snapshot_date"` // YYYY-MM-DD, UTC
	DaysSincePublished int       `json:"days_since_published"`
	ViewCount          int64     `json:"view_count"`
	CreatedAt          time.Time `json:"created_at"`
}

// EnvelopePoint is one row of the global performance envelope: the
// median observed view count across the catalog at a given age.
type EnvelopePoint struct {
	DaysSincePublished int     `json:"days_since_published"`
	P50Views           float64 `json:"p50_views"`
	SampleCount        int64   `json:"sample_count"`
}

// QuotaStatus reports consumption of the external API budget for one
// UTC calendar day. A day with no row means nothing was used.
type QuotaStatus struct {
	Date      string `json:"date"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
	Total     int    `json:"total"`
}

// JobStatus is the lifecycle state of a refresh job. Cancellation is
// cooperative: the API flips a running job to cancelling and the loop
// observes the transition between batches.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusRunning    JobStatus = "running"
	JobStatusCancelling JobStatus = "cancelling"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Active reports whether the status represents an in-progress job.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusCancelling
}

// RefreshJob is the single "current job" record for a refresher run.
// A restarted process reads it to report progress instead of
// double-counting work, since all snapshot writes are idempotent.
type RefreshJob struct {
	ID              string     `json:"id"`
	Status          JobStatus  `json:"status"`
	TotalVideos     int        `json:"total_videos"`
	ProcessedVideos int        `json:"processed_videos"`
	SucceededVideos int        `json:"succeeded_videos"`
	FailedVideos    int        `json:"failed_videos"`
	Deferred        bool       `json:"deferred"`
	LastError       string     `json:"last_error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// PercentComplete returns job progress in [0,100].
func (j *RefreshJob) PercentComplete() float64 {
	if j.TotalVideos <= 0 {
		return 0
	}
	return 100 * float64(j.ProcessedVideos) / float64(j.TotalVideos)
}

// ETA estimates the remaining duration from observed throughput.
// Returns zero when there is not enough progress to extrapolate.
func (j *RefreshJob) ETA(now time.Time) time.Duration {
	if j.ProcessedVideos <= 0 || j.TotalVideos <= j.ProcessedVideos {
		return 0
	}
	elapsed := now.Sub(j.StartedAt)
	if elapsed <= 0 {
		return 0
	}
	perVideo := elapsed / time.Duration(j.ProcessedVideos)
	return perVideo * time.Duration(j.TotalVideos-j.ProcessedVideos)
}

// SampleFilter holds the sampler's query parameters. Zero values mean
// "no constraint"; Category of "all" is normalized to empty.
type SampleFilter struct {
	MinScore    float64 `json:"min_score"`
	MinViews    int64   `json:"min_views"`
	MaxAgeDays  int     `json:"max_age_days"`
	TopicDomain string  `json:"topic_domain,omitempty"`
	Category    string  `json:"category,omitempty"`
	Size        int     `json:"size"`
}

// Classification is the score-classification output for one video.
type Classification struct {
	VideoID             string   `json:"video_id"`
	ViewCount           int64    `json:"view_count"`
	Baseline            *float64 `json:"baseline,omitempty"`
	ExpectedViews       *float64 `json:"expected_views,omitempty"`
	Score               *float64 `json:"score,omitempty"`
	Tier                string   `json:"tier,omitempty"`
	InsufficientHistory bool     `json:"insufficient_history"`
}
