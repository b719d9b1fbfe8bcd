// Periscope - Video Outlier Detection and Analytics
// Copyright 2026 Periscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/periscope-analytics/periscope

package api

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/goccy/go-json"

	"github.com/periscope-analytics/periscope/internal/database"
	"github.com/periscope-analytics/periscope/internal/logging"
	"github.com/periscope-analytics/periscope/internal/models"
	"github.com/periscope-analytics/periscope/internal/refresher"
	"github.com/periscope-analytics/periscope/internal/sampler"
	"github.com/periscope-analytics/periscope/internal/validation"
)

// Store is the database surface the handlers read and mutate directly.
type Store interface {
	Ping(ctx context.Context) error
	GetVideosByIDs(ctx context.Context, ids []string) ([]models.Video, error)
	ActiveRefreshJob(ctx context.Context) (*models.RefreshJob, error)
	LatestRefreshJob(ctx context.Context) (*models.RefreshJob, error)
	RequestCancel(ctx context.Context) (*models.RefreshJob, error)
	LoadEnvelope(ctx context.Context) ([]models.EnvelopePoint, error)
}

// Sampler serves outlier samples.
type Sampler interface {
	Sample(ctx context.Context, f models.SampleFilter) (*sampler.Result, error)
}

// Classifier classifies individual videos on demand.
type Classifier interface {
	Classify(ctx context.Context, v *models.Video) (models.Classification, error)
}

// QuotaReporter reports the day's quota consumption.
type QuotaReporter interface {
	Status(ctx context.Context) (models.QuotaStatus, error)
}

// RefreshRunner executes one refresh run; used for API-triggered runs.
type RefreshRunner interface {
	RunOnce(ctx context.Context) (*refresher.Summary, error)
}

// Rebuilder recomputes the envelope and then every baseline.
type Rebuilder interface {
	Rebuild(ctx context.Context) error
	RecomputeAll(ctx context.Context) (int, error)
}

// Handler holds the API's dependencies.
type Handler struct {
	store      Store
	sampler    Sampler
	classifier Classifier
	quota      QuotaReporter
	refresher  RefreshRunner
	rebuilder  Rebuilder

	rebuildActive atomic.Bool
}

// NewHandler creates the API handler.
func NewHandler(store Store, s Sampler, c Classifier, q QuotaReporter, r RefreshRunner, rb Rebuilder) *Handler {
	return &Handler{
		store:      store,
		sampler:    s,
		classifier: c,
		quota:      q,
		refresher:  r,
		rebuilder:  rb,
	}
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "ok"})
}

// HealthReady reports readiness: the database must answer.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if err := h.store.Ping(r.Context()); err != nil {
		logging.Warn().Err(err).Msg("Readiness check failed")
		rw.ServiceUnavailable("database unreachable")
		return
	}
	rw.Success(map[string]string{"status": "ready"})
}

// SampleOutliers serves GET /api/v1/outliers/sample.
func (h *Handler) SampleOutliers(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	req, err := parseSampleRequest(r)
	if err != nil {
		var verr *validation.RequestValidationError
		if errors.As(err, &verr) {
			rw.ValidationError("invalid sample parameters", verr.Details())
			return
		}
		rw.BadRequest(err.Error())
		return
	}

	result, err := h.sampler.Sample(r.Context(), req.Filter())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(result)
}

// classifyResponse is the body of a classify call.
type classifyResponse struct {
	Classifications []models.Classification `json:"classifications"`
	NotFound        []string                `json:"not_found,omitempty"`
}

// ClassifyVideos serves POST /api/v1/videos/classify: fresh baseline,
// score, and tier for up to one API batch of videos.
func (h *Handler) ClassifyVideos(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req ClassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		rw.ValidationError("invalid classify request", verr.Details())
		return
	}

	videos, err := h.store.GetVideosByIDs(r.Context(), req.VideoIDs)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	found := make(map[string]bool, len(videos))

	resp := classifyResponse{Classifications: make([]models.Classification, 0, len(videos))}
	for i := range videos {
		found[videos[i].ID] = true
		c, err := h.classifier.Classify(r.Context(), &videos[i])
		if err != nil {
			rw.DatabaseError(err)
			return
		}
		resp.Classifications = append(resp.Classifications, c)
	}
	for _, id := range req.VideoIDs {
		if !found[id] {
			resp.NotFound = append(resp.NotFound, id)
		}
	}
	rw.Success(resp)
}

// QuotaStatus serves GET /api/v1/quota/status.
func (h *Handler) QuotaStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	status, err := h.quota.Status(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(status)
}

// StartRefresh serves POST /api/v1/jobs/refresh. The run itself is
// asynchronous; its lifecycle is observable through GET and the job
// table enforces single-run exclusivity even against racing processes.
func (h *Handler) StartRefresh(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if job, err := h.store.ActiveRefreshJob(r.Context()); err == nil {
		rw.Conflict("refresh job " + job.ID + " is already active")
		return
	} else if !errors.Is(err, database.ErrNoActiveJob) {
		rw.DatabaseError(err)
		return
	}

	go func() {
		summary, err := h.refresher.RunOnce(context.Background())
		if err != nil {
			if errors.Is(err, database.ErrJobActive) {
				logging.Info().Msg("Refresh run skipped, another job won the slot")
				return
			}
			logging.Error().Err(err).Msg("API-triggered refresh run failed")
			return
		}
		logging.Info().
			Str("job_id", summary.JobID).
			Int("processed", summary.Processed).
			Msg("API-triggered refresh run finished")
	}()

	rw.Accepted(map[string]string{"status": "started"})
}

// RefreshStatus serves GET /api/v1/jobs/refresh: the active job if one
// exists, otherwise the most recent finished one.
func (h *Handler) RefreshStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	job, err := h.store.ActiveRefreshJob(r.Context())
	if errors.Is(err, database.ErrNoActiveJob) {
		job, err = h.store.LatestRefreshJob(r.Context())
		if errors.Is(err, database.ErrNotFound) {
			rw.NotFound("no refresh job has run yet")
			return
		}
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(job)
}

// CancelRefresh serves DELETE /api/v1/jobs/refresh. Cancellation is
// cooperative: the response means the job was flipped to cancelling,
// not that it has stopped; the in-flight batch still completes.
func (h *Handler) CancelRefresh(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	job, err := h.store.RequestCancel(r.Context())
	if errors.Is(err, database.ErrNoActiveJob) {
		rw.NotFound("no active refresh job")
		return
	}
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Accepted(job)
}

// RebuildEnvelope serves POST /api/v1/envelope/rebuild: recompute the
// envelope and then every baseline and score. Long-running, so it is
// asynchronous; an in-process guard rejects overlapping rebuilds.
func (h *Handler) RebuildEnvelope(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if !h.rebuildActive.CompareAndSwap(false, true) {
		rw.Conflict("an envelope rebuild is already running")
		return
	}

	go func() {
		defer h.rebuildActive.Store(false)
		ctx := context.Background()

		if err := h.rebuilder.Rebuild(ctx); err != nil {
			logging.Error().Err(err).Msg("Envelope rebuild failed")
			return
		}
		scored, err := h.rebuilder.RecomputeAll(ctx)
		if err != nil {
			logging.Error().Err(err).Msg("Baseline recompute failed")
			return
		}
		logging.Info().Int("videos_scored", scored).Msg("Envelope rebuild and rescore finished")
	}()

	rw.Accepted(map[string]string{"status": "started"})
}

// Envelope serves GET /api/v1/envelope: the persisted curve points.
func (h *Handler) Envelope(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	points, err := h.store.LoadEnvelope(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if points == nil {
		points = []models.EnvelopePoint{}
	}
	rw.Success(map[string]interface{}{"points": points})
}
