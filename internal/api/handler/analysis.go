package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/trackpulse/trackpulse/internal/api/response"
	"github.com/trackpulse/trackpulse/internal/cache"
	"github.com/trackpulse/trackpulse/internal/queue"
	"github.com/trackpulse/trackpulse/internal/store"
	"github.com/trackpulse/trackpulse/internal/submit"
	"github.com/trackpulse/trackpulse/pkg/models"
)

// maxItemsPerRequest caps a single submission request. The submitter splits
// anything above the transport batch size internally, so this is a sanity
// bound, not a queue constraint.
const maxItemsPerRequest = 500

// Submitter defines the interface the submission handlers depend on.
type Submitter interface {
	EnqueueBatch(ctx context.Context, userID int64, items []submit.Item, opts ...submit.Option) (*submit.SubmitResult, error)
	SubmitPlaylist(ctx context.Context, userID int64, playlistID string, opts ...submit.Option) (*submit.SubmitResult, error)
}

// JobReader defines the read side the job handlers depend on.
type JobReader interface {
	GetJob(ctx context.Context, batchID string) (*models.AnalysisJob, error)
	GetActiveJobForUser(ctx context.Context, userID int64) (*models.AnalysisJob, error)
	ListAttemptsByJob(ctx context.Context, batchID string) ([]*models.ItemAttempt, error)
}

// JobCanceller defines the cancel operation the cancel handler depends on.
type JobCanceller interface {
	GetJob(ctx context.Context, batchID string) (*models.AnalysisJob, error)
	CancelJob(ctx context.Context, batchID string) error
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/analysis.
func NewSubmitHandler(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID int64         `json:"user_id"`
			Items  []submit.Item `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.UserID <= 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id is required", nil)
			return
		}
		if len(req.Items) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "at least one item is required", nil)
			return
		}
		if len(req.Items) > maxItemsPerRequest {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"too many items in one request", map[string]int{"max": maxItemsPerRequest})
			return
		}
		for _, it := range req.Items {
			if it.ID <= 0 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "every item needs a positive id", nil)
				return
			}
		}

		result, err := svc.EnqueueBatch(r.Context(), req.UserID, req.Items)
		if err != nil {
			switch {
			case errors.Is(err, submit.ErrNoItems):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "at least one item is required", nil)
			case errors.Is(err, queue.ErrUnavailable):
				response.Error(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE",
					"The analysis queue is not accepting messages", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.Accepted(w, result)
	}
}

// NewSubmitPlaylistHandler returns an http.HandlerFunc for
// POST /api/v1/analysis/playlist.
func NewSubmitPlaylistHandler(svc Submitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID     int64  `json:"user_id"`
			PlaylistID string `json:"playlist_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.UserID <= 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id is required", nil)
			return
		}
		if req.PlaylistID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "playlist_id is required", nil)
			return
		}

		result, err := svc.SubmitPlaylist(r.Context(), req.UserID, req.PlaylistID)
		if err != nil {
			if errors.Is(err, queue.ErrUnavailable) {
				response.Error(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE",
					"The analysis queue is not accepting messages", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.Accepted(w, result)
	}
}

// NewActiveJobHandler returns an http.HandlerFunc for GET /api/v1/analysis/active.
// Job state lives in the database; the cache only absorbs poll bursts with a
// short TTL, so a stale read self-corrects within seconds.
func NewActiveJobHandler(jobs JobReader, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
		if err != nil || userID <= 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id query parameter is required", nil)
			return
		}

		key := cache.ActiveJobKey(userID)
		if raw, ok, err := c.Get(r.Context(), key); err == nil && ok {
			var job models.AnalysisJob
			if json.Unmarshal(raw, &job) == nil {
				response.JSON(w, &job)
				return
			}
		}

		job, err := jobs.GetActiveJobForUser(r.Context(), userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NO_ACTIVE_JOB", "No active analysis job for user", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		if raw, err := json.Marshal(job); err == nil {
			// Best effort; a cache miss next time just hits the database.
			_ = c.Set(r.Context(), key, raw, cache.JobTTL)
		}

		response.JSON(w, job)
	}
}

// jobDetail is the GET /api/v1/analysis/{batchID} payload, cached as a unit.
type jobDetail struct {
	Job      *models.AnalysisJob   `json:"job"`
	Attempts []*models.ItemAttempt `json:"attempts"`
	Progress int                   `json:"progress"`
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/analysis/{batchID}.
// Job detail is read-through cached; terminal jobs are immutable and get a
// longer TTL than ones still moving.
func NewGetJobHandler(jobs JobReader, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID := chi.URLParam(r, "batchID")

		key := cache.JobKey(batchID)
		if raw, ok, err := c.Get(r.Context(), key); err == nil && ok {
			var detail jobDetail
			if json.Unmarshal(raw, &detail) == nil {
				response.JSON(w, &detail)
				return
			}
		}

		job, err := jobs.GetJob(r.Context(), batchID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Analysis job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		attempts, err := jobs.ListAttemptsByJob(r.Context(), batchID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		detail := jobDetail{Job: job, Attempts: attempts, Progress: job.Progress()}

		ttl := cache.JobTTL
		if job.Terminal() {
			ttl = cache.TerminalJobTTL
		}
		if raw, err := json.Marshal(&detail); err == nil {
			_ = c.Set(r.Context(), key, raw, ttl)
		}

		response.JSON(w, &detail)
	}
}

// NewCancelJobHandler returns an http.HandlerFunc for
// POST /api/v1/analysis/{batchID}/cancel. Cancelling drops the user's cached
// active-job view and the cached job detail so polls see the terminal state
// immediately.
func NewCancelJobHandler(jobs JobCanceller, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID := chi.URLParam(r, "batchID")

		if err := jobs.CancelJob(r.Context(), batchID); err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Analysis job not found", nil)
			case errors.Is(err, store.ErrJobTerminal):
				response.Error(w, http.StatusConflict, "JOB_TERMINAL",
					"Job already reached a terminal state", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		job, err := jobs.GetJob(r.Context(), batchID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		_ = c.Delete(r.Context(), cache.ActiveJobKey(job.UserID))
		_ = c.Delete(r.Context(), cache.JobKey(batchID))

		response.JSON(w, job)
	}
}
