package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/trackpulse/trackpulse/internal/api/response"
	"github.com/trackpulse/trackpulse/internal/queue"
	"github.com/trackpulse/trackpulse/pkg/models"
)

const (
	defaultDLQLimit = 20
	maxDLQLimit     = 100
)

// DeadLetterQueue defines the DLQ operations the handlers depend on.
type DeadLetterQueue interface {
	ReceiveDLQ(ctx context.Context, max int) ([]queue.DeadMessage, error)
	Reprocess(ctx context.Context, messageID string) error
}

type deadLetter struct {
	MessageID string              `json:"message_id"`
	GroupID   string              `json:"group_id"`
	Body      models.QueueMessage `json:"body"`
	Reason    string              `json:"reason,omitempty"`
	FailedAt  time.Time           `json:"failed_at"`
}

// NewListDLQHandler returns an http.HandlerFunc for GET /api/v1/dlq.
func NewListDLQHandler(dlq DeadLetterQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultDLQLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
			limit = n
		}
		if limit > maxDLQLimit {
			limit = maxDLQLimit
		}

		msgs, err := dlq.ReceiveDLQ(r.Context(), limit)
		if err != nil {
			response.Error(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE",
				"The analysis queue is not reachable", nil)
			return
		}

		out := make([]deadLetter, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, deadLetter{
				MessageID: m.ID,
				GroupID:   m.GroupID,
				Body:      m.Body,
				Reason:    m.Reason,
				FailedAt:  m.FailedAt,
			})
		}

		response.JSON(w, struct {
			Messages []deadLetter `json:"messages"`
			Count    int          `json:"count"`
		}{Messages: out, Count: len(out)})
	}
}

// NewReprocessHandler returns an http.HandlerFunc for
// POST /api/v1/dlq/{messageID}/reprocess.
func NewReprocessHandler(dlq DeadLetterQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID := chi.URLParam(r, "messageID")

		if err := dlq.Reprocess(r.Context(), messageID); err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "MESSAGE_NOT_FOUND",
					"No such message on the dead-letter queue", nil)
				return
			}
			response.Error(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE",
				"The analysis queue is not reachable", nil)
			return
		}

		response.JSON(w, map[string]string{
			"message_id": messageID,
			"status":     "requeued",
		})
	}
}
