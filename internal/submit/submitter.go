// Package submit implements the analysis job producer: it batches items onto
// the queue and creates the durable job shell.
package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/trackpulse/trackpulse/internal/queue"
	"github.com/trackpulse/trackpulse/internal/store"
	"github.com/trackpulse/trackpulse/pkg/models"
)

// ErrNoItems signals an EnqueueBatch call with an empty item slice.
var ErrNoItems = errors.New("at least one item is required")

// Item is one track to analyze.
type Item struct {
	ID     int64  `json:"id"`
	Artist string `json:"artist"`
	Title  string `json:"title"`
}

// ItemResult reports the enqueue outcome for a single item.
type ItemResult struct {
	ItemID    int64  `json:"item_id"`
	MessageID string `json:"message_id,omitempty"`
	Enqueued  bool   `json:"enqueued"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SubmitResult is the outcome of one logical batch submission. Every item of
// the call shares BatchID regardless of how many transport batches it took.
type SubmitResult struct {
	BatchID string              `json:"batch_id"`
	Job     *models.AnalysisJob `json:"job"`
	Items   []ItemResult        `json:"items"`
}

// Option customizes a submission.
type Option func(*submitParams)

type submitParams struct {
	batchID string
}

// WithBatchID supplies a caller-chosen batch id instead of a generated one.
func WithBatchID(id string) Option {
	return func(p *submitParams) {
		p.batchID = id
	}
}

// Submitter enqueues analysis work. It holds no mutable state beyond its
// handles and is safe for concurrent callers.
type Submitter struct {
	queue queue.Queue
	store store.Store
	now   func() time.Time
}

// NewSubmitter creates a Submitter.
func NewSubmitter(q queue.Queue, s store.Store) *Submitter {
	return &Submitter{queue: q, store: s, now: time.Now}
}

// EnqueueBatch submits items for analysis under one batch id. Items are split
// into transport batches of at most queue.MaxBatchSize messages, all placed in
// a single FIFO group (the batch id) so relative order is preserved. The call
// succeeds if at least one item enqueues; it returns queue.ErrUnavailable only
// when every item fails. Enqueue failures are not retried here — the caller
// decides whether to resubmit, which the dedup id makes idempotent within the
// dedup window.
func (s *Submitter) EnqueueBatch(ctx context.Context, userID int64, items []Item, opts ...Option) (*SubmitResult, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}

	params := &submitParams{}
	for _, opt := range opts {
		opt(params)
	}
	batchID := params.batchID
	if batchID == "" {
		batchID = uuid.NewString()
	}

	submittedAt := s.now()
	results := make([]ItemResult, 0, len(items))
	enqueued := 0
	var lastErr error

	for start := 0; start < len(items); start += queue.MaxBatchSize {
		end := start + queue.MaxBatchSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		msgs := make([]queue.Message, 0, len(chunk))
		for _, it := range chunk {
			body := models.QueueMessage{
				Kind:      models.MessageKindTrack,
				BatchID:   batchID,
				BatchSize: len(items),
				UserID:    userID,
				ItemID:    it.ID,
				Artist:    it.Artist,
				Title:     it.Title,
			}
			msgs = append(msgs, queue.Message{
				ID:      queue.DedupID(body, submittedAt),
				GroupID: batchID,
				Body:    body,
			})
		}

		sent, err := s.queue.Enqueue(ctx, msgs)
		if err != nil {
			lastErr = err
			slog.Error("enqueue transport batch failed",
				"batch_id", batchID, "items", len(chunk), "error", err)
		}
		for i, it := range chunk {
			r := ItemResult{ItemID: it.ID}
			if i < len(sent) {
				r.MessageID = sent[i].MessageID
				r.Duplicate = sent[i].Duplicate
				r.Enqueued = true
				enqueued++
			} else if err != nil {
				r.Error = err.Error()
			}
			results = append(results, r)
		}
	}

	if enqueued == 0 {
		return nil, fmt.Errorf("%w: %v", queue.ErrUnavailable, lastErr)
	}

	itemIDs := make([]int64, len(items))
	for i, it := range items {
		itemIDs[i] = it.ID
	}
	job, err := s.store.CreateJob(ctx, batchID, userID, models.JobKindTrackBatch, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("create job shell: %w", err)
	}

	slog.Info("batch submitted",
		"batch_id", batchID, "user_id", userID,
		"items", len(items), "enqueued", enqueued)

	return &SubmitResult{BatchID: batchID, Job: job, Items: results}, nil
}

// SubmitPlaylist submits a whole-playlist analysis as a single-message job.
// Playlist jobs emit whole-job status events (null item id) on the same
// channel as per-item jobs.
func (s *Submitter) SubmitPlaylist(ctx context.Context, userID int64, playlistID string, opts ...Option) (*SubmitResult, error) {
	if playlistID == "" {
		return nil, fmt.Errorf("playlist id is required")
	}

	params := &submitParams{}
	for _, opt := range opts {
		opt(params)
	}
	batchID := params.batchID
	if batchID == "" {
		batchID = uuid.NewString()
	}

	body := models.QueueMessage{
		Kind:       models.MessageKindPlaylist,
		BatchID:    batchID,
		BatchSize:  1,
		UserID:     userID,
		PlaylistID: playlistID,
	}
	msg := queue.Message{
		ID:      queue.DedupID(body, s.now()),
		GroupID: batchID,
		Body:    body,
	}

	sent, err := s.queue.Enqueue(ctx, []queue.Message{msg})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", queue.ErrUnavailable, err)
	}

	job, err := s.store.CreateJob(ctx, batchID, userID, models.JobKindPlaylist, nil)
	if err != nil {
		return nil, fmt.Errorf("create job shell: %w", err)
	}

	slog.Info("playlist submitted", "batch_id", batchID, "user_id", userID, "playlist_id", playlistID)

	return &SubmitResult{
		BatchID: batchID,
		Job:     job,
		Items: []ItemResult{{
			MessageID: sent[0].MessageID,
			Enqueued:  true,
			Duplicate: sent[0].Duplicate,
		}},
	}, nil
}
