package store

import (
	"context"
	"errors"

	"github.com/trackpulse/trackpulse/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrJobTerminal signals a progress write against a completed, failed or
// cancelled job. Terminal statuses are never downgraded, so a worker racing a
// cancellation cannot resurrect the job.
var ErrJobTerminal = errors.New("job is in a terminal state")

// Store is the durable job/attempt bookkeeping interface. Status is always
// derived from progress counters inside the store, never supplied by callers.
type Store interface {
	Ping(ctx context.Context) error

	// CreateJob persists a job shell with status pending and
	// item_count = len(itemIDs).
	CreateJob(ctx context.Context, batchID string, userID int64, kind string, itemIDs []int64) (*models.AnalysisJob, error)

	GetJob(ctx context.Context, batchID string) (*models.AnalysisJob, error)

	// GetActiveJobForUser returns the most recent pending/in_progress job,
	// or ErrNotFound.
	GetActiveJobForUser(ctx context.Context, userID int64) (*models.AnalysisJob, error)

	// UpdateProgress records absolute counters and derives the job status:
	// in_progress while 0 < processed < item_count, completed once
	// processed >= item_count, failed only when no further processing is
	// possible. Processed is monotonically non-decreasing; writes against
	// terminal jobs return ErrJobTerminal.
	UpdateProgress(ctx context.Context, batchID string, processed, succeeded, failed int) (*models.AnalysisJob, error)

	// CancelJob marks the job failed and every pending/processing attempt
	// failed with error type "cancelled", atomically.
	CancelJob(ctx context.Context, batchID string) error

	CreateAttempt(ctx context.Context, attempt *models.ItemAttempt) error
	UpdateAttempt(ctx context.Context, attempt *models.ItemAttempt) error
	ListAttemptsByJob(ctx context.Context, batchID string) ([]*models.ItemAttempt, error)
}
