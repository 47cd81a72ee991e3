package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/trackpulse/trackpulse/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const jobColumns = `batch_id, user_id, kind, status, item_count, items_processed,
	items_succeeded, items_failed, item_ids, created_at, updated_at`

func scanJob(row pgx.Row) (*models.AnalysisJob, error) {
	var j models.AnalysisJob
	err := row.Scan(&j.BatchID, &j.UserID, &j.Kind, &j.Status, &j.ItemCount,
		&j.ItemsProcessed, &j.ItemsSucceeded, &j.ItemsFailed, &j.ItemIDs,
		&j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, batchID string, userID int64, kind string, itemIDs []int64) (*models.AnalysisJob, error) {
	itemCount := len(itemIDs)
	if kind == models.JobKindPlaylist && itemCount == 0 {
		// A playlist job is one logical unit of work with no per-item rows.
		itemCount = 1
	}
	if itemIDs == nil {
		// A nil slice would be encoded as SQL NULL; the column is NOT NULL.
		itemIDs = []int64{}
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO analysis_jobs (batch_id, user_id, kind, status, item_count,
			items_processed, items_succeeded, items_failed, item_ids, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, 0, 0, $6, NOW(), NOW())
		 RETURNING `+jobColumns,
		batchID, userID, kind, models.JobStatusPending, itemCount, itemIDs)

	j, err := scanJob(row)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("create job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, batchID string) (*models.AnalysisJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM analysis_jobs WHERE batch_id = $1`, batchID)
	return scanJob(row)
}

func (s *PostgresStore) GetActiveJobForUser(ctx context.Context, userID int64) (*models.AnalysisJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM analysis_jobs
		 WHERE user_id = $1 AND status IN ($2, $3)
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID, models.JobStatusPending, models.JobStatusInProgress)
	return scanJob(row)
}

func (s *PostgresStore) UpdateProgress(ctx context.Context, batchID string, processed, succeeded, failed int) (*models.AnalysisJob, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin progress update: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		status       string
		itemCount    int
		curProcessed int
	)
	err = tx.QueryRow(ctx,
		`SELECT status, item_count, items_processed FROM analysis_jobs
		 WHERE batch_id = $1 FOR UPDATE`, batchID,
	).Scan(&status, &itemCount, &curProcessed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock job for progress update: %w", err)
	}

	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		return nil, ErrJobTerminal
	}

	// Processed is monotonic and never exceeds item_count.
	if processed < curProcessed {
		processed = curProcessed
	}
	if processed > itemCount {
		processed = itemCount
	}

	newStatus := models.JobStatusPending
	switch {
	case processed >= itemCount:
		newStatus = models.JobStatusCompleted
	case processed > 0:
		newStatus = models.JobStatusInProgress
	}

	row := tx.QueryRow(ctx,
		`UPDATE analysis_jobs
		 SET status = $2, items_processed = $3, items_succeeded = $4,
		     items_failed = $5, updated_at = NOW()
		 WHERE batch_id = $1
		 RETURNING `+jobColumns,
		batchID, newStatus, processed, succeeded, failed)

	j, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("update progress: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit progress update: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) CancelJob(ctx context.Context, batchID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin cancel: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE analysis_jobs SET status = $2, updated_at = NOW()
		 WHERE batch_id = $1 AND status NOT IN ($3, $4)`,
		batchID, models.JobStatusFailed, models.JobStatusCompleted, models.JobStatusFailed)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM analysis_jobs WHERE batch_id = $1)`, batchID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check job existence: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrJobTerminal
	}

	_, err = tx.Exec(ctx,
		`UPDATE item_attempts
		 SET status = $2, error_type = $3, finished_at = NOW(), updated_at = NOW()
		 WHERE job_batch_id = $1 AND status IN ($4, $5)`,
		batchID, models.AttemptStatusFailed, models.ErrorTypeCancelled,
		models.AttemptStatusPending, models.AttemptStatusProcessing)
	if err != nil {
		return fmt.Errorf("cancel attempts: %w", err)
	}

	return tx.Commit(ctx)
}

// --- Attempts ---

func (s *PostgresStore) CreateAttempt(ctx context.Context, a *models.ItemAttempt) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO item_attempts (id, job_batch_id, item_id, status, error_type,
			error_message, started_at, finished_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.JobBatchID, a.ItemID, a.Status, a.ErrorType, a.ErrorMessage,
		a.StartedAt, a.FinishedAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateAttempt(ctx context.Context, a *models.ItemAttempt) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE item_attempts
		 SET status = $2, error_type = $3, error_message = $4, started_at = $5,
		     finished_at = $6, updated_at = NOW()
		 WHERE id = $1`,
		a.ID, a.Status, a.ErrorType, a.ErrorMessage, a.StartedAt, a.FinishedAt)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListAttemptsByJob(ctx context.Context, batchID string) ([]*models.ItemAttempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_batch_id, item_id, status, error_type, error_message,
			started_at, finished_at, created_at, updated_at
		 FROM item_attempts WHERE job_batch_id = $1 ORDER BY item_id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.ItemAttempt
	for rows.Next() {
		var a models.ItemAttempt
		if err := rows.Scan(&a.ID, &a.JobBatchID, &a.ItemID, &a.Status, &a.ErrorType,
			&a.ErrorMessage, &a.StartedAt, &a.FinishedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
