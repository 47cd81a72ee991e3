package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/trackpulse/trackpulse/internal/store"
	"github.com/trackpulse/trackpulse/pkg/models"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("trackpulse_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newBatchJob(t *testing.T, s store.Store, itemIDs []int64) *models.AnalysisJob {
	t.Helper()
	job, err := s.CreateJob(context.Background(), uuid.NewString(), 7, models.JobKindTrackBatch, itemIDs)
	require.NoError(t, err)
	return job
}

// --- Job creation ---

func TestCreateJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	job := newBatchJob(t, s, []int64{1, 2, 3})
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 3, job.ItemCount)
	assert.Equal(t, 0, job.ItemsProcessed)
	assert.Equal(t, []int64{1, 2, 3}, job.ItemIDs)
	assert.False(t, job.CreatedAt.IsZero())
}

func TestCreateJob_DuplicateBatchID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	batchID := uuid.NewString()
	_, err := s.CreateJob(context.Background(), batchID, 7, models.JobKindTrackBatch, []int64{1})
	require.NoError(t, err)

	_, err = s.CreateJob(context.Background(), batchID, 7, models.JobKindTrackBatch, []int64{2})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestCreateJob_PlaylistCountsAsOneItem(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	job, err := s.CreateJob(context.Background(), uuid.NewString(), 7, models.JobKindPlaylist, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, job.ItemCount)
	assert.Empty(t, job.ItemIDs)
}

func TestGetJob_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	_, err := s.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Progress and derived status ---

func TestUpdateProgress_DerivesStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := newBatchJob(t, s, []int64{1, 2, 3})

	j, err := s.UpdateProgress(ctx, job.BatchID, 1, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusInProgress, j.Status)

	j, err = s.UpdateProgress(ctx, job.BatchID, 2, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusInProgress, j.Status)

	// Completed exactly when every item has been processed.
	j, err = s.UpdateProgress(ctx, job.BatchID, 3, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, j.Status)
	assert.Equal(t, 3, j.ItemsProcessed)
	assert.Equal(t, 2, j.ItemsSucceeded)
	assert.Equal(t, 1, j.ItemsFailed)
}

func TestUpdateProgress_Monotonic(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := newBatchJob(t, s, []int64{1, 2, 3})

	_, err := s.UpdateProgress(ctx, job.BatchID, 2, 2, 0)
	require.NoError(t, err)

	// A stale update cannot move the counter backwards.
	j, err := s.UpdateProgress(ctx, job.BatchID, 1, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, j.ItemsProcessed)
	assert.Equal(t, models.JobStatusInProgress, j.Status)
}

func TestUpdateProgress_ClampedToItemCount(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	job := newBatchJob(t, s, []int64{1, 2})

	j, err := s.UpdateProgress(context.Background(), job.BatchID, 99, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, j.ItemsProcessed)
	assert.Equal(t, models.JobStatusCompleted, j.Status)
}

func TestUpdateProgress_TerminalJobRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := newBatchJob(t, s, []int64{1})
	_, err := s.UpdateProgress(ctx, job.BatchID, 1, 1, 0)
	require.NoError(t, err)

	_, err = s.UpdateProgress(ctx, job.BatchID, 1, 1, 0)
	assert.ErrorIs(t, err, store.ErrJobTerminal)
}

func TestUpdateProgress_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	_, err := s.UpdateProgress(context.Background(), "missing", 1, 1, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Active job ---

func TestGetActiveJobForUser(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	_, err := s.GetActiveJobForUser(ctx, 7)
	assert.ErrorIs(t, err, store.ErrNotFound)

	first := newBatchJob(t, s, []int64{1})
	second := newBatchJob(t, s, []int64{2})

	active, err := s.GetActiveJobForUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, second.BatchID, active.BatchID)

	// Completing the newer job surfaces the older pending one again.
	_, err = s.UpdateProgress(ctx, second.BatchID, 1, 1, 0)
	require.NoError(t, err)

	active, err = s.GetActiveJobForUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, first.BatchID, active.BatchID)
}

// --- Cancel ---

func TestCancelJob_MarksJobAndAttempts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := newBatchJob(t, s, []int64{1, 2})
	for _, itemID := range job.ItemIDs {
		require.NoError(t, s.CreateAttempt(ctx, &models.ItemAttempt{
			ID:         uuid.New(),
			JobBatchID: job.BatchID,
			ItemID:     itemID,
			Status:     models.AttemptStatusPending,
		}))
	}

	require.NoError(t, s.CancelJob(ctx, job.BatchID))

	j, err := s.GetJob(ctx, job.BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, j.Status)

	attempts, err := s.ListAttemptsByJob(ctx, job.BatchID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	for _, a := range attempts {
		assert.Equal(t, models.AttemptStatusFailed, a.Status)
		require.NotNil(t, a.ErrorType)
		assert.Equal(t, models.ErrorTypeCancelled, *a.ErrorType)
		assert.NotNil(t, a.FinishedAt)
	}
}

func TestCancelJob_TerminalJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := newBatchJob(t, s, []int64{1})
	_, err := s.UpdateProgress(ctx, job.BatchID, 1, 1, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, s.CancelJob(ctx, job.BatchID), store.ErrJobTerminal)
}

func TestCancelJob_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	assert.ErrorIs(t, s.CancelJob(context.Background(), "missing"), store.ErrNotFound)
}

func TestCancelJob_FinishedAttemptsUntouched(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := newBatchJob(t, s, []int64{1, 2})
	require.NoError(t, s.CreateAttempt(ctx, &models.ItemAttempt{
		ID: uuid.New(), JobBatchID: job.BatchID, ItemID: 1,
		Status: models.AttemptStatusSucceeded,
	}))
	require.NoError(t, s.CreateAttempt(ctx, &models.ItemAttempt{
		ID: uuid.New(), JobBatchID: job.BatchID, ItemID: 2,
		Status: models.AttemptStatusProcessing,
	}))

	require.NoError(t, s.CancelJob(ctx, job.BatchID))

	attempts, err := s.ListAttemptsByJob(ctx, job.BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStatusSucceeded, attempts[0].Status)
	assert.Nil(t, attempts[0].ErrorType)
	assert.Equal(t, models.AttemptStatusFailed, attempts[1].Status)
}

// --- Attempts ---

func TestAttempts_CreateUpdateList(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := newBatchJob(t, s, []int64{10, 20})

	a := &models.ItemAttempt{
		ID:         uuid.New(),
		JobBatchID: job.BatchID,
		ItemID:     10,
		Status:     models.AttemptStatusProcessing,
	}
	require.NoError(t, s.CreateAttempt(ctx, a))

	// Second attempt for the same item is rejected.
	dup := &models.ItemAttempt{
		ID: uuid.New(), JobBatchID: job.BatchID, ItemID: 10,
		Status: models.AttemptStatusPending,
	}
	assert.ErrorIs(t, s.CreateAttempt(ctx, dup), store.ErrDuplicateKey)

	errType := "timeout"
	errMsg := "analysis exceeded deadline"
	now := time.Now().UTC()
	a.Status = models.AttemptStatusFailed
	a.ErrorType = &errType
	a.ErrorMessage = &errMsg
	a.FinishedAt = &now
	require.NoError(t, s.UpdateAttempt(ctx, a))

	attempts, err := s.ListAttemptsByJob(ctx, job.BatchID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.AttemptStatusFailed, attempts[0].Status)
	require.NotNil(t, attempts[0].ErrorMessage)
	assert.Equal(t, errMsg, *attempts[0].ErrorMessage)
}

func TestUpdateAttempt_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	err := s.UpdateAttempt(context.Background(), &models.ItemAttempt{ID: uuid.New()})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- End-to-end progress scenario ---

func TestThreeTrackLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := newBatchJob(t, s, []int64{101, 102, 103})

	// Workers report progress one item at a time.
	for i := 1; i <= 3; i++ {
		j, err := s.UpdateProgress(ctx, job.BatchID, i, i, 0)
		require.NoError(t, err)
		if i < 3 {
			assert.Equal(t, models.JobStatusInProgress, j.Status)
			assert.False(t, j.Terminal())
		}
	}

	final, err := s.GetJob(ctx, job.BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 3, final.ItemsProcessed)
	assert.Equal(t, 100, final.Progress())
	assert.True(t, final.Terminal())
}
