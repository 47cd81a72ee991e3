package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	AttemptStatusPending    = "pending"
	AttemptStatusProcessing = "processing"
	AttemptStatusSucceeded  = "succeeded"
	AttemptStatusFailed     = "failed"
)

// ErrorTypeCancelled marks attempts abandoned because their job was cancelled.
const ErrorTypeCancelled = "cancelled"

// ItemAttempt records the outcome of processing one item within a job.
// There is at most one attempt per (job, item) pair; the worker creates the
// row when it dequeues the item and failures land in ErrorType/ErrorMessage
// rather than triggering an automatic retry.
type ItemAttempt struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	JobBatchID   string     `db:"job_batch_id"  json:"job_batch_id"`
	ItemID       int64      `db:"item_id"       json:"item_id"`
	Status       string     `db:"status"        json:"status"`
	ErrorType    *string    `db:"error_type"    json:"error_type,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time `db:"started_at"    json:"started_at,omitempty"`
	FinishedAt   *time.Time `db:"finished_at"   json:"finished_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}
