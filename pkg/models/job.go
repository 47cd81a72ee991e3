package models

import (
	"time"
)

const (
	JobStatusPending    = "pending"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

const (
	JobKindTrackBatch = "track_batch"
	JobKindPlaylist   = "playlist"
)

// AnalysisJob tracks one batch submission through the analysis pipeline.
// The batch id is shared by every item submitted in the same call and is the
// id clients use to scope their status subscriptions.
//
// Invariants: ItemsProcessed never exceeds ItemCount, and a job is completed
// exactly when ItemsProcessed has reached ItemCount. Status is derived from
// progress counters, never set directly by callers. Jobs are terminal at
// completed/failed and are superseded, not deleted.
type AnalysisJob struct {
	BatchID        string    `db:"batch_id"        json:"batch_id"`
	UserID         int64     `db:"user_id"         json:"user_id"`
	Kind           string    `db:"kind"            json:"kind"`
	Status         string    `db:"status"          json:"status"`
	ItemCount      int       `db:"item_count"      json:"item_count"`
	ItemsProcessed int       `db:"items_processed" json:"items_processed"`
	ItemsSucceeded int       `db:"items_succeeded" json:"items_succeeded"`
	ItemsFailed    int       `db:"items_failed"    json:"items_failed"`
	ItemIDs        []int64   `db:"item_ids"        json:"item_ids"`
	CreatedAt      time.Time `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"      json:"updated_at"`
}

// Terminal reports whether the job can no longer make progress.
func (j *AnalysisJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Progress returns completion as a percentage, floored, 0 for empty jobs.
func (j *AnalysisJob) Progress() int {
	if j.ItemCount <= 0 {
		return 0
	}
	return j.ItemsProcessed * 100 / j.ItemCount
}
