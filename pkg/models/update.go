package models

const (
	ItemStatusQueued     = "QUEUED"
	ItemStatusInProgress = "IN_PROGRESS"
	ItemStatusCompleted  = "COMPLETED"
	ItemStatusFailed     = "FAILED"
	ItemStatusSkipped    = "SKIPPED"
)

// JobStatusUpdate is the normalized form every accepted WebSocket shape is
// reduced to before reaching UI callbacks. A nil ItemID denotes a whole-job
// event (e.g. a playlist analysis) rather than a per-item one.
type JobStatusUpdate struct {
	ItemID *int64 `json:"item_id"`
	Status string `json:"status"`
}

// ValidItemStatus reports whether s is one of the wire status values.
func ValidItemStatus(s string) bool {
	switch s {
	case ItemStatusQueued, ItemStatusInProgress, ItemStatusCompleted,
		ItemStatusFailed, ItemStatusSkipped:
		return true
	}
	return false
}
