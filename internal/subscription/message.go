package subscription

import (
	"encoding/json"

	"github.com/trackpulse/trackpulse/pkg/models"
)

// Kind tags every decoded frame. Decoding happens in exactly one place so a
// frame can never match two shapes; anything unrecognized becomes KindUnknown.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnected
	KindPong
	KindSubscribed
	KindError
	KindJobStatus    // nested envelope {type:"job_status", data:{jobId,itemId,status}}
	KindDirectStatus // flat worker notification {jobId,itemId,status}, no type field
	KindBatchQueued  // {type:"batch_tracks_queued", jobId, itemIds, status}
	KindJobCompleted // {type:"job_completed", jobId, status, stats}
)

// JobStats summarizes a completed job.
type JobStats struct {
	TotalItems     int `json:"totalItems"`
	ItemsProcessed int `json:"itemsProcessed"`
	ItemsSucceeded int `json:"itemsSucceeded"`
	ItemsFailed    int `json:"itemsFailed"`
}

// Message is the decoded form of one inbound frame. Which fields are set
// depends on Kind.
type Message struct {
	Kind      Kind
	JobID     string
	ItemID    *int64
	ItemIDs   []int64
	Status    string
	Stats     *JobStats
	Error     string
	Timestamp int64
}

type wireData struct {
	JobID  string `json:"jobId"`
	ItemID *int64 `json:"itemId"`
	Status string `json:"status"`
}

type wireMessage struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp int64     `json:"timestamp"`
	JobID     string    `json:"jobId"`
	ItemID    *int64    `json:"itemId"`
	ItemIDs   []int64   `json:"itemIds"`
	Status    string    `json:"status"`
	Data      *wireData `json:"data"`
	Stats     *JobStats `json:"stats"`
}

// Decode classifies a raw frame into exactly one Message.
func Decode(raw []byte) Message {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return Message{Kind: KindUnknown}
	}

	switch w.Type {
	case "connected":
		return Message{Kind: KindConnected}

	case "pong":
		return Message{Kind: KindPong, Timestamp: w.Timestamp}

	case "subscribed":
		return Message{Kind: KindSubscribed, ItemID: w.ItemID}

	case "error":
		return Message{Kind: KindError, Error: w.Message}

	case "job_status":
		if w.Data == nil || w.Data.JobID == "" || !models.ValidItemStatus(w.Data.Status) {
			return Message{Kind: KindUnknown}
		}
		return Message{
			Kind:   KindJobStatus,
			JobID:  w.Data.JobID,
			ItemID: w.Data.ItemID,
			Status: w.Data.Status,
		}

	case "batch_tracks_queued":
		if w.JobID == "" || len(w.ItemIDs) == 0 || !models.ValidItemStatus(w.Status) {
			return Message{Kind: KindUnknown}
		}
		return Message{
			Kind:    KindBatchQueued,
			JobID:   w.JobID,
			ItemIDs: w.ItemIDs,
			Status:  w.Status,
		}

	case "job_completed":
		if w.JobID == "" {
			return Message{Kind: KindUnknown}
		}
		return Message{
			Kind:   KindJobCompleted,
			JobID:  w.JobID,
			Status: w.Status,
			Stats:  w.Stats,
		}

	case "":
		// Flat worker notification: no type tag, identified by its fields.
		if w.JobID == "" || !models.ValidItemStatus(w.Status) {
			return Message{Kind: KindUnknown}
		}
		return Message{
			Kind:   KindDirectStatus,
			JobID:  w.JobID,
			ItemID: w.ItemID,
			Status: w.Status,
		}

	default:
		return Message{Kind: KindUnknown}
	}
}
