package models

const (
	MessageKindTrack    = "track"
	MessageKindPlaylist = "playlist"
)

// QueueMessage is the producer-to-worker payload. It is immutable once
// enqueued; BatchID ties the message back to its AnalysisJob and BatchSize
// carries the logical batch size so the worker can roll up progress.
//
// Track messages carry ItemID/Artist/Title; playlist messages carry
// PlaylistID and no per-item fields.
type QueueMessage struct {
	Kind       string `json:"kind"`
	BatchID    string `json:"batch_id"`
	BatchSize  int    `json:"batch_size"`
	UserID     int64  `json:"user_id"`
	ItemID     int64  `json:"item_id,omitempty"`
	Artist     string `json:"artist,omitempty"`
	Title      string `json:"title,omitempty"`
	PlaylistID string `json:"playlist_id,omitempty"`
}
