package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/trackpulse/trackpulse/internal/queue"
	"github.com/trackpulse/trackpulse/pkg/models"
)

func trackMessage(itemID int64) models.QueueMessage {
	return models.QueueMessage{
		Kind:      models.MessageKindTrack,
		BatchID:   "batch-1",
		BatchSize: 3,
		UserID:    7,
		ItemID:    itemID,
		Artist:    "Burial",
		Title:     "Archangel",
	}
}

func TestDedupID_Deterministic(t *testing.T) {
	at := time.Unix(1700000000, 0)

	a := queue.DedupID(trackMessage(1), at)
	b := queue.DedupID(trackMessage(1), at)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64) // hex-encoded sha256
}

func TestDedupID_DistinguishesItems(t *testing.T) {
	at := time.Unix(1700000000, 0)

	assert.NotEqual(t,
		queue.DedupID(trackMessage(1), at),
		queue.DedupID(trackMessage(2), at))
}

func TestDedupID_DistinguishesContent(t *testing.T) {
	at := time.Unix(1700000000, 0)

	base := trackMessage(1)
	changed := base
	changed.Title = "Ghost Hardware"

	assert.NotEqual(t, queue.DedupID(base, at), queue.DedupID(changed, at))
}

func TestDedupID_TimestampScopesTheWindow(t *testing.T) {
	m := trackMessage(1)

	assert.NotEqual(t,
		queue.DedupID(m, time.Unix(1700000000, 0)),
		queue.DedupID(m, time.Unix(1700000001, 0)))

	// Sub-second resubmissions share an id.
	assert.Equal(t,
		queue.DedupID(m, time.Unix(1700000000, 100)),
		queue.DedupID(m, time.Unix(1700000000, 900)))
}

func TestDedupID_KindMatters(t *testing.T) {
	at := time.Unix(1700000000, 0)

	track := trackMessage(0)
	playlist := models.QueueMessage{
		Kind:       models.MessageKindPlaylist,
		BatchID:    "batch-1",
		UserID:     7,
		PlaylistID: "pl-1",
	}

	assert.NotEqual(t, queue.DedupID(track, at), queue.DedupID(playlist, at))
}
