// Package queue provides the FIFO analysis queue with a dead-letter path.
//
// Two interchangeable backends exist: RedisQueue (the one the server wires by
// default) and PostgresQueue. Both enforce the same contract: FIFO order
// within a message group, content deduplication within a configurable window,
// and a maxReceiveCount of 1 — the first processing failure moves a message
// straight to the DLQ, it is never retried automatically. Failed messages are
// inspected and replayed manually via Reprocess, which is at-least-once;
// downstream processing must be idempotent per item.
package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/trackpulse/trackpulse/pkg/models"
)

// MaxBatchSize caps a single Enqueue call. Larger logical batches are split
// by the producer into multiple transport calls.
const MaxBatchSize = 10

var (
	// ErrUnavailable signals that the queue backend could not accept any message.
	ErrUnavailable = errors.New("queue unavailable")
	// ErrNotFound signals a missing message (e.g. a DLQ id that was already replayed).
	ErrNotFound = errors.New("message not found")
	// ErrBatchTooLarge signals an Enqueue call above MaxBatchSize.
	ErrBatchTooLarge = fmt.Errorf("enqueue batch exceeds %d messages", MaxBatchSize)
)

// Message is one enqueueable unit. ID is the deduplication id, GroupID the
// FIFO ordering domain (one group per logical batch).
type Message struct {
	ID      string
	GroupID string
	Body    models.QueueMessage
}

// EnqueueResult reports the outcome for a single message of an Enqueue call.
type EnqueueResult struct {
	MessageID string
	Duplicate bool
}

// ReceivedMessage is a message handed to a consumer.
type ReceivedMessage struct {
	ID           string
	GroupID      string
	Body         models.QueueMessage
	ReceiveCount int
}

// DeadMessage is a message parked on the dead-letter queue.
type DeadMessage struct {
	ID       string
	GroupID  string
	Body     models.QueueMessage
	Reason   string
	FailedAt time.Time
}

// Queue is the analysis queue abstraction.
type Queue interface {
	// Enqueue appends up to MaxBatchSize messages, preserving their relative
	// order within the group. Messages whose dedup id was already seen inside
	// the dedup window are reported as duplicates, not errors.
	Enqueue(ctx context.Context, msgs []Message) ([]EnqueueResult, error)

	// Receive pops up to max messages in FIFO order.
	Receive(ctx context.Context, max int) ([]ReceivedMessage, error)

	// Fail parks a received message on the DLQ. With maxReceiveCount = 1 this
	// is the terminal path for any processing failure.
	Fail(ctx context.Context, messageID, reason string) error

	// ReceiveDLQ returns up to max dead messages without removing them.
	ReceiveDLQ(ctx context.Context, max int) ([]DeadMessage, error)

	// Reprocess moves one DLQ message back onto the main queue, then removes
	// it from the DLQ.
	Reprocess(ctx context.Context, messageID string) error

	Ping(ctx context.Context) error
}

// DedupID derives the deterministic deduplication id for a message: distinct
// items never collapse inside the queue's dedup window, while an identical
// resubmission within the window does.
func DedupID(m models.QueueMessage, submittedAt time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|%s|%d",
		m.Kind, m.ItemID, m.Artist, m.Title, m.PlaylistID, submittedAt.Unix())
	return hex.EncodeToString(h.Sum(nil))
}
