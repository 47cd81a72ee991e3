package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresQueue implements Queue on a queue_messages table. Receive claims
// rows with FOR UPDATE SKIP LOCKED so multiple consumers never double-claim.
// Deduplication rides on the primary key: dedup ids embed the submission
// timestamp, so an identical resubmission inside the window collides and is
// reported as a duplicate.
type PostgresQueue struct {
	pool *pgxpool.Pool
	name string
}

// NewPostgresQueue creates a PostgresQueue sharing the given pool.
func NewPostgresQueue(pool *pgxpool.Pool, name string) *PostgresQueue {
	return &PostgresQueue{pool: pool, name: name}
}

func (q *PostgresQueue) Ping(ctx context.Context) error {
	return q.pool.Ping(ctx)
}

func (q *PostgresQueue) Enqueue(ctx context.Context, msgs []Message) ([]EnqueueResult, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("enqueue called with no messages")
	}
	if len(msgs) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	results := make([]EnqueueResult, 0, len(msgs))
	for _, m := range msgs {
		body, err := json.Marshal(m.Body)
		if err != nil {
			return results, fmt.Errorf("marshal message %s: %w", m.ID, err)
		}

		tag, err := q.pool.Exec(ctx,
			`INSERT INTO queue_messages (id, queue_name, group_id, body, status, receive_count, enqueued_at)
			 VALUES ($1, $2, $3, $4, 'queued', 0, NOW())
			 ON CONFLICT (id) DO NOTHING`,
			m.ID, q.name, m.GroupID, body)
		if err != nil {
			return results, fmt.Errorf("enqueue message %s: %w", m.ID, err)
		}

		results = append(results, EnqueueResult{
			MessageID: m.ID,
			Duplicate: tag.RowsAffected() == 0,
		})
	}
	return results, nil
}

func (q *PostgresQueue) Receive(ctx context.Context, max int) ([]ReceivedMessage, error) {
	if max <= 0 {
		max = MaxBatchSize
	}

	rows, err := q.pool.Query(ctx,
		`UPDATE queue_messages
		 SET status = 'processing', receive_count = receive_count + 1
		 WHERE id IN (
			SELECT id FROM queue_messages
			WHERE queue_name = $1 AND status = 'queued'
			ORDER BY seq
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, group_id, body, receive_count`,
		q.name, max)
	if err != nil {
		return nil, fmt.Errorf("claim messages: %w", err)
	}
	defer rows.Close()

	var received []ReceivedMessage
	for rows.Next() {
		var (
			m    ReceivedMessage
			body []byte
		)
		if err := rows.Scan(&m.ID, &m.GroupID, &body, &m.ReceiveCount); err != nil {
			return received, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal(body, &m.Body); err != nil {
			return received, fmt.Errorf("unmarshal message %s: %w", m.ID, err)
		}
		received = append(received, m)
	}
	return received, rows.Err()
}

func (q *PostgresQueue) Fail(ctx context.Context, messageID, reason string) error {
	tag, err := q.pool.Exec(ctx,
		`UPDATE queue_messages
		 SET status = 'dead', error_message = $2, failed_at = NOW()
		 WHERE id = $1 AND queue_name = $3`,
		messageID, reason, q.name)
	if err != nil {
		return fmt.Errorf("fail message %s: %w", messageID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *PostgresQueue) ReceiveDLQ(ctx context.Context, max int) ([]DeadMessage, error) {
	if max <= 0 {
		max = MaxBatchSize
	}

	rows, err := q.pool.Query(ctx,
		`SELECT id, group_id, body, COALESCE(error_message, ''), failed_at
		 FROM queue_messages
		 WHERE queue_name = $1 AND status = 'dead'
		 ORDER BY failed_at
		 LIMIT $2`,
		q.name, max)
	if err != nil {
		return nil, fmt.Errorf("read DLQ: %w", err)
	}
	defer rows.Close()

	var dead []DeadMessage
	for rows.Next() {
		var (
			d        DeadMessage
			body     []byte
			failedAt *time.Time
		)
		if err := rows.Scan(&d.ID, &d.GroupID, &body, &d.Reason, &failedAt); err != nil {
			return dead, fmt.Errorf("scan dead message: %w", err)
		}
		if err := json.Unmarshal(body, &d.Body); err != nil {
			return dead, fmt.Errorf("unmarshal dead message %s: %w", d.ID, err)
		}
		if failedAt != nil {
			d.FailedAt = *failedAt
		}
		dead = append(dead, d)
	}
	return dead, rows.Err()
}

func (q *PostgresQueue) Reprocess(ctx context.Context, messageID string) error {
	tx, err := q.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin reprocess: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE queue_messages
		 SET status = 'queued', receive_count = 0, error_message = NULL, failed_at = NULL,
		     seq = nextval('queue_messages_seq_seq')
		 WHERE id = $1 AND queue_name = $2 AND status = 'dead'`,
		messageID, q.name)
	if err != nil {
		return fmt.Errorf("requeue message %s: %w", messageID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return tx.Commit(ctx)
}
