package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on Redis.
//
// Keys (namespaced by queue name):
//   - {name}:main            list of message ids, FIFO
//   - {name}:dlq             list of dead message ids, FIFO
//   - {name}:msg:{id}        hash holding body, group and bookkeeping fields
//   - {name}:dedup:{id}      marker with TTL = dedup window
type RedisQueue struct {
	client      *redis.Client
	name        string
	dedupWindow time.Duration
}

// NewRedisQueue creates a RedisQueue from a Redis URL.
func NewRedisQueue(redisURL, name string, dedupWindow time.Duration) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return NewRedisQueueFromClient(redis.NewClient(opts), name, dedupWindow), nil
}

// NewRedisQueueFromClient wraps an existing client, sharing its connection pool.
func NewRedisQueueFromClient(client *redis.Client, name string, dedupWindow time.Duration) *RedisQueue {
	if dedupWindow <= 0 {
		dedupWindow = 5 * time.Minute
	}
	return &RedisQueue{client: client, name: name, dedupWindow: dedupWindow}
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) mainKey() string          { return q.name + ":main" }
func (q *RedisQueue) dlqKey() string           { return q.name + ":dlq" }
func (q *RedisQueue) msgKey(id string) string  { return q.name + ":msg:" + id }
func (q *RedisQueue) dedupKey(id string) string { return q.name + ":dedup:" + id }

func (q *RedisQueue) Enqueue(ctx context.Context, msgs []Message) ([]EnqueueResult, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("enqueue called with no messages")
	}
	if len(msgs) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	results := make([]EnqueueResult, 0, len(msgs))
	for _, m := range msgs {
		set, err := q.client.SetNX(ctx, q.dedupKey(m.ID), 1, q.dedupWindow).Result()
		if err != nil {
			return results, fmt.Errorf("dedup check for %s: %w", m.ID, err)
		}
		if !set {
			results = append(results, EnqueueResult{MessageID: m.ID, Duplicate: true})
			continue
		}

		body, err := json.Marshal(m.Body)
		if err != nil {
			return results, fmt.Errorf("marshal message %s: %w", m.ID, err)
		}

		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, q.msgKey(m.ID), map[string]any{
			"body":          string(body),
			"group_id":      m.GroupID,
			"status":        "queued",
			"receive_count": 0,
			"enqueued_at":   time.Now().Unix(),
		})
		pipe.RPush(ctx, q.mainKey(), m.ID)
		if _, err := pipe.Exec(ctx); err != nil {
			return results, fmt.Errorf("enqueue message %s: %w", m.ID, err)
		}

		results = append(results, EnqueueResult{MessageID: m.ID})
	}
	return results, nil
}

func (q *RedisQueue) Receive(ctx context.Context, max int) ([]ReceivedMessage, error) {
	if max <= 0 {
		max = MaxBatchSize
	}

	ids, err := q.client.LPopCount(ctx, q.mainKey(), max).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop from main queue: %w", err)
	}

	received := make([]ReceivedMessage, 0, len(ids))
	for _, id := range ids {
		pipe := q.client.TxPipeline()
		get := pipe.HGetAll(ctx, q.msgKey(id))
		count := pipe.HIncrBy(ctx, q.msgKey(id), "receive_count", 1)
		pipe.HSet(ctx, q.msgKey(id), "status", "processing")
		if _, err := pipe.Exec(ctx); err != nil {
			return received, fmt.Errorf("receive message %s: %w", id, err)
		}

		fields := get.Val()
		if len(fields) == 0 {
			// Entry without a backing hash; skip rather than stall the consumer.
			continue
		}

		var body ReceivedMessage
		if err := json.Unmarshal([]byte(fields["body"]), &body.Body); err != nil {
			// Unparseable payload goes straight to the DLQ so the consumer
			// does not loop on it.
			if ferr := q.Fail(ctx, id, fmt.Sprintf("invalid payload: %v", err)); ferr != nil {
				return received, fmt.Errorf("park invalid message %s: %w", id, ferr)
			}
			continue
		}
		body.ID = id
		body.GroupID = fields["group_id"]
		body.ReceiveCount = int(count.Val())
		received = append(received, body)
	}
	return received, nil
}

func (q *RedisQueue) Fail(ctx context.Context, messageID, reason string) error {
	exists, err := q.client.Exists(ctx, q.msgKey(messageID)).Result()
	if err != nil {
		return fmt.Errorf("check message %s: %w", messageID, err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.msgKey(messageID), map[string]any{
		"status":    "dead",
		"error":     reason,
		"failed_at": time.Now().Unix(),
	})
	pipe.LRem(ctx, q.mainKey(), 0, messageID)
	pipe.RPush(ctx, q.dlqKey(), messageID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("move message %s to DLQ: %w", messageID, err)
	}
	return nil
}

func (q *RedisQueue) ReceiveDLQ(ctx context.Context, max int) ([]DeadMessage, error) {
	if max <= 0 {
		max = MaxBatchSize
	}

	ids, err := q.client.LRange(ctx, q.dlqKey(), 0, int64(max-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read DLQ: %w", err)
	}

	dead := make([]DeadMessage, 0, len(ids))
	for _, id := range ids {
		fields, err := q.client.HGetAll(ctx, q.msgKey(id)).Result()
		if err != nil {
			return dead, fmt.Errorf("read dead message %s: %w", id, err)
		}
		if len(fields) == 0 {
			continue
		}

		var d DeadMessage
		// An unparseable body still surfaces as a DLQ entry with zeroed payload.
		_ = json.Unmarshal([]byte(fields["body"]), &d.Body)
		d.ID = id
		d.GroupID = fields["group_id"]
		d.Reason = fields["error"]
		if ts, err := strconv.ParseInt(fields["failed_at"], 10, 64); err == nil {
			d.FailedAt = time.Unix(ts, 0)
		}
		dead = append(dead, d)
	}
	return dead, nil
}

func (q *RedisQueue) Reprocess(ctx context.Context, messageID string) error {
	removed, err := q.client.LRem(ctx, q.dlqKey(), 0, messageID).Result()
	if err != nil {
		return fmt.Errorf("remove %s from DLQ: %w", messageID, err)
	}
	if removed == 0 {
		return ErrNotFound
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.msgKey(messageID), map[string]any{
		"status":        "queued",
		"error":         "",
		"receive_count": 0,
	})
	pipe.RPush(ctx, q.mainKey(), messageID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("requeue message %s: %w", messageID, err)
	}
	return nil
}
