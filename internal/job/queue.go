package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultQueueKey is the Redis list shared by servers and workers
const DefaultQueueKey = "queue:market_jobs"

// RedisQueue is a FIFO job queue on a Redis list: LPUSH to enqueue, BRPOP
// to dequeue. A job popped by a worker that then dies is lost; the next
// scheduled sweep covers it.
type RedisQueue struct {
	client redis.UniversalClient
	key    string
}

// NewRedisQueue creates a queue on key, or DefaultQueueKey when key is empty
func NewRedisQueue(client redis.UniversalClient, key string) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{client: client, key: key}
}

// Enqueue appends j to the queue
func (q *RedisQueue) Enqueue(ctx context.Context, j *Job) error {
	payload, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", j.ID, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the oldest job. It returns (nil, nil)
// when the wait times out.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of %d elements", len(res))
	}

	var j Job
	if err := json.Unmarshal([]byte(res[1]), &j); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return &j, nil
}

// Len returns the number of waiting jobs
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}
