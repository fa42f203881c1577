package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// defaultJobsKey is the Redis list holding queued report jobs.
const defaultJobsKey = "pipeline:queue:jobs"

// Queue is the Redis-backed job queue.
type Queue struct {
	client *redis.Client
	key    string
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithJobsKey overrides the Redis list key.
func WithJobsKey(key string) QueueOption {
	return func(q *Queue) { q.key = key }
}

// NewQueue creates a job queue on the given Redis client.
func NewQueue(client *redis.Client, opts ...QueueOption) *Queue {
	q := &Queue{client: client, key: defaultJobsKey}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue pushes a job onto the queue, assigning a job ID if absent.
// Returns the job ID.
func (q *Queue) Enqueue(ctx context.Context, job *Job) (string, error) {
	if job.ReportID == "" {
		return "", fmt.Errorf("job missing report ID")
	}
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}

	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return "", fmt.Errorf("redis lpush failed: %w", err)
	}
	return job.JobID, nil
}

// Dequeue pops the oldest job, blocking up to the poll timeout. A popped
// job is delivered to this caller only. Returns ErrNoJobsAvailable when
// the timeout elapses with an empty queue.
func (q *Queue) Dequeue(ctx context.Context, pollTimeout time.Duration) (*Job, error) {
	vals, err := q.client.BRPop(ctx, pollTimeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoJobsAvailable
		}
		return nil, fmt.Errorf("redis brpop failed: %w", err)
	}
	// BRPOP returns [key, value].
	if len(vals) != 2 {
		return nil, fmt.Errorf("unexpected brpop reply length %d", len(vals))
	}

	var job Job
	if err := json.Unmarshal([]byte(vals[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Len returns the number of queued jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen failed: %w", err)
	}
	return n, nil
}
