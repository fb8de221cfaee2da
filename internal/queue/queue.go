package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"
)

// DefaultResultTTL is how long finished job results are kept
const DefaultResultTTL = 24 * time.Hour

// Job is one unit of work on the list
type Job struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Result is stored once a job has run
type Result struct {
	JobID      string          `json:"job_id"`
	Name       string          `json:"name"`
	Status     string          `json:"status"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Queue pushes jobs onto a Redis list
type Queue struct {
	client    *redis.Client
	name      string
	resultTTL time.Duration
}

func New(client *redis.Client, name string) *Queue {
	return &Queue{client: client, name: name, resultTTL: DefaultResultTTL}
}

// Name returns the Redis list key
func (q *Queue) Name() string { return q.name }

func (q *Queue) resultKey(id string) string {
	return q.name + ":result:" + id
}

func newJob(name string, payload any) (Job, []byte, error) {
	job := Job{ID: ksuid.New().String(), Name: name, EnqueuedAt: time.Now().UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return job, nil, fmt.Errorf("encode %s payload: %w", name, err)
		}
		job.Payload = raw
	}
	data, err := json.Marshal(job)
	return job, data, err
}

// Enqueue adds a job and returns its id
func (q *Queue) Enqueue(ctx context.Context, name string, payload any) (string, error) {
	job, data, err := newJob(name, payload)
	if err != nil {
		return "", err
	}
	if err := q.client.LPush(ctx, q.name, data).Err(); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", name, err)
	}
	return job.ID, nil
}

// EnqueueMany adds one job per payload in a single round trip
func (q *Queue) EnqueueMany(ctx context.Context, name string, payloads []any) ([]string, error) {
	ids := make([]string, 0, len(payloads))
	pipe := q.client.Pipeline()
	for _, p := range payloads {
		job, data, err := newJob(name, p)
		if err != nil {
			return nil, err
		}
		pipe.LPush(ctx, q.name, data)
		ids = append(ids, job.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("enqueue %d %s jobs: %w", len(payloads), name, err)
	}
	return ids, nil
}

// Len returns the number of waiting jobs
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}

// Result returns the stored result of a finished job, or nil
func (q *Queue) Result(ctx context.Context, id string) (*Result, error) {
	data, err := q.client.Get(ctx, q.resultKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", id, err)
	}
	return &res, nil
}

func (q *Queue) storeResult(ctx context.Context, res *Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return q.client.Set(ctx, q.resultKey(res.JobID), data, q.resultTTL).Err()
}

// pop blocks up to timeout for the next job. It returns nil when none came.
func (q *Queue) pop(ctx context.Context, timeout time.Duration) (*Job, error) {
	vals, err := q.client.BRPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPOP replies with [key, value]
	var job Job
	if err := json.Unmarshal([]byte(vals[1]), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}
