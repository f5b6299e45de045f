package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TaskTypeDocumentProcess is the single task type the worker consumes.
const TaskTypeDocumentProcess = "document:process"

// ProcessingTask is the queue message schema. Decoding ignores unknown
// fields, so producers may add fields without breaking consumers.
type ProcessingTask struct {
	JobID         string `json:"job_id"`
	TenantID      string `json:"tenant_id"`
	CorrelationID string `json:"correlation_id"`
	Attempt       int    `json:"attempt"`
}

// Validate checks the required fields of an incoming message.
func (t *ProcessingTask) Validate() error {
	if t.JobID == "" || t.TenantID == "" {
		return fmt.Errorf("invalid task: missing job_id or tenant_id")
	}
	if t.Attempt < 1 {
		return fmt.Errorf("invalid task: attempt must be >= 1, got %d", t.Attempt)
	}
	return nil
}

// Queue is the durable work queue consumed by the worker. Delivery is
// at-least-once; consumers must tolerate duplicates.
type Queue interface {
	Enqueue(ctx context.Context, task *ProcessingTask) error
	// EnqueueIn schedules a task after delay, used for retry backoff.
	EnqueueIn(ctx context.Context, task *ProcessingTask, delay time.Duration) error
}

// Config defines queue client configuration
type Config struct {
	RedisAddr      string
	RedisDB        int
	ProcessTimeout time.Duration
}

// AsynqQueue implements Queue on asynq/redis.
type AsynqQueue struct {
	client  *asynq.Client
	timeout time.Duration
}

func NewAsynqQueue(cfg *Config) *AsynqQueue {
	redisOpt := asynq.RedisClientOpt{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	}
	timeout := cfg.ProcessTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &AsynqQueue{
		client:  asynq.NewClient(redisOpt),
		timeout: timeout,
	}
}

// Enqueue implements Queue.Enqueue
func (q *AsynqQueue) Enqueue(ctx context.Context, task *ProcessingTask) error {
	return q.EnqueueIn(ctx, task, 0)
}

// EnqueueIn implements Queue.EnqueueIn
func (q *AsynqQueue) EnqueueIn(ctx context.Context, task *ProcessingTask, delay time.Duration) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	opts := []asynq.Option{
		// Retries are driven by the worker's own attempt counter so
		// backoff and the max-attempt ceiling stay in one place.
		asynq.MaxRetry(0),
		asynq.Timeout(q.timeout),
		// One queue entry per (job, attempt); duplicate enqueues of the
		// same attempt collapse.
		asynq.TaskID(fmt.Sprintf("%s:%d", task.JobID, task.Attempt)),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	t := asynq.NewTask(TaskTypeDocumentProcess, payload, opts...)
	if _, err := q.client.EnqueueContext(ctx, t); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	return nil
}

func (q *AsynqQueue) Close() error {
	return q.client.Close()
}
