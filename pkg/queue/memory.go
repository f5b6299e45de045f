package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ScheduledTask is a task recorded by MemoryQueue with its backoff
// delay.
type ScheduledTask struct {
	Task  ProcessingTask
	Delay time.Duration
}

// MemoryQueue is an in-memory Queue for tests.
type MemoryQueue struct {
	mu    sync.Mutex
	tasks []ScheduledTask

	// FailEnqueues makes every enqueue return an error when set.
	FailEnqueues bool
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task *ProcessingTask) error {
	return q.EnqueueIn(ctx, task, 0)
}

func (q *MemoryQueue) EnqueueIn(ctx context.Context, task *ProcessingTask, delay time.Duration) error {
	if q.FailEnqueues {
		return fmt.Errorf("enqueue failed: queue unavailable")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, ScheduledTask{Task: *task, Delay: delay})
	return nil
}

// Tasks returns a copy of everything enqueued so far.
func (q *MemoryQueue) Tasks() []ScheduledTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]ScheduledTask, len(q.tasks))
	copy(out, q.tasks)
	return out
}

// Pop removes and returns the oldest task, or nil when empty.
func (q *MemoryQueue) Pop() *ScheduledTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return &t
}
