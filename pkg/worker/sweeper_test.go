package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitohq/document-intelligence/internal/models"
	"github.com/vitohq/document-intelligence/internal/repository"
	"github.com/vitohq/document-intelligence/pkg/logger"
	"github.com/vitohq/document-intelligence/pkg/queue"
)

func seedSweeperJob(t *testing.T, store *repository.MemoryStore, id string, status models.JobStatus, age time.Duration) {
	t.Helper()
	job := &models.DocumentJob{
		ID:            id,
		TenantID:      "tenant-1",
		CorrelationID: "corr-" + id,
		Status:        status,
		Attempts:      1,
		CreatedAt:     time.Now().Add(-age),
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
}

func TestSweepRequeuesStalePendingJobs(t *testing.T) {
	store := repository.NewMemoryStore()
	q := queue.NewMemoryQueue()
	cfg := DefaultSweeperConfig()
	// Everything older than "now" counts as stale for this test.
	cfg.StaleAfter = -time.Second
	sweeper := NewSweeper(store, q, logger.NewTestLogger(), cfg)

	seedSweeperJob(t, store, "stale-1", models.JobStatusPending, time.Hour)
	seedSweeperJob(t, store, "done-1", models.JobStatusCompleted, time.Hour)
	seedSweeperJob(t, store, "active-1", models.JobStatusProcessing, time.Hour)

	require.NoError(t, sweeper.Sweep(context.Background()))

	tasks := q.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "stale-1", tasks[0].Task.JobID)
	assert.Equal(t, "tenant-1", tasks[0].Task.TenantID)
	assert.Equal(t, 2, tasks[0].Task.Attempt, "sweeper bumps the recorded attempt count")
}

func TestSweepSkipsFreshPendingJobs(t *testing.T) {
	store := repository.NewMemoryStore()
	q := queue.NewMemoryQueue()
	sweeper := NewSweeper(store, q, logger.NewTestLogger(), nil)

	seedSweeperJob(t, store, "fresh-1", models.JobStatusPending, 0)

	require.NoError(t, sweeper.Sweep(context.Background()))
	assert.Empty(t, q.Tasks())
}

func TestSweepReclaimsStaleProcessingJobs(t *testing.T) {
	store := repository.NewMemoryStore()
	q := queue.NewMemoryQueue()
	cfg := DefaultSweeperConfig()
	cfg.StaleAfter = -time.Second
	cfg.ProcessingStaleAfter = -time.Second
	sweeper := NewSweeper(store, q, logger.NewTestLogger(), cfg)

	// A worker claimed the job and died; the queue will never redeliver
	// the archived task.
	seedSweeperJob(t, store, "crashed-1", models.JobStatusProcessing, time.Hour)

	require.NoError(t, sweeper.Sweep(context.Background()))

	job, err := store.GetJob(context.Background(), "tenant-1", "crashed-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 2, job.Attempts, "the crashed attempt is counted")

	tasks := q.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "crashed-1", tasks[0].Task.JobID)
	assert.Equal(t, 3, tasks[0].Task.Attempt)
}

func TestSweepLeavesTerminalJobsAlone(t *testing.T) {
	store := repository.NewMemoryStore()
	q := queue.NewMemoryQueue()
	cfg := DefaultSweeperConfig()
	cfg.StaleAfter = -time.Second
	cfg.ProcessingStaleAfter = -time.Second
	sweeper := NewSweeper(store, q, logger.NewTestLogger(), cfg)

	seedSweeperJob(t, store, "done-1", models.JobStatusCompleted, time.Hour)
	seedSweeperJob(t, store, "failed-1", models.JobStatusFailed, time.Hour)

	require.NoError(t, sweeper.Sweep(context.Background()))
	assert.Empty(t, q.Tasks())
}

func TestSweepContinuesPastEnqueueFailures(t *testing.T) {
	store := repository.NewMemoryStore()
	q := queue.NewMemoryQueue()
	q.FailEnqueues = true
	cfg := DefaultSweeperConfig()
	cfg.StaleAfter = -time.Second
	sweeper := NewSweeper(store, q, logger.NewTestLogger(), cfg)

	seedSweeperJob(t, store, "stale-1", models.JobStatusPending, time.Hour)

	// Enqueue failures are logged and retried on the next sweep.
	require.NoError(t, sweeper.Sweep(context.Background()))
	assert.Empty(t, q.Tasks())

	q.FailEnqueues = false
	require.NoError(t, sweeper.Sweep(context.Background()))
	assert.Len(t, q.Tasks(), 1)
}
