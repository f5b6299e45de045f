package worker

import (
	"context"
	"time"

	"github.com/vitohq/document-intelligence/internal/repository"
	"github.com/vitohq/document-intelligence/pkg/logger"
	"github.com/vitohq/document-intelligence/pkg/queue"
)

// SweeperConfig tunes the stale-job recovery loop.
type SweeperConfig struct {
	// Interval between sweeps.
	Interval time.Duration
	// StaleAfter is how long a job may sit at pending before it is
	// considered lost and re-enqueued.
	StaleAfter time.Duration
	// ProcessingStaleAfter is how long a job may sit at processing
	// before its worker is presumed dead and the job is reclaimed. It
	// must exceed the handler wall-clock budget, or the sweeper will
	// reclaim jobs that are still being worked on.
	ProcessingStaleAfter time.Duration
	// BatchSize caps the jobs re-enqueued per sweep.
	BatchSize int
}

func DefaultSweeperConfig() *SweeperConfig {
	return &SweeperConfig{
		Interval:             time.Minute,
		StaleAfter:           5 * time.Minute,
		ProcessingStaleAfter: 35 * time.Minute,
		BatchSize:            100,
	}
}

// Sweeper recovers jobs whose queue delivery was lost. Pending jobs go
// stale when an enqueue failed after the row was committed; processing
// jobs go stale when a worker crashed mid-attempt and its archived
// task will never be redelivered. Both are put back on the queue.
type Sweeper struct {
	store  repository.JobRepository
	queue  queue.Queue
	logger logger.Logger
	config *SweeperConfig
}

func NewSweeper(store repository.JobRepository, q queue.Queue, log logger.Logger, cfg *SweeperConfig) *Sweeper {
	if cfg == nil {
		cfg = DefaultSweeperConfig()
	}
	return &Sweeper{
		store:  store,
		queue:  q,
		logger: log,
		config: cfg,
	}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("Sweep failed", logger.Error(err))
			}
		}
	}
}

// Sweep runs one pass over both recovery paths. Enqueue collapses
// duplicate (job, attempt) pairs by task ID, so a sweep racing a live
// delivery is harmless.
func (s *Sweeper) Sweep(ctx context.Context) error {
	requeued, err := s.sweepPending(ctx)
	if err != nil {
		return err
	}
	reclaimed, err := s.sweepProcessing(ctx)
	if err != nil {
		return err
	}

	if requeued+reclaimed > 0 {
		s.logger.Info("Sweep finished",
			logger.Int("requeued", requeued),
			logger.Int("reclaimed", reclaimed),
		)
	}
	return nil
}

func (s *Sweeper) sweepPending(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.config.StaleAfter)
	jobs, err := s.store.ListStalePendingJobs(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, job := range jobs {
		task := &queue.ProcessingTask{
			JobID:         job.ID,
			TenantID:      job.TenantID,
			CorrelationID: job.CorrelationID,
			Attempt:       job.Attempts + 1,
		}
		if err := s.queue.Enqueue(ctx, task); err != nil {
			s.logger.Error("Failed to re-enqueue stale job",
				logger.String("jobId", job.ID),
				logger.Error(err),
			)
			continue
		}
		requeued++
		s.logger.Warn("Re-enqueued stale pending job",
			logger.String("jobId", job.ID),
			logger.Int("attempt", task.Attempt),
		)
	}
	return requeued, nil
}

// sweepProcessing reclaims jobs whose worker died mid-attempt: release
// back to pending, counting the crashed attempt, then re-enqueue. The
// release CAS makes the reclaim safe against a worker that is merely
// slow: if the job finalized in the meantime, the release misses and
// the job is left alone.
func (s *Sweeper) sweepProcessing(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.config.ProcessingStaleAfter)
	jobs, err := s.store.ListStaleProcessingJobs(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, job := range jobs {
		crashedAttempt := job.Attempts + 1
		released, err := s.store.ReleaseJob(ctx, job.TenantID, job.ID, crashedAttempt)
		if err != nil {
			s.logger.Error("Failed to release stale processing job",
				logger.String("jobId", job.ID),
				logger.Error(err),
			)
			continue
		}
		if !released {
			continue
		}

		task := &queue.ProcessingTask{
			JobID:         job.ID,
			TenantID:      job.TenantID,
			CorrelationID: job.CorrelationID,
			Attempt:       crashedAttempt + 1,
		}
		if err := s.queue.Enqueue(ctx, task); err != nil {
			// Now pending and stale; the next pending sweep retries.
			s.logger.Error("Failed to re-enqueue reclaimed job",
				logger.String("jobId", job.ID),
				logger.Error(err),
			)
			continue
		}
		reclaimed++
		s.logger.Warn("Reclaimed stale processing job",
			logger.String("jobId", job.ID),
			logger.Int("attempt", task.Attempt),
		)
	}
	return reclaimed, nil
}
