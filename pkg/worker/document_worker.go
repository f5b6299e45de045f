package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"

	"github.com/vitohq/document-intelligence/pkg/logger"
	"github.com/vitohq/document-intelligence/pkg/queue"
)

// Processor handles one decoded queue task. A nil return acknowledges
// the delivery.
type Processor interface {
	Process(ctx context.Context, task *queue.ProcessingTask) error
}

type DocumentWorker struct {
	BaseWorker
	processor Processor
	limiter   *rate.Limiter
	sweeper   *Sweeper
}

func NewDocumentWorker(cfg *Config, processor Processor, sweeper *Sweeper, log logger.Logger) (*DocumentWorker, error) {
	queues := cfg.Queues
	if len(queues) == 0 {
		queues = map[string]int{"default": 1}
	}

	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      queues,
		},
	)

	var limiter *rate.Limiter
	if cfg.MaxJobsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxJobsPerSecond), 1)
	}

	w := &DocumentWorker{
		BaseWorker: BaseWorker{
			server:   server,
			mux:      asynq.NewServeMux(),
			logger:   log,
			stopChan: make(chan struct{}),
		},
		processor: processor,
		limiter:   limiter,
		sweeper:   sweeper,
	}

	w.registerHandlers()
	return w, nil
}

func (w *DocumentWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypeDocumentProcess, w.handleDocumentProcess)
}

func (w *DocumentWorker) handleDocumentProcess(ctx context.Context, t *asynq.Task) error {
	var task queue.ProcessingTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		w.logger.Error("Failed to unmarshal task", logger.Error(err))
		return fmt.Errorf("failed to unmarshal task: %w", err)
	}
	if err := task.Validate(); err != nil {
		// Malformed messages are acknowledged, not retried; there is
		// nothing a redelivery could fix.
		w.logger.Error("Dropping malformed task", logger.Error(err))
		return nil
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	w.logger.Info("Processing document task",
		logger.String("jobId", task.JobID),
		logger.String("correlationId", task.CorrelationID),
		logger.Int("attempt", task.Attempt),
	)

	return w.processor.Process(ctx, &task)
}

func (w *DocumentWorker) Start(ctx context.Context) error {
	go func() {
		if err := w.server.Run(w.mux); err != nil {
			w.logger.Error("Worker server stopped", logger.Error(err))
		}
	}()

	if w.sweeper != nil {
		go w.sweeper.Run(ctx)
	}

	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.stopChan:
		}
	}()

	return nil
}
