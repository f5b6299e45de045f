package worker

import (
	"context"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/vitohq/document-intelligence/pkg/logger"
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
}

type Config struct {
	RedisAddr   string
	RedisDB     int
	Concurrency int
	Queues      map[string]int
	// MaxJobsPerSecond throttles task starts across all handler
	// goroutines. Zero disables throttling.
	MaxJobsPerSecond float64
}

type BaseWorker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	logger   logger.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

func (w *BaseWorker) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		// Shutdown waits for in-flight handlers before returning, so a
		// mid-job SIGTERM never abandons a claimed job.
		w.server.Shutdown()
	})
	return nil
}
