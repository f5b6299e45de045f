package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/vitohq/document-intelligence/config"
	"github.com/vitohq/document-intelligence/internal/extract"
	"github.com/vitohq/document-intelligence/internal/repository"
	"github.com/vitohq/document-intelligence/internal/service/processing"
	"github.com/vitohq/document-intelligence/pkg/audit"
	"github.com/vitohq/document-intelligence/pkg/logger"
	"github.com/vitohq/document-intelligence/pkg/queue"
	minioStorage "github.com/vitohq/document-intelligence/pkg/storage/minio"
	"github.com/vitohq/document-intelligence/pkg/worker"
)

func main() {
	log, err := logger.NewLogger(
		logger.WithLevel("info"),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbCfg := config.GetDatabaseConfig()
	db, err := gorm.Open(postgres.Open(dbCfg.DSN()), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database", logger.Error(err))
	}

	store := repository.NewGormStore(db, log)
	if err := store.AutoMigrate(); err != nil {
		log.Fatal("Failed to migrate database", logger.Error(err))
	}

	objects, err := minioStorage.NewMinioStorage(log)
	if err != nil {
		log.Fatal("Failed to init object storage", logger.Error(err))
	}

	provider, err := newProvider(ctx, log)
	if err != nil {
		log.Fatal("Failed to init OCR provider", logger.Error(err))
	}

	redisCfg := config.GetRedisConfig()
	workerCfg := config.GetWorkerConfig()
	taskQueue := queue.NewAsynqQueue(&queue.Config{
		RedisAddr:      redisCfg.Addr,
		RedisDB:        redisCfg.DB,
		ProcessTimeout: workerCfg.ProcessTimeout,
	})
	defer taskQueue.Close()

	auditSink := audit.NewRedisSink(&audit.RedisSinkConfig{
		Addr:   redisCfg.Addr,
		DB:     redisCfg.DB,
		MaxLen: redisCfg.AuditStreamMaxLen,
	})
	defer auditSink.Close()

	pipelineCfg := config.GetPipelineConfig()
	costPerPage, err := decimal.NewFromString(pipelineCfg.CostPerPage)
	if err != nil {
		log.Fatal("Invalid cost-per-page value", logger.Error(err))
	}

	processor := processing.NewProcessor(
		store, objects, provider, taskQueue, auditSink,
		log.Named("processor"),
		&processing.Config{
			MaxAttempts:      workerCfg.MaxAttempts,
			RetryBackoffBase: workerCfg.RetryBackoffBase,
			CostPerPage:      costPerPage,
		},
	)

	sweeper := worker.NewSweeper(store, taskQueue, log.Named("sweeper"), &worker.SweeperConfig{
		Interval:   workerCfg.SweepInterval,
		StaleAfter: workerCfg.StaleAfter,
		// A processing job is only presumed dead once its handler's
		// wall-clock budget has certainly elapsed.
		ProcessingStaleAfter: workerCfg.ProcessTimeout + workerCfg.StaleAfter,
		BatchSize:            100,
	})

	documentWorker, err := worker.NewDocumentWorker(&worker.Config{
		RedisAddr:        redisCfg.Addr,
		RedisDB:          redisCfg.DB,
		Concurrency:      workerCfg.Concurrency,
		MaxJobsPerSecond: workerCfg.MaxJobsPerSecond,
	}, processor, sweeper, log)
	if err != nil {
		log.Fatal("Failed to create document worker", logger.Error(err))
	}

	if err := documentWorker.Start(ctx); err != nil {
		log.Fatal("Failed to start worker", logger.Error(err))
	}
	log.Info("Worker started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down worker...")
	documentWorker.Stop()
	log.Info("Worker stopped")
}

func newProvider(ctx context.Context, log logger.Logger) (extract.Provider, error) {
	pipelineCfg := config.GetPipelineConfig()
	switch pipelineCfg.Provider {
	case "textract":
		textractCfg := config.GetTextractConfig()
		return extract.NewTextractProvider(ctx, &extract.TextractConfig{
			Region:        textractCfg.Region,
			AccessKey:     textractCfg.AccessKey,
			SecretKey:     textractCfg.SecretKey,
			MinConfidence: float32(textractCfg.MinConfidence),
			EnableForms:   textractCfg.EnableForms,
		}, log.Named("textract"))
	default:
		return extract.NewTesseractProvider(nil, log.Named("tesseract")), nil
	}
}
