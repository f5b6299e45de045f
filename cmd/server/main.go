package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/vitohq/document-intelligence/api/handlers"
	"github.com/vitohq/document-intelligence/api/routes"
	"github.com/vitohq/document-intelligence/config"
	"github.com/vitohq/document-intelligence/internal/repository"
	"github.com/vitohq/document-intelligence/internal/service/ingest"
	"github.com/vitohq/document-intelligence/internal/service/review"
	"github.com/vitohq/document-intelligence/pkg/audit"
	"github.com/vitohq/document-intelligence/pkg/logger"
	minioStorage "github.com/vitohq/document-intelligence/pkg/storage/minio"
	"github.com/vitohq/document-intelligence/pkg/queue"
)

func main() {
	log, err := logger.NewLogger(
		logger.WithLevel("info"),
		logger.WithEncoding("json"),
		logger.WithOutputPaths([]string{"stdout", "logs/app.log"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

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
	ingestService := ingest.NewService(store, objects, taskQueue, auditSink, log.Named("ingest"), &ingest.Config{
		MaxFileSize:          pipelineCfg.MaxFileSizeBytes,
		AllowedMimeTypes:     pipelineCfg.AllowedMimeTypes,
		EstimateBaseSeconds:  pipelineCfg.EstimateBaseSeconds,
		EstimateSecondsPerMB: pipelineCfg.EstimateSecondsPerMB,
	})
	reviewService := review.NewService(store, store, auditSink, log.Named("review"))

	h := handlers.NewHandlers(ingestService, reviewService, log)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h)

	srv := &http.Server{
		Addr:    pipelineCfg.ServerAddr,
		Handler: r,
	}

	go func() {
		log.Info("Server starting", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
