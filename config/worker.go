package config

import (
	"log"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	workerOnce   sync.Once
	workerConfig *WorkerConfig
)

// WorkerConfig tunes the processing fleet. Environment variables set
// the base values; an optional YAML file (WORKER_CONFIG_PATH) overrides
// them for per-deployment tuning.
type WorkerConfig struct {
	Concurrency      int           `yaml:"concurrency"`
	MaxJobsPerSecond float64       `yaml:"max_jobs_per_second"`
	MaxAttempts      int           `yaml:"max_attempts"`
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base"`
	ProcessTimeout   time.Duration `yaml:"process_timeout"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	StaleAfter       time.Duration `yaml:"stale_after"`
}

func GetWorkerConfig() *WorkerConfig {
	workerOnce.Do(func() {
		loadEnv()
		workerConfig = &WorkerConfig{
			Concurrency:      getEnvInt("WORKER_CONCURRENCY", 2),
			MaxJobsPerSecond: getEnvFloat("WORKER_MAX_JOBS_PER_SECOND", 10),
			MaxAttempts:      getEnvInt("WORKER_MAX_ATTEMPTS", 3),
			RetryBackoffBase: time.Duration(getEnvInt("WORKER_RETRY_BACKOFF_MS", 2000)) * time.Millisecond,
			ProcessTimeout:   time.Duration(getEnvInt("WORKER_PROCESS_TIMEOUT_SEC", 1800)) * time.Second,
			SweepInterval:    time.Duration(getEnvInt("WORKER_SWEEP_INTERVAL_SEC", 60)) * time.Second,
			StaleAfter:       time.Duration(getEnvInt("WORKER_STALE_AFTER_SEC", 300)) * time.Second,
		}

		if path := os.Getenv("WORKER_CONFIG_PATH"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				log.Printf("Warning: cannot read worker config at %s: %v", path, err)
				return
			}
			if err := yaml.Unmarshal(data, workerConfig); err != nil {
				log.Printf("Warning: invalid worker config at %s: %v", path, err)
			}
		}
	})
	return workerConfig
}
