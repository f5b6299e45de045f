package config

import (
	"sync"
)

var (
	redisOnce   sync.Once
	redisConfig *RedisConfig
)

type RedisConfig struct {
	Addr string
	DB   int
	// AuditStreamMaxLen caps the audit stream; zero keeps it unbounded.
	AuditStreamMaxLen int64
}

func GetRedisConfig() *RedisConfig {
	redisOnce.Do(func() {
		loadEnv()
		redisConfig = &RedisConfig{
			Addr:              getEnv("REDIS_ADDR", "localhost:6379"),
			DB:                getEnvInt("REDIS_DB", 0),
			AuditStreamMaxLen: int64(getEnvInt("AUDIT_STREAM_MAX_LEN", 100000)),
		}
	})
	return redisConfig
}
