package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultStream = "audit:events"

// RedisSink appends events to a redis stream. Downstream consumers
// (compliance export, SIEM forwarders) read the stream independently.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

type RedisSinkConfig struct {
	Addr   string
	DB     int
	Stream string
	// MaxLen caps the stream length (approximate trim). Zero keeps
	// everything.
	MaxLen int64
}

func NewRedisSink(cfg *RedisSinkConfig) *RedisSink {
	stream := cfg.Stream
	if stream == "" {
		stream = defaultStream
	}
	return &RedisSink{
		client: redis.NewClient(&redis.Options{
			Addr: cfg.Addr,
			DB:   cfg.DB,
		}),
		stream: stream,
		maxLen: cfg.MaxLen,
	}
}

// EmitEvent implements Sink.EmitEvent
func (s *RedisSink) EmitEvent(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"type":      event.Type,
			"tenant_id": event.TenantID,
			"event":     string(data),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}

	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
