package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"memfuse/internal/config"
	"memfuse/internal/logging"
	"memfuse/pkg/types"
)

// snapshotKeyPrefix namespaces envelope snapshots in Redis
const snapshotKeyPrefix = "memfuse:envelope:"

// SnapshotCache stores recent fusion envelopes in Redis keyed by trace ID so
// operators can inspect what a past query retrieved.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	logger logging.Logger
}

// NewSnapshotCache creates a Redis-backed snapshot cache. Returns nil when
// the cache is disabled.
func NewSnapshotCache(cfg *config.RedisConfig, logger logging.Logger) *SnapshotCache {
	if !cfg.Enabled {
		return nil
	}
	if logger == nil {
		logger = logging.NewNoopLogger()
	}

	ttl := time.Duration(cfg.TTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &SnapshotCache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl:    ttl,
		logger: logger.WithComponent("snapshots"),
	}
}

// Save stores an envelope snapshot. Failures are logged, never propagated;
// the cache is strictly best-effort.
func (s *SnapshotCache) Save(ctx context.Context, env *types.FusionEnvelope) {
	if env.TraceID == "" {
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Warn("failed to marshal envelope snapshot", "error", err)
		return
	}
	if err := s.client.Set(ctx, snapshotKeyPrefix+env.TraceID, data, s.ttl).Err(); err != nil {
		s.logger.Warn("failed to store envelope snapshot", "error", err, "trace_id", env.TraceID)
	}
}

// Get retrieves an envelope snapshot by trace ID
func (s *SnapshotCache) Get(ctx context.Context, traceID string) (*types.FusionEnvelope, error) {
	data, err := s.client.Get(ctx, snapshotKeyPrefix+traceID).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("no snapshot for trace %s", traceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var env types.FusionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &env, nil
}

// Close releases the Redis connection
func (s *SnapshotCache) Close() error {
	return s.client.Close()
}
