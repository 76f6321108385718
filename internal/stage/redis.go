package stage

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/fallback-engine/internal/cache"
	"github.com/NikhilSetiya/fallback-engine/pkg/errors"
	"github.com/NikhilSetiya/fallback-engine/pkg/logging"
)

const redisStageTimeout = 1 * time.Second

// RedisCacheStage serves payloads that survived a process restart. It sits
// below the memory cache, so it only sees traffic once the in-process copy
// is gone. Reads use a short deadline; a slow Redis should degrade to static
// defaults, not stall the cascade.
type RedisCacheStage struct {
	payloads *cache.PayloadCache
	redis    *cache.RedisClient
	priority int
	logger   *logging.Logger
}

// NewRedisCacheStage creates the persistent cache layer
func NewRedisCacheStage(payloads *cache.PayloadCache, redis *cache.RedisClient, priority int, logger *logging.Logger) *RedisCacheStage {
	return &RedisCacheStage{
		payloads: payloads,
		redis:    redis,
		priority: priority,
		logger:   logger,
	}
}

func (s *RedisCacheStage) Name() string           { return NameRedisCache }
func (s *RedisCacheStage) Priority() int          { return s.priority }
func (s *RedisCacheStage) Timeout() time.Duration { return redisStageTimeout }
func (s *RedisCacheStage) RetryCount() int        { return 0 }

// Execute looks up the request's canonical key in Redis
func (s *RedisCacheStage) Execute(ctx context.Context, req *Request) (*StageResult, error) {
	start := time.Now()

	payload, err := s.payloads.GetPayload(ctx, req.Key())
	duration := time.Since(start)

	if err != nil {
		if !errors.IsNotFound(err) {
			s.logger.LogError(ctx, err, "Redis cache read failed", logrus.Fields{
				"stage":    NameRedisCache,
				"endpoint": req.Endpoint,
			})
		}
		return failureResult(NameRedisCache, err, duration), err
	}

	return successResult(NameRedisCache, payload.Data, duration, Metadata{
		Cached:   true,
		CacheAge: time.Since(payload.StoredAt),
	}), nil
}

// HealthCheck pings Redis with a short deadline
func (s *RedisCacheStage) HealthCheck(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, redisStageTimeout)
	defer cancel()
	return s.redis.Health(pingCtx) == nil
}

// Store saves a payload under the request's canonical key. Called by the
// write-back path after upstream successes.
func (s *RedisCacheStage) Store(ctx context.Context, req *Request, data interface{}, source string) error {
	return s.payloads.SetPayload(ctx, req.Key(), &cache.CachedPayload{
		Data:     data,
		Source:   source,
		Endpoint: req.Endpoint,
		StoredAt: time.Now().UTC(),
	})
}
