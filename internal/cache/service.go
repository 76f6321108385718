package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NikhilSetiya/fallback-engine/pkg/errors"
)

// Service provides JSON document caching on top of the Redis client. All keys
// share a configurable namespace so several engines can share one Redis.
type Service struct {
	redis  *RedisClient
	config *Config
}

// Config holds cache configuration
type Config struct {
	Namespace    string        `json:"namespace"`
	DefaultTTL   time.Duration `json:"default_ttl"`
	PayloadTTL   time.Duration `json:"payload_ttl"`
	DashboardTTL time.Duration `json:"dashboard_ttl"`
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace:    "fallback",
		DefaultTTL:   1 * time.Hour,
		PayloadTTL:   30 * time.Minute,
		DashboardTTL: 15 * time.Second,
	}
}

// NewService creates a new cache service
func NewService(redis *RedisClient, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Namespace == "" {
		config.Namespace = "fallback"
	}

	return &Service{
		redis:  redis,
		config: config,
	}
}

// CacheKey generates cache keys with consistent prefixes
type CacheKey struct {
	Prefix string
	ID     string
}

// String returns the formatted cache key
func (ck CacheKey) String() string {
	return fmt.Sprintf("%s:%s", ck.Prefix, ck.ID)
}

// Cache key prefixes
const (
	PrefixPayload   = "payload"
	PrefixDashboard = "dashboard"
	PrefixCounter   = "counter"
)

// Redis returns the underlying Redis client
func (s *Service) Redis() *RedisClient {
	return s.redis
}

// Namespace returns the configured key namespace
func (s *Service) Namespace() string {
	return s.config.Namespace
}

func (s *Service) namespaced(key CacheKey) string {
	return fmt.Sprintf("%s:%s", s.config.Namespace, key.String())
}

// Set stores a value in cache with the specified TTL
func (s *Service) Set(ctx context.Context, key CacheKey, value interface{}, ttl time.Duration) error {
	data, err := s.serialize(value)
	if err != nil {
		return errors.NewInternalError("failed to serialize cache value").WithCause(err)
	}

	if ttl == 0 {
		ttl = s.config.DefaultTTL
	}

	if err := s.redis.Set(ctx, s.namespaced(key), data, ttl); err != nil {
		return errors.NewInternalError("failed to set cache value").WithCause(err)
	}

	return nil
}

// Get retrieves a value from cache
func (s *Service) Get(ctx context.Context, key CacheKey, dest interface{}) error {
	data, err := s.redis.Get(ctx, s.namespaced(key))
	if err != nil {
		if errors.IsNotFound(err) {
			return errors.NewNotFoundError("cache key")
		}
		return errors.NewInternalError("failed to get cache value").WithCause(err)
	}

	if err := s.deserialize(data, dest); err != nil {
		return errors.NewInternalError("failed to deserialize cache value").WithCause(err)
	}

	return nil
}

// Delete removes a value from cache
func (s *Service) Delete(ctx context.Context, key CacheKey) error {
	_, err := s.redis.Del(ctx, s.namespaced(key))
	if err != nil {
		return errors.NewInternalError("failed to delete cache key").WithCause(err)
	}
	return nil
}

// Exists checks if a key exists in cache
func (s *Service) Exists(ctx context.Context, key CacheKey) (bool, error) {
	count, err := s.redis.Exists(ctx, s.namespaced(key))
	if err != nil {
		return false, errors.NewInternalError("failed to check cache key existence").WithCause(err)
	}
	return count > 0, nil
}

// Increment atomically increments a counter
func (s *Service) Increment(ctx context.Context, key CacheKey, delta int64, ttl time.Duration) (int64, error) {
	result, err := s.redis.IncrBy(ctx, s.namespaced(key), delta)
	if err != nil {
		return 0, errors.NewInternalError("failed to increment counter").WithCause(err)
	}

	if ttl > 0 {
		if err := s.redis.Expire(ctx, s.namespaced(key), ttl); err != nil {
			return result, errors.NewInternalError("failed to set counter expiration").WithCause(err)
		}
	}

	return result, nil
}

// GetCounter retrieves a counter value
func (s *Service) GetCounter(ctx context.Context, key CacheKey) (int64, error) {
	result, err := s.redis.Client().Get(ctx, s.namespaced(key)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, errors.NewInternalError("failed to get counter").WithCause(err)
	}
	return result, nil
}

// InvalidatePattern removes all keys matching a pattern within the namespace
func (s *Service) InvalidatePattern(ctx context.Context, pattern string) (int64, error) {
	keys, err := s.redis.Keys(ctx, fmt.Sprintf("%s:%s", s.config.Namespace, pattern))
	if err != nil {
		return 0, errors.NewInternalError("failed to get keys for pattern").WithCause(err)
	}

	if len(keys) == 0 {
		return 0, nil
	}

	removed, err := s.redis.Del(ctx, keys...)
	if err != nil {
		return 0, errors.NewInternalError("failed to delete keys").WithCause(err)
	}

	return removed, nil
}

// TTL returns the time to live for a key
func (s *Service) TTL(ctx context.Context, key CacheKey) (time.Duration, error) {
	ttl, err := s.redis.TTL(ctx, s.namespaced(key))
	if err != nil {
		return 0, errors.NewInternalError("failed to get TTL").WithCause(err)
	}
	return ttl, nil
}

// Extend extends the TTL of a key
func (s *Service) Extend(ctx context.Context, key CacheKey, ttl time.Duration) error {
	if err := s.redis.Expire(ctx, s.namespaced(key), ttl); err != nil {
		return errors.NewInternalError("failed to extend TTL").WithCause(err)
	}
	return nil
}

// serialize converts a value to a JSON string
func (s *Service) serialize(value interface{}) (string, error) {
	if str, ok := value.(string); ok {
		return str, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// deserialize converts a JSON string to a value
func (s *Service) deserialize(data string, dest interface{}) error {
	if str, ok := dest.(*string); ok {
		*str = data
		return nil
	}

	return json.Unmarshal([]byte(data), dest)
}
