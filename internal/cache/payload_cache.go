package cache

import (
	"context"
	"fmt"
	"time"
)

// CachedPayload is the document stored for one request key: the served data
// plus enough provenance to label degraded responses.
type CachedPayload struct {
	Data     interface{} `json:"data"`
	Source   string      `json:"source"`
	Endpoint string      `json:"endpoint"`
	StoredAt time.Time   `json:"stored_at"`
}

// PayloadCache provides caching for cascade payloads and engine counters
type PayloadCache struct {
	service *Service
}

// NewPayloadCache creates a new payload cache
func NewPayloadCache(service *Service) *PayloadCache {
	return &PayloadCache{
		service: service,
	}
}

// SetPayload caches a served payload under its request key
func (pc *PayloadCache) SetPayload(ctx context.Context, requestKey string, payload *CachedPayload) error {
	key := CacheKey{Prefix: PrefixPayload, ID: requestKey}
	return pc.service.Set(ctx, key, payload, pc.service.config.PayloadTTL)
}

// GetPayload retrieves a cached payload for a request key
func (pc *PayloadCache) GetPayload(ctx context.Context, requestKey string) (*CachedPayload, error) {
	key := CacheKey{Prefix: PrefixPayload, ID: requestKey}
	var payload CachedPayload
	if err := pc.service.Get(ctx, key, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// DeletePayload removes a cached payload
func (pc *PayloadCache) DeletePayload(ctx context.Context, requestKey string) error {
	key := CacheKey{Prefix: PrefixPayload, ID: requestKey}
	return pc.service.Delete(ctx, key)
}

// InvalidatePayloads removes every cached payload in the namespace and
// returns how many keys were dropped
func (pc *PayloadCache) InvalidatePayloads(ctx context.Context) (int64, error) {
	return pc.service.InvalidatePattern(ctx, PrefixPayload+":*")
}

// IncrementWriteCount bumps the persistent writeback counter for a stage
func (pc *PayloadCache) IncrementWriteCount(ctx context.Context, stageName string) (int64, error) {
	key := CacheKey{Prefix: PrefixCounter, ID: fmt.Sprintf("writes:%s", stageName)}
	return pc.service.Increment(ctx, key, 1, 24*time.Hour)
}

// GetWriteCount retrieves the writeback counter for a stage
func (pc *PayloadCache) GetWriteCount(ctx context.Context, stageName string) (int64, error) {
	key := CacheKey{Prefix: PrefixCounter, ID: fmt.Sprintf("writes:%s", stageName)}
	return pc.service.GetCounter(ctx, key)
}

// SetDashboardSummary caches the rendered dashboard document briefly so
// polling dashboards do not hammer the collector
func (pc *PayloadCache) SetDashboardSummary(ctx context.Context, summary interface{}) error {
	key := CacheKey{Prefix: PrefixDashboard, ID: "summary"}
	return pc.service.Set(ctx, key, summary, pc.service.config.DashboardTTL)
}

// GetDashboardSummary retrieves the cached dashboard document
func (pc *PayloadCache) GetDashboardSummary(ctx context.Context, dest interface{}) error {
	key := CacheKey{Prefix: PrefixDashboard, ID: "summary"}
	return pc.service.Get(ctx, key, dest)
}
