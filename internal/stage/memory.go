package stage

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/NikhilSetiya/fallback-engine/pkg/errors"
	"github.com/NikhilSetiya/fallback-engine/pkg/logging"
)

const memoryStageTimeout = 50 * time.Millisecond

type memoryEntry struct {
	data      interface{}
	source    string
	storedAt  time.Time
	expiresAt time.Time
}

// MemoryCacheStage serves previously successful payloads from an in-process
// LRU. Entries expire individually; a miss or an expired entry is an
// ordinary stage failure so the cascade moves on. The request path never
// populates the cache, that happens asynchronously after upstream successes.
type MemoryCacheStage struct {
	entries  *lru.Cache[string, memoryEntry]
	ttl      time.Duration
	priority int
	logger   *logging.Logger
	now      func() time.Time
}

// NewMemoryCacheStage creates the in-process cache layer
func NewMemoryCacheStage(size int, ttl time.Duration, priority int, logger *logging.Logger) (*MemoryCacheStage, error) {
	if size <= 0 {
		size = 1000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	entries, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, errors.NewInternalError("failed to create memory cache").WithCause(err)
	}

	return &MemoryCacheStage{
		entries:  entries,
		ttl:      ttl,
		priority: priority,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (s *MemoryCacheStage) Name() string           { return NameMemoryCache }
func (s *MemoryCacheStage) Priority() int          { return s.priority }
func (s *MemoryCacheStage) Timeout() time.Duration { return memoryStageTimeout }
func (s *MemoryCacheStage) RetryCount() int        { return 0 }

// Execute looks up the request's canonical key
func (s *MemoryCacheStage) Execute(ctx context.Context, req *Request) (*StageResult, error) {
	start := s.now()
	key := req.Key()

	entry, ok := s.entries.Get(key)
	if !ok {
		err := errors.NewNotFoundError("cached payload")
		return failureResult(NameMemoryCache, err, s.now().Sub(start)), err
	}

	if s.now().After(entry.expiresAt) {
		s.entries.Remove(key)
		err := errors.NewNotFoundError("cached payload")
		result := failureResult(NameMemoryCache, err, s.now().Sub(start))
		result.Metadata.ErrorDetail = "cached payload expired"
		return result, err
	}

	return successResult(NameMemoryCache, entry.data, s.now().Sub(start), Metadata{
		Cached:   true,
		CacheAge: s.now().Sub(entry.storedAt),
	}), nil
}

// HealthCheck always passes; the cache lives in process memory
func (s *MemoryCacheStage) HealthCheck(ctx context.Context) bool {
	return true
}

// Store saves a payload under the request's canonical key with the
// configured TTL. Called by the write-back path after upstream successes.
func (s *MemoryCacheStage) Store(req *Request, data interface{}, source string) {
	now := s.now()
	s.entries.Add(req.Key(), memoryEntry{
		data:      data,
		source:    source,
		storedAt:  now,
		expiresAt: now.Add(s.ttl),
	})
}

// Len returns the number of cached entries, including any not yet expired
func (s *MemoryCacheStage) Len() int {
	return s.entries.Len()
}

// Purge drops every cached entry
func (s *MemoryCacheStage) Purge() {
	s.entries.Purge()
}
