package stage

import (
	"context"
	"time"
)

// Canonical stage names, ordered by cascade priority
const (
	NamePrimaryAPI    = "primary-api"
	NameSecondaryAPI  = "secondary-api"
	NameMemoryCache   = "memory-cache"
	NameRedisCache    = "redis-cache"
	NameStaticDefault = "static-default"
)

// Stage is a single fallback layer in the cascade. Implementations must be
// safe for concurrent use; the orchestrator may execute the same stage for
// many requests at once.
type Stage interface {
	// Name returns the canonical stage name used in metrics and logs
	Name() string

	// Priority returns the cascade position; lower values execute first
	Priority() int

	// Timeout returns the per-attempt deadline. Zero means no deadline
	// beyond the caller's context.
	Timeout() time.Duration

	// RetryCount returns how many retries a single cascade visit may spend
	// after the first attempt fails
	RetryCount() int

	// Execute performs one attempt against this layer. On failure the
	// returned result describes the attempt and err carries the typed cause.
	Execute(ctx context.Context, req *Request) (*StageResult, error)

	// HealthCheck reports whether the layer's backing resource is reachable.
	// It must not mutate request-path state.
	HealthCheck(ctx context.Context) bool
}

// TerminalStage marks a stage that can never fail. A cascade needs exactly
// one, in last position, so every execution is guaranteed an answer.
type TerminalStage interface {
	Stage
	Terminal() bool
}

// StageResult describes the outcome of one stage attempt
type StageResult struct {
	Success   bool          `json:"success"`
	Data      interface{}   `json:"data"`
	Err       error         `json:"-"`
	StageName string        `json:"stage_name"`
	Duration  time.Duration `json:"duration_ms"`
	Metadata  Metadata      `json:"metadata"`
}

// Metadata carries provenance details for a stage attempt
type Metadata struct {
	Source      string        `json:"source"`
	StatusCode  int           `json:"status_code,omitempty"`
	Cached      bool          `json:"cached,omitempty"`
	Transformed bool          `json:"transformed,omitempty"`
	CacheAge    time.Duration `json:"cache_age_ms,omitempty"`
	ErrorDetail string        `json:"error_detail,omitempty"`
}

func successResult(name string, data interface{}, duration time.Duration, meta Metadata) *StageResult {
	meta.Source = name
	return &StageResult{
		Success:   true,
		Data:      data,
		StageName: name,
		Duration:  duration,
		Metadata:  meta,
	}
}

func failureResult(name string, err error, duration time.Duration) *StageResult {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return &StageResult{
		Success:   false,
		Err:       err,
		StageName: name,
		Duration:  duration,
		Metadata: Metadata{
			Source:      name,
			ErrorDetail: detail,
		},
	}
}
