package engine

import (
	"fmt"
	"time"

	"github.com/NikhilSetiya/fallback-engine/internal/cache"
	"github.com/NikhilSetiya/fallback-engine/internal/stage"
	"github.com/NikhilSetiya/fallback-engine/pkg/config"
	"github.com/NikhilSetiya/fallback-engine/pkg/errors"
	"github.com/NikhilSetiya/fallback-engine/pkg/logging"
	"github.com/NikhilSetiya/fallback-engine/pkg/resilience"
)

// Breaker defaults for the cache layers; the upstream layers carry their
// own settings in config
const (
	defaultCacheBreakerThreshold = 3
	defaultCacheBreakerCooldown  = 15 * time.Second
)

// FallbackConfiguration describes the cascade. The per-stage slices are
// positionally aligned with Stages.
type FallbackConfiguration struct {
	Stages                   []stage.Stage
	Timeouts                 []time.Duration
	RetryAttempts            []int
	CircuitBreakerThresholds []int
	CircuitBreakerCooldowns  []time.Duration

	// OverallTimeout caps a whole cascade; zero disables the ceiling.
	// When it fires, remaining networked stages are skipped and the
	// terminal stage answers.
	OverallTimeout time.Duration

	// Retry backoff shape shared by every stage's attempt loop
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	RetryMultiplier   float64
	RetryJitter       bool

	terminalIndex int
}

// NewConfiguration builds a cascade configuration from ordered stages.
// Timeouts and retry budgets are taken from the stages themselves; breaker
// settings are positional because they are an orchestrator concern.
func NewConfiguration(stages []stage.Stage, breakerThresholds []int, breakerCooldowns []time.Duration) *FallbackConfiguration {
	cfg := &FallbackConfiguration{
		Stages:                   stages,
		Timeouts:                 make([]time.Duration, len(stages)),
		RetryAttempts:            make([]int, len(stages)),
		CircuitBreakerThresholds: breakerThresholds,
		CircuitBreakerCooldowns:  breakerCooldowns,
		RetryInitialDelay:        100 * time.Millisecond,
		RetryMaxDelay:            2 * time.Second,
		RetryMultiplier:          2.0,
		RetryJitter:              true,
		terminalIndex:            -1,
	}

	for i, st := range stages {
		cfg.Timeouts[i] = st.Timeout()
		cfg.RetryAttempts[i] = st.RetryCount()
	}

	return cfg
}

// ApplyCascadeConfig overlays orchestrator-level knobs from app config
func (fc *FallbackConfiguration) ApplyCascadeConfig(cascade *config.CascadeConfig) *FallbackConfiguration {
	if cascade == nil {
		return fc
	}

	fc.OverallTimeout = cascade.OverallTimeout
	if cascade.RetryInitialDelay > 0 {
		fc.RetryInitialDelay = cascade.RetryInitialDelay
	}
	if cascade.RetryMaxDelay > 0 {
		fc.RetryMaxDelay = cascade.RetryMaxDelay
	}
	if cascade.RetryMultiplier > 0 {
		fc.RetryMultiplier = cascade.RetryMultiplier
	}
	fc.RetryJitter = cascade.RetryJitter

	return fc
}

// Validate checks structural invariants: aligned slices, strictly
// increasing priorities, unique names, and exactly one terminal stage in
// last position with an empty retry budget
func (fc *FallbackConfiguration) Validate() error {
	if len(fc.Stages) == 0 {
		return errors.NewValidationError("cascade requires at least one stage")
	}

	n := len(fc.Stages)
	if len(fc.Timeouts) != n || len(fc.RetryAttempts) != n ||
		len(fc.CircuitBreakerThresholds) != n || len(fc.CircuitBreakerCooldowns) != n {
		return errors.NewValidationError("cascade configuration slices must align with stages")
	}

	seen := make(map[string]bool, n)
	terminals := 0
	fc.terminalIndex = -1

	for i, st := range fc.Stages {
		if st == nil {
			return errors.NewValidationError(fmt.Sprintf("stage %d is nil", i))
		}
		if seen[st.Name()] {
			return errors.NewValidationError(fmt.Sprintf("duplicate stage name %q", st.Name()))
		}
		seen[st.Name()] = true

		if i > 0 && fc.Stages[i-1].Priority() >= st.Priority() {
			return errors.NewValidationError(fmt.Sprintf(
				"stage priorities must be strictly increasing: %q (%d) follows %q (%d)",
				st.Name(), st.Priority(), fc.Stages[i-1].Name(), fc.Stages[i-1].Priority()))
		}

		if fc.RetryAttempts[i] < 0 {
			return errors.NewValidationError(fmt.Sprintf("stage %q has a negative retry budget", st.Name()))
		}
		if fc.Timeouts[i] < 0 {
			return errors.NewValidationError(fmt.Sprintf("stage %q has a negative timeout", st.Name()))
		}
		if fc.CircuitBreakerThresholds[i] < 1 {
			return errors.NewValidationError(fmt.Sprintf("stage %q breaker threshold must be at least 1", st.Name()))
		}

		if terminal, ok := st.(stage.TerminalStage); ok && terminal.Terminal() {
			terminals++
			fc.terminalIndex = i
		}
	}

	if terminals != 1 {
		return errors.NewValidationError(fmt.Sprintf("cascade requires exactly one terminal stage, found %d", terminals))
	}
	if fc.terminalIndex != n-1 {
		return errors.NewValidationError("terminal stage must be last in the cascade")
	}
	if fc.RetryAttempts[fc.terminalIndex] != 0 {
		return errors.NewValidationError("terminal stage must not carry a retry budget")
	}

	return nil
}

// retryConfig builds the attempt-loop settings for one stage position
func (fc *FallbackConfiguration) retryConfig(i int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:       fc.RetryAttempts[i] + 1,
		InitialDelay:      fc.RetryInitialDelay,
		MaxDelay:          fc.RetryMaxDelay,
		BackoffMultiplier: fc.RetryMultiplier,
		Jitter:            fc.RetryJitter,
		RetryableErrors:   resilience.DefaultRetryableErrors,
	}
}

// StageSet is the default five-layer cascade wired from app config
type StageSet struct {
	Primary   *stage.PrimaryAPIStage
	Secondary *stage.SecondaryAPIStage
	Memory    *stage.MemoryCacheStage
	Redis     *stage.RedisCacheStage
	Static    *stage.StaticDefaultStage
}

// BuildStageSet constructs the default cascade layers
func BuildStageSet(cfg *config.Config, payloads *cache.PayloadCache, redisClient *cache.RedisClient, logger *logging.Logger) (*StageSet, error) {
	primary, err := stage.NewPrimaryAPIStage(&cfg.Primary, 1, logger)
	if err != nil {
		return nil, err
	}

	secondary, err := stage.NewSecondaryAPIStage(&cfg.Secondary, 2, logger)
	if err != nil {
		return nil, err
	}

	memory, err := stage.NewMemoryCacheStage(cfg.Cache.MemorySize, cfg.Cache.MemoryTTL, 3, logger)
	if err != nil {
		return nil, err
	}

	return &StageSet{
		Primary:   primary,
		Secondary: secondary,
		Memory:    memory,
		Redis:     stage.NewRedisCacheStage(payloads, redisClient, 4, logger),
		Static:    stage.NewStaticDefaultStage(&cfg.Static, 5, logger),
	}, nil
}

// Configuration assembles the cascade configuration for the default stage
// set, with upstream breaker settings from config and cache-layer defaults
func (ss *StageSet) Configuration(cfg *config.Config) *FallbackConfiguration {
	stages := []stage.Stage{ss.Primary, ss.Secondary, ss.Memory, ss.Redis, ss.Static}

	thresholds := []int{
		cfg.Primary.BreakerThreshold,
		cfg.Secondary.BreakerThreshold,
		defaultCacheBreakerThreshold,
		defaultCacheBreakerThreshold,
		defaultCacheBreakerThreshold,
	}
	cooldowns := []time.Duration{
		cfg.Primary.BreakerCooldown,
		cfg.Secondary.BreakerCooldown,
		defaultCacheBreakerCooldown,
		defaultCacheBreakerCooldown,
		defaultCacheBreakerCooldown,
	}

	return NewConfiguration(stages, thresholds, cooldowns).ApplyCascadeConfig(&cfg.Cascade)
}
