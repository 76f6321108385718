// Package resilience provides circuit breaking, retry logic, graceful
// degradation tracking, and alerting for the fallback engine's provider
// stages.
//
// This package implements the following patterns:
//
// # Circuit Breaker Pattern
//
// The circuit breaker gates each provider stage. It trips open after a run
// of consecutive failures, fails fast while open, and after a cooldown
// admits exactly one half-open probe to test recovery.
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//		Name:             "primary-api",
//		FailureThreshold: 5,
//		Cooldown:         30 * time.Second,
//	})
//
//	result, err := cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return upstream.Call(ctx, req)
//	})
//
// # Retry with Exponential Backoff
//
// The retry mechanism automatically retries failed operations with
// exponential backoff and jitter to avoid thundering herd problems.
// Whether an error is retried follows the engine's error taxonomy:
// transport, timeout, rate-limit, and server-class errors retry; client
// and transform errors do not.
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryConfig())
//	err := retrier.Execute(ctx, func(ctx context.Context) error {
//		return riskyOperation(ctx)
//	})
//
// # Graceful Degradation
//
// The degradation system tracks per-stage health and derives the level of
// service the cascade can currently promise, from NORMAL (fresh upstream
// data) down to CRITICAL (static defaults only).
//
//	dm := resilience.NewDegradationManager()
//	dm.RegisterStage("primary-api", resilience.LevelPartial)
//
//	// Update stage health
//	dm.UpdateStageHealth("primary-api", false, 500*time.Millisecond, "probe failed")
//
//	// Check current degradation level
//	level := dm.GetCurrentDegradationLevel()
//
// # Alerting
//
// The alerting system generates and routes alerts from stage errors,
// metric anomalies, and degradation level changes.
//
//	am := resilience.NewAlertManager()
//	am.AddHandler(resilience.NewLoggingAlertHandler())
//
//	sag := resilience.NewStageAlertGenerator(am)
//	sag.HandleError(ctx, err, "primary-api", metadata)
//
// # Combined Usage
//
// For a single breaker-gated, retried operation use RetryableOperation:
//
//	op := resilience.NewRetryableOperation("primary-api", cbConfig, retryConfig)
//	result, err := op.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return upstream.Call(ctx, req)
//	})
//
// The package is designed to be thread-safe and can handle high-concurrency
// scenarios typical in distributed systems.
package resilience
