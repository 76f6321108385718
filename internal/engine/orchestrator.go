// Package engine wires the provider stages into a staged fallback cascade.
// Execution walks stages in ascending priority order, each behind its own
// circuit breaker and retry budget, and always lands on the terminal stage
// when everything else is down.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/NikhilSetiya/fallback-engine/internal/stage"
	"github.com/NikhilSetiya/fallback-engine/internal/telemetry"
	"github.com/NikhilSetiya/fallback-engine/pkg/errors"
	"github.com/NikhilSetiya/fallback-engine/pkg/logging"
	"github.com/NikhilSetiya/fallback-engine/pkg/metrics"
	"github.com/NikhilSetiya/fallback-engine/pkg/resilience"
	"github.com/NikhilSetiya/fallback-engine/pkg/tracing"
)

// AttemptRecord describes one attempt against one stage during a cascade
type AttemptRecord struct {
	Stage    string        `json:"stage"`
	Attempt  int           `json:"attempt"`
	Outcome  string        `json:"outcome"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Result is the answer a cascade produced
type Result struct {
	RequestID string          `json:"request_id"`
	Data      interface{}     `json:"data"`
	Source    string          `json:"source"`
	Degraded  bool            `json:"degraded"`
	Elapsed   time.Duration   `json:"elapsed"`
	Attempts  []AttemptRecord `json:"attempts"`
	Metadata  stage.Metadata  `json:"metadata"`
}

// Dependencies carries the optional collaborators of an orchestrator. Any
// field may be nil.
type Dependencies struct {
	Collector *telemetry.Collector
	Metrics   *metrics.Metrics
	Writeback *WritebackPool
	Alerts    *resilience.StageAlertGenerator
	Tracing   *tracing.TracingService
}

// Orchestrator executes requests against the configured stage cascade
type Orchestrator struct {
	config     *FallbackConfiguration
	operations []*resilience.RetryableOperation
	collector  *telemetry.Collector
	metrics    *metrics.Metrics
	writeback  *WritebackPool
	alerts     *resilience.StageAlertGenerator
	tracing    *tracing.TracingService
	tracker    *resilience.CascadeDegradationTracker
	logger     *logging.Logger
}

// NewOrchestrator validates the configuration and wraps every stage in a
// circuit breaker and retrier
func NewOrchestrator(config *FallbackConfiguration, deps Dependencies) (*Orchestrator, error) {
	if config == nil {
		return nil, errors.NewValidationError("cascade configuration is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		config:    config,
		collector: deps.Collector,
		metrics:   deps.Metrics,
		writeback: deps.Writeback,
		alerts:    deps.Alerts,
		tracing:   deps.Tracing,
		logger:    logging.GetLogger(),
	}
	if o.metrics == nil {
		o.metrics = metrics.NewMetrics(&metrics.Config{Enabled: false})
	}

	stageOrder := make([]string, len(config.Stages))
	for i, st := range config.Stages {
		stageOrder[i] = st.Name()
	}
	o.tracker = resilience.NewCascadeDegradationTracker(stageOrder, config.degradationLevels())

	o.operations = make([]*resilience.RetryableOperation, len(config.Stages))
	for i, st := range config.Stages {
		o.operations[i] = resilience.NewRetryableOperation(st.Name(), resilience.CircuitBreakerConfig{
			Name:             st.Name(),
			FailureThreshold: uint32(config.CircuitBreakerThresholds[i]),
			Cooldown:         config.CircuitBreakerCooldowns[i],
			OnStateChange:    o.onBreakerStateChange,
		}, config.retryConfig(i))

		o.metrics.UpdateBreakerState(st.Name(), breakerStateGauge(resilience.StateClosed))
	}

	return o, nil
}

// degradationLevels maps each stage to the severity its loss implies
func (fc *FallbackConfiguration) degradationLevels() map[string]resilience.DegradationLevel {
	levels := make(map[string]resilience.DegradationLevel, len(fc.Stages))
	for i, st := range fc.Stages {
		switch {
		case i == fc.terminalIndex:
			levels[st.Name()] = resilience.LevelCritical
		case st.Name() == stage.NameMemoryCache || st.Name() == stage.NameRedisCache:
			levels[st.Name()] = resilience.LevelSevere
		default:
			levels[st.Name()] = resilience.LevelPartial
		}
	}
	return levels
}

// Execute runs a request through the cascade. The input accepts anything
// stage.ParseRequest accepts. The only error a caller sees is a validation
// error for a malformed request; once the cascade starts it always answers.
func (o *Orchestrator) Execute(ctx context.Context, rawRequest interface{}) (*Result, error) {
	req, err := stage.ParseRequest(rawRequest)
	if err != nil {
		o.metrics.RecordError("orchestrator", string(errors.GetType(err)))
		return nil, err
	}

	requestID := logging.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
		ctx = logging.WithRequestID(ctx, requestID)
	}

	if o.tracing != nil {
		var span oteltrace.Span
		ctx, span = o.tracing.StartCascadeSpan(ctx, requestID, req.Endpoint)
		defer span.End()
	}

	start := time.Now()
	attempts := make([]AttemptRecord, 0, len(o.config.Stages))

	overallCtx := ctx
	if o.config.OverallTimeout > 0 {
		var cancel context.CancelFunc
		overallCtx, cancel = context.WithTimeout(ctx, o.config.OverallTimeout)
		defer cancel()
	}

	for i, st := range o.config.Stages {
		terminal := i == o.config.terminalIndex

		// The terminal stage does no I/O and must answer even after the
		// overall deadline, so it runs on the parent context
		stageCtx := overallCtx
		if terminal {
			stageCtx = ctx
		}

		if !terminal && overallCtx.Err() != nil {
			o.recordOutcome(st.Name(), 0, telemetry.OutcomeSkipped, 0, overallCtx.Err(), &attempts)
			continue
		}

		result, stageErr := o.executeStage(stageCtx, i, st, req, &attempts)
		if stageErr != nil {
			if o.alerts != nil && !resilience.IsCircuitBreakerError(stageErr) {
				o.alerts.HandleError(ctx, stageErr, st.Name(), map[string]interface{}{
					"request_id": requestID,
					"request":    req.Key(),
				})
			}
			continue
		}

		return o.finish(ctx, req, requestID, i, result, attempts, time.Since(start)), nil
	}

	// Unreachable with a valid configuration; the terminal stage never fails
	o.metrics.RecordError("orchestrator", string(errors.ErrorTypeInternal))
	return nil, errors.NewInternalError("all fallback stages failed")
}

// executeStage runs one stage visit through its breaker and retry budget
func (o *Orchestrator) executeStage(ctx context.Context, i int, st stage.Stage, req *stage.Request, attempts *[]AttemptRecord) (*stage.StageResult, error) {
	var span oteltrace.Span
	if o.tracing != nil {
		ctx, span = o.tracing.StartStageSpan(ctx, st.Name())
		defer span.End()
	}

	attempt := 0

	value, err := o.operations[i].Execute(ctx, func(attemptCtx context.Context) (interface{}, error) {
		attempt++

		runCtx := attemptCtx
		if timeout := o.config.Timeouts[i]; timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(attemptCtx, timeout)
			defer cancel()
		}

		attemptStart := time.Now()
		result, execErr := st.Execute(runCtx, req)
		duration := time.Since(attemptStart)

		outcome := telemetry.OutcomeSuccess
		if execErr != nil {
			outcome = telemetry.OutcomeFailure
		}
		o.recordOutcome(st.Name(), attempt, outcome, duration, execErr, attempts)
		if span != nil {
			o.tracing.AddSpanEvent(span, "attempt",
				attribute.Int("attempt", attempt),
				attribute.String("outcome", outcome),
			)
		}

		if execErr != nil {
			return nil, execErr
		}
		return result, nil
	})

	if err != nil {
		outcome := telemetry.OutcomeFailure
		if resilience.IsCircuitBreakerError(err) {
			// The breaker rejected the visit before any attempt ran
			outcome = telemetry.OutcomeRejected
			o.recordOutcome(st.Name(), 0, telemetry.OutcomeRejected, 0, err, attempts)
		}
		if span != nil {
			o.tracing.AddSpanAttributes(span, attribute.String("stage.outcome", outcome))
			o.tracing.RecordError(span, err)
		}
		return nil, err
	}

	result, ok := value.(*stage.StageResult)
	if !ok || result == nil {
		return nil, errors.NewInternalError("stage returned no result")
	}
	if span != nil {
		o.tracing.AddSpanAttributes(span, attribute.String("stage.outcome", telemetry.OutcomeSuccess))
	}
	return result, nil
}

// recordOutcome feeds one attempt outcome to the collector, the Prometheus
// registry, and the per-cascade attempt trail
func (o *Orchestrator) recordOutcome(stageName string, attempt int, outcome string, duration time.Duration, err error, attempts *[]AttemptRecord) {
	record := AttemptRecord{
		Stage:    stageName,
		Attempt:  attempt,
		Outcome:  outcome,
		Duration: duration,
	}

	errorType := ""
	if err != nil {
		record.Error = err.Error()
		errorType = string(errors.GetType(err))
	}
	*attempts = append(*attempts, record)

	if o.collector != nil {
		o.collector.RecordEvaluation(telemetry.Evaluation{
			Stage:     stageName,
			Outcome:   outcome,
			Success:   outcome == telemetry.OutcomeSuccess,
			Duration:  duration,
			ErrorType: errorType,
		})
	}
	o.metrics.RecordStageAttempt(stageName, outcome, duration)
}

// finish assembles the cascade result, schedules cache writeback, and emits
// the cascade telemetry
func (o *Orchestrator) finish(ctx context.Context, req *stage.Request, requestID string, stageIndex int, result *stage.StageResult, attempts []AttemptRecord, elapsed time.Duration) *Result {
	source := result.StageName
	if source == "" {
		source = o.config.Stages[stageIndex].Name()
	}
	degraded := stageIndex > 0

	// Fresh upstream payloads repopulate the cache layers; cached and
	// synthesized answers never do
	if o.writeback != nil && stageIndex != o.config.terminalIndex && !result.Metadata.Cached {
		o.writeback.Enqueue(req, result.Data, source)
	}

	if o.tracing != nil {
		o.tracing.AddSpanAttributes(oteltrace.SpanFromContext(ctx),
			attribute.String("cascade.source", source),
			attribute.Bool("cascade.degraded", degraded),
			attribute.Int("cascade.depth", stageIndex+1),
		)
	}

	o.metrics.RecordCascade(source, degraded, stageIndex+1, elapsed)
	o.logger.LogCascadeEvent(ctx, requestID, source, degraded, elapsed, logrus.Fields{
		"endpoint": req.Endpoint,
		"method":   req.Method,
		"depth":    stageIndex + 1,
		"attempts": len(attempts),
	})

	return &Result{
		RequestID: requestID,
		Data:      result.Data,
		Source:    source,
		Degraded:  degraded,
		Elapsed:   elapsed,
		Attempts:  attempts,
		Metadata:  result.Metadata,
	}
}

// onBreakerStateChange runs inside the breaker's own lock; it must never
// call back into the breaker
func (o *Orchestrator) onBreakerStateChange(name string, from, to resilience.CircuitState) {
	o.metrics.RecordBreakerTransition(name, to.String())
	o.metrics.UpdateBreakerState(name, breakerStateGauge(to))

	o.tracker.Manager().ApplyBreakerState(resilience.CircuitBreakerState{
		StageName:       name,
		State:           to,
		StateName:       to.String(),
		LastStateChange: time.Now(),
	})
	o.metrics.UpdateDegradationLevel(int(o.tracker.Manager().GetCurrentDegradationLevel()))
}

// breakerStateGauge maps a breaker state to its gauge value: 0 closed,
// 1 half-open, 2 open
func breakerStateGauge(state resilience.CircuitState) int {
	switch state {
	case resilience.StateHalfOpen:
		return 1
	case resilience.StateOpen:
		return 2
	default:
		return 0
	}
}

// HealthCheck probes every stage directly. It bypasses the circuit breakers
// so probing never changes their counts or states.
func (o *Orchestrator) HealthCheck(ctx context.Context) map[string]bool {
	results := make(map[string]bool, len(o.config.Stages))
	for _, st := range o.config.Stages {
		results[st.Name()] = st.HealthCheck(ctx)
	}
	return results
}

// RefreshStageHealth probes every stage and folds the outcomes into the
// degradation tracker. Intended for a periodic monitor loop.
func (o *Orchestrator) RefreshStageHealth(ctx context.Context) {
	for _, st := range o.config.Stages {
		probeStart := time.Now()
		healthy := st.HealthCheck(ctx)
		o.tracker.Manager().UpdateStageHealth(st.Name(), healthy, time.Since(probeStart), "")
	}
	o.metrics.UpdateDegradationLevel(int(o.tracker.Manager().GetCurrentDegradationLevel()))
}

// BreakerSnapshots returns a point-in-time snapshot of every stage breaker
// in cascade order
func (o *Orchestrator) BreakerSnapshots() []resilience.CircuitBreakerState {
	snapshots := make([]resilience.CircuitBreakerState, 0, len(o.operations))
	for _, op := range o.operations {
		snapshots = append(snapshots, op.Breaker().Snapshot())
	}
	return snapshots
}

// Stages returns the cascade's stages in priority order
func (o *Orchestrator) Stages() []stage.Stage {
	return o.config.Stages
}

// Collector returns the telemetry collector, which may be nil
func (o *Orchestrator) Collector() *telemetry.Collector {
	return o.collector
}

// Tracker returns the degradation tracker
func (o *Orchestrator) Tracker() *resilience.CascadeDegradationTracker {
	return o.tracker
}

// DegradationStatus reports the current degradation level and per-stage
// health for status surfaces
func (o *Orchestrator) DegradationStatus() map[string]interface{} {
	return o.tracker.Status()
}
