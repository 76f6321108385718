package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/fallback-engine/internal/stage"
	"github.com/NikhilSetiya/fallback-engine/internal/telemetry"
	"github.com/NikhilSetiya/fallback-engine/pkg/config"
	apperrors "github.com/NikhilSetiya/fallback-engine/pkg/errors"
	"github.com/NikhilSetiya/fallback-engine/pkg/logging"
	"github.com/NikhilSetiya/fallback-engine/pkg/resilience"
)

type stubStage struct {
	name     string
	priority int
	timeout  time.Duration
	retries  int
	healthy  bool
	data     interface{}

	mu      sync.Mutex
	calls   int
	failErr error
	fn      func(ctx context.Context, req *stage.Request) (*stage.StageResult, error)
}

func (s *stubStage) Name() string           { return s.name }
func (s *stubStage) Priority() int          { return s.priority }
func (s *stubStage) Timeout() time.Duration { return s.timeout }
func (s *stubStage) RetryCount() int        { return s.retries }

func (s *stubStage) HealthCheck(ctx context.Context) bool { return s.healthy }

func (s *stubStage) Execute(ctx context.Context, req *stage.Request) (*stage.StageResult, error) {
	s.mu.Lock()
	s.calls++
	failErr := s.failErr
	fn := s.fn
	data := s.data
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	if failErr != nil {
		return &stage.StageResult{StageName: s.name, Err: failErr}, failErr
	}
	return &stage.StageResult{Success: true, Data: data, StageName: s.name}, nil
}

func (s *stubStage) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubStage) SetFailure(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()
}

func (s *stubStage) SetData(data interface{}) {
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
}

type terminalStub struct {
	*stubStage
}

func (s *terminalStub) Terminal() bool { return true }

func newStub(name string, priority int, data interface{}) *stubStage {
	return &stubStage{name: name, priority: priority, healthy: true, data: data}
}

func newFailingStub(name string, priority, retries int, err error) *stubStage {
	s := newStub(name, priority, nil)
	s.retries = retries
	s.failErr = err
	return s
}

func newTerminalStub(priority int) *terminalStub {
	return &terminalStub{stubStage: newStub(stage.NameStaticDefault, priority, map[string]interface{}{
		"status":   "fallback",
		"fallback": true,
	})}
}

func buildOrchestrator(t *testing.T, deps Dependencies, stages ...stage.Stage) *Orchestrator {
	t.Helper()

	thresholds := make([]int, len(stages))
	cooldowns := make([]time.Duration, len(stages))
	for i := range stages {
		thresholds[i] = 3
		cooldowns[i] = 50 * time.Millisecond
	}

	cfg := NewConfiguration(stages, thresholds, cooldowns)
	cfg.RetryInitialDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond

	if deps.Collector == nil {
		deps.Collector = telemetry.NewCollector(telemetry.DefaultConfig())
	}

	o, err := NewOrchestrator(cfg, deps)
	require.NoError(t, err)
	return o
}

func newTestOrchestrator(t *testing.T, stages ...stage.Stage) *Orchestrator {
	return buildOrchestrator(t, Dependencies{}, stages...)
}

func outcomesByStage(attempts []AttemptRecord) map[string][]string {
	out := make(map[string][]string)
	for _, a := range attempts {
		out[a.Stage] = append(out[a.Stage], a.Outcome)
	}
	return out
}

func TestOrchestrator_PrimaryServesDirectly(t *testing.T) {
	primary := newStub(stage.NamePrimaryAPI, 1, map[string]interface{}{"id": "1", "name": "Widget"})
	terminal := newTerminalStub(5)
	o := newTestOrchestrator(t, primary, terminal)

	result, err := o.Execute(context.Background(), "/products/1")
	require.NoError(t, err)

	assert.Equal(t, stage.NamePrimaryAPI, result.Source)
	assert.False(t, result.Degraded)
	assert.Equal(t, map[string]interface{}{"id": "1", "name": "Widget"}, result.Data)
	assert.NotEmpty(t, result.RequestID)

	require.Len(t, result.Attempts, 1)
	assert.Equal(t, telemetry.OutcomeSuccess, result.Attempts[0].Outcome)
	assert.Equal(t, 1, result.Attempts[0].Attempt)

	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, 0, terminal.Calls())
}

func TestOrchestrator_FallsThroughToNextStage(t *testing.T) {
	primary := newFailingStub(stage.NamePrimaryAPI, 1, 0, apperrors.NewExternalError("primary-api", "upstream unavailable"))
	secondary := newStub(stage.NameSecondaryAPI, 2, map[string]interface{}{"id": "7"})
	terminal := newTerminalStub(5)
	o := newTestOrchestrator(t, primary, secondary, terminal)

	result, err := o.Execute(context.Background(), "/users/7")
	require.NoError(t, err)

	assert.Equal(t, stage.NameSecondaryAPI, result.Source)
	assert.True(t, result.Degraded)

	outcomes := outcomesByStage(result.Attempts)
	assert.Equal(t, []string{telemetry.OutcomeFailure}, outcomes[stage.NamePrimaryAPI])
	assert.Equal(t, []string{telemetry.OutcomeSuccess}, outcomes[stage.NameSecondaryAPI])
	assert.Equal(t, 0, terminal.Calls())
}

func TestOrchestrator_AnswersWhenEveryProviderFails(t *testing.T) {
	primary := newFailingStub(stage.NamePrimaryAPI, 1, 0, apperrors.NewExternalError("primary-api", "down"))
	secondary := newFailingStub(stage.NameSecondaryAPI, 2, 0, apperrors.NewExternalError("secondary-api", "down"))
	memory := newFailingStub(stage.NameMemoryCache, 3, 0, apperrors.NewNotFoundError("cached payload"))
	redis := newFailingStub(stage.NameRedisCache, 4, 0, apperrors.NewExternalError("redis", "connection refused"))
	terminal := newTerminalStub(5)
	o := newTestOrchestrator(t, primary, secondary, memory, redis, terminal)

	result, err := o.Execute(context.Background(), "/users/42")
	require.NoError(t, err)

	assert.Equal(t, stage.NameStaticDefault, result.Source)
	assert.True(t, result.Degraded)
	assert.NotNil(t, result.Data)
	assert.Len(t, result.Attempts, 5)
	assert.Equal(t, telemetry.OutcomeSuccess, result.Attempts[len(result.Attempts)-1].Outcome)
}

func TestOrchestrator_RetryBudgetPerStage(t *testing.T) {
	primary := newFailingStub(stage.NamePrimaryAPI, 1, 2, apperrors.NewExternalError("primary-api", "flaky"))
	terminal := newTerminalStub(5)
	o := newTestOrchestrator(t, primary, terminal)

	result, err := o.Execute(context.Background(), "/orders")
	require.NoError(t, err)

	assert.Equal(t, 3, primary.Calls())
	assert.Equal(t, stage.NameStaticDefault, result.Source)

	outcomes := outcomesByStage(result.Attempts)
	assert.Equal(t, []string{
		telemetry.OutcomeFailure,
		telemetry.OutcomeFailure,
		telemetry.OutcomeFailure,
	}, outcomes[stage.NamePrimaryAPI])
}

func TestOrchestrator_NonRetryableErrorStopsRetrying(t *testing.T) {
	primary := newFailingStub(stage.NamePrimaryAPI, 1, 3, apperrors.NewValidationError("bad request"))
	terminal := newTerminalStub(5)
	o := newTestOrchestrator(t, primary, terminal)

	_, err := o.Execute(context.Background(), "/users/1")
	require.NoError(t, err)

	assert.Equal(t, 1, primary.Calls())
}

func TestOrchestrator_BreakerOpensAfterThreshold(t *testing.T) {
	primary := newFailingStub(stage.NamePrimaryAPI, 1, 0, apperrors.NewExternalError("primary-api", "down"))
	terminal := newTerminalStub(5)
	o := newTestOrchestrator(t, primary, terminal)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := o.Execute(ctx, "/users/1")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, primary.Calls())

	snapshots := o.BreakerSnapshots()
	require.NotEmpty(t, snapshots)
	assert.Equal(t, "OPEN", snapshots[0].StateName)

	// The fourth cascade must not reach the stage at all
	result, err := o.Execute(ctx, "/users/1")
	require.NoError(t, err)
	assert.Equal(t, 3, primary.Calls())

	outcomes := outcomesByStage(result.Attempts)
	assert.Equal(t, []string{telemetry.OutcomeRejected}, outcomes[stage.NamePrimaryAPI])
	assert.Equal(t, stage.NameStaticDefault, result.Source)
}

func TestOrchestrator_BreakerRecoversAfterCooldown(t *testing.T) {
	primary := newFailingStub(stage.NamePrimaryAPI, 1, 0, apperrors.NewExternalError("primary-api", "down"))
	terminal := newTerminalStub(5)
	o := newTestOrchestrator(t, primary, terminal)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := o.Execute(ctx, "/users/1")
		require.NoError(t, err)
	}
	require.Equal(t, "OPEN", o.BreakerSnapshots()[0].StateName)

	primary.SetFailure(nil)
	primary.SetData(map[string]interface{}{"id": "1"})

	time.Sleep(60 * time.Millisecond)

	result, err := o.Execute(ctx, "/users/1")
	require.NoError(t, err)

	assert.Equal(t, stage.NamePrimaryAPI, result.Source)
	assert.False(t, result.Degraded)
	assert.Equal(t, 4, primary.Calls())
	assert.Equal(t, "CLOSED", o.BreakerSnapshots()[0].StateName)
}

func TestOrchestrator_HealthCheckLeavesBreakersUntouched(t *testing.T) {
	primary := newFailingStub(stage.NamePrimaryAPI, 1, 0, apperrors.NewExternalError("primary-api", "down"))
	primary.healthy = false
	terminal := newTerminalStub(5)
	o := newTestOrchestrator(t, primary, terminal)

	_, err := o.Execute(context.Background(), "/users/1")
	require.NoError(t, err)

	before := o.BreakerSnapshots()
	calls := primary.Calls()

	for i := 0; i < 5; i++ {
		health := o.HealthCheck(context.Background())
		assert.False(t, health[stage.NamePrimaryAPI])
		assert.True(t, health[stage.NameStaticDefault])
	}

	after := o.BreakerSnapshots()
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].StateName, after[i].StateName)
		assert.Equal(t, before[i].ConsecutiveFailures, after[i].ConsecutiveFailures)
	}
	assert.Equal(t, calls, primary.Calls())
}

func TestOrchestrator_OverallTimeoutSkipsToTerminal(t *testing.T) {
	primary := newStub(stage.NamePrimaryAPI, 1, nil)
	primary.fn = func(ctx context.Context, req *stage.Request) (*stage.StageResult, error) {
		select {
		case <-time.After(time.Second):
			return &stage.StageResult{Success: true, StageName: stage.NamePrimaryAPI}, nil
		case <-ctx.Done():
			err := apperrors.NewTimeoutError("primary-api request")
			return &stage.StageResult{StageName: stage.NamePrimaryAPI, Err: err}, err
		}
	}
	secondary := newStub(stage.NameSecondaryAPI, 2, map[string]interface{}{"id": "9"})
	terminal := newTerminalStub(5)

	thresholds := []int{3, 3, 3}
	cooldowns := []time.Duration{time.Second, time.Second, time.Second}
	cfg := NewConfiguration([]stage.Stage{primary, secondary, terminal}, thresholds, cooldowns)
	cfg.RetryInitialDelay = time.Millisecond
	cfg.OverallTimeout = 20 * time.Millisecond

	o, err := NewOrchestrator(cfg, Dependencies{Collector: telemetry.NewCollector(telemetry.DefaultConfig())})
	require.NoError(t, err)

	result, err := o.Execute(context.Background(), "/users/1")
	require.NoError(t, err)

	assert.Equal(t, stage.NameStaticDefault, result.Source)
	assert.True(t, result.Degraded)

	outcomes := outcomesByStage(result.Attempts)
	assert.Contains(t, outcomes[stage.NameSecondaryAPI], telemetry.OutcomeSkipped)
	assert.Equal(t, 0, secondary.Calls())
	assert.Equal(t, 1, terminal.Calls())
}

func TestOrchestrator_WritebackRepopulatesMemoryCache(t *testing.T) {
	logger := logging.GetLogger()
	memory, err := stage.NewMemoryCacheStage(16, time.Minute, 2, logger)
	require.NoError(t, err)

	primary := newStub(stage.NamePrimaryAPI, 1, map[string]interface{}{"id": "3", "name": "Gadget"})
	terminal := newTerminalStub(5)

	pool := NewWritebackPool(memory, nil, DefaultWritebackConfig(), nil)
	require.NoError(t, pool.Start())
	defer pool.Stop()

	o := buildOrchestrator(t, Dependencies{Writeback: pool}, primary, memory, terminal)

	result, err := o.Execute(context.Background(), "/products/3")
	require.NoError(t, err)
	require.Equal(t, stage.NamePrimaryAPI, result.Source)

	require.Eventually(t, func() bool { return memory.Len() == 1 }, time.Second, 5*time.Millisecond)

	// With the upstream gone the cascade lands on the cached copy
	primary.SetFailure(apperrors.NewExternalError("primary-api", "down"))

	cached, err := o.Execute(context.Background(), "/products/3")
	require.NoError(t, err)
	assert.Equal(t, stage.NameMemoryCache, cached.Source)
	assert.True(t, cached.Degraded)
	assert.True(t, cached.Metadata.Cached)
	assert.Equal(t, map[string]interface{}{"id": "3", "name": "Gadget"}, cached.Data)

	// Cached answers are not written back again
	assert.Equal(t, int64(1), pool.Stats().Enqueued)
}

func TestOrchestrator_StaticDefaultSynthesizesEntity(t *testing.T) {
	primary := newFailingStub(stage.NamePrimaryAPI, 1, 0, apperrors.NewExternalError("primary-api", "down"))
	static := stage.NewStaticDefaultStage(&config.StaticConfig{SmartDefaults: true}, 5, logging.GetLogger())

	o := newTestOrchestrator(t, primary, static)

	result, execErr := o.Execute(context.Background(), "/users/42")
	require.NoError(t, execErr)

	assert.Equal(t, stage.NameStaticDefault, result.Source)
	assert.True(t, result.Degraded)

	payload, ok := result.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "42", payload["id"])
	assert.Equal(t, "fallback", payload["status"])
}

func TestOrchestrator_InvalidRequestReturnsValidationError(t *testing.T) {
	primary := newStub(stage.NamePrimaryAPI, 1, nil)
	terminal := newTerminalStub(5)
	o := newTestOrchestrator(t, primary, terminal)

	result, err := o.Execute(context.Background(), 42)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	assert.Equal(t, 0, primary.Calls())
}

func TestOrchestrator_CollectorSeesEveryAttempt(t *testing.T) {
	collector := telemetry.NewCollector(telemetry.DefaultConfig())
	primary := newStub(stage.NamePrimaryAPI, 1, map[string]interface{}{"ok": true})
	terminal := newTerminalStub(5)
	o := buildOrchestrator(t, Dependencies{Collector: collector}, primary, terminal)

	const cascades = 12
	for i := 0; i < cascades; i++ {
		_, err := o.Execute(context.Background(), "/users/1")
		require.NoError(t, err)
	}

	snapshot := collector.GetMetrics()
	stageMetrics, ok := snapshot.Stages[stage.NamePrimaryAPI]
	require.True(t, ok)
	assert.Equal(t, int64(cascades), stageMetrics.Evaluations)
	assert.Equal(t, int64(cascades), stageMetrics.Successes)
	assert.Equal(t, int64(cascades), snapshot.Global.TotalEvaluations)
}

func TestOrchestrator_FailedVisitsRaiseAlerts(t *testing.T) {
	handler := &captureHandler{}
	manager := resilience.NewAlertManager()
	manager.AddHandler(handler)

	primary := newFailingStub(stage.NamePrimaryAPI, 1, 0, apperrors.NewExternalError("primary-api", "down"))
	terminal := newTerminalStub(5)
	o := buildOrchestrator(t, Dependencies{Alerts: resilience.NewStageAlertGenerator(manager)}, primary, terminal)

	_, err := o.Execute(context.Background(), "/users/1")
	require.NoError(t, err)

	alerts := handler.Alerts()
	require.NotEmpty(t, alerts)
	assert.Equal(t, stage.NamePrimaryAPI, alerts[0].Source)
}

func TestOrchestrator_RequestIDFlowsFromContext(t *testing.T) {
	primary := newStub(stage.NamePrimaryAPI, 1, nil)
	terminal := newTerminalStub(5)
	o := newTestOrchestrator(t, primary, terminal)

	ctx := logging.WithRequestID(context.Background(), "req-123")
	result, err := o.Execute(ctx, "/users/1")
	require.NoError(t, err)
	assert.Equal(t, "req-123", result.RequestID)
}

func TestOrchestrator_RefreshStageHealthUpdatesTracker(t *testing.T) {
	primary := newStub(stage.NamePrimaryAPI, 1, nil)
	primary.healthy = false
	terminal := newTerminalStub(5)
	o := newTestOrchestrator(t, primary, terminal)

	// The tracker treats a stage as down only after repeated failed probes
	for i := 0; i < 3; i++ {
		o.RefreshStageHealth(context.Background())
	}

	assert.False(t, o.Tracker().Manager().IsStageHealthy(stage.NamePrimaryAPI))
	assert.Equal(t, stage.NameStaticDefault, o.Tracker().ExpectedSource())

	status := o.DegradationStatus()
	assert.Contains(t, status["unhealthy_stages"], stage.NamePrimaryAPI)
}

type captureHandler struct {
	mu     sync.Mutex
	alerts []resilience.Alert
}

func (h *captureHandler) HandleAlert(ctx context.Context, alert resilience.Alert) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alerts = append(h.alerts, alert)
	return nil
}

func (h *captureHandler) Name() string { return "capture" }

func (h *captureHandler) Alerts() []resilience.Alert {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]resilience.Alert(nil), h.alerts...)
}
