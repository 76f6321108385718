package telemetry

import (
	"sort"
	"sync"
	"time"

	"github.com/NikhilSetiya/fallback-engine/pkg/logging"
)

// Evaluation outcome labels
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
	OutcomeSkipped  = "skipped"
)

// Evaluation is one recorded stage attempt
type Evaluation struct {
	Stage     string        `json:"stage"`
	Outcome   string        `json:"outcome"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration"`
	ErrorType string        `json:"error_type,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Config holds collector tuning
type Config struct {
	HistoryLimit       int     `json:"history_limit"`
	AnomalyLimit       int     `json:"anomaly_limit"`
	TrendLimit         int     `json:"trend_limit"`
	AnomalySensitivity float64 `json:"anomaly_sensitivity"`
	MinSamples         int     `json:"min_samples"`
	TrendWindow        int     `json:"trend_window"`
}

// DefaultConfig returns default collector configuration
func DefaultConfig() *Config {
	return &Config{
		HistoryLimit:       100,
		AnomalyLimit:       50,
		TrendLimit:         50,
		AnomalySensitivity: 0.5,
		MinSamples:         10,
		TrendWindow:        20,
	}
}

// stageState is the mutable per-stage accumulator
type stageState struct {
	name            string
	evaluations     int64
	successes       int64
	failures        int64
	rejected        int64
	avgDurationMs   float64
	durationHistory []float64
	scoreHistory    []float64
	arrivalHistory  []float64
	lastEvaluation  time.Time
	lastError       string
}

// globalState mirrors the per-stage accumulator across all stages
type globalState struct {
	evaluations   int64
	successes     int64
	failures      int64
	rejected      int64
	avgDurationMs float64
}

// StageMetrics is a read-only per-stage snapshot
type StageMetrics struct {
	Name              string    `json:"name"`
	Evaluations       int64     `json:"evaluations"`
	Successes         int64     `json:"successes"`
	Failures          int64     `json:"failures"`
	Rejected          int64     `json:"rejected"`
	SuccessRate       float64   `json:"success_rate"`
	AverageDurationMs float64   `json:"average_duration_ms"`
	DurationHistory   []float64 `json:"duration_history"`
	ScoreHistory      []float64 `json:"score_history"`
	LastEvaluation    time.Time `json:"last_evaluation"`
	LastError         string    `json:"last_error,omitempty"`
}

// GlobalMetrics is the read-only cross-stage snapshot
type GlobalMetrics struct {
	TotalEvaluations  int64   `json:"total_evaluations"`
	TotalSuccesses    int64   `json:"total_successes"`
	TotalFailures     int64   `json:"total_failures"`
	TotalRejected     int64   `json:"total_rejected"`
	SuccessRate       float64 `json:"success_rate"`
	AverageDurationMs float64 `json:"average_duration_ms"`
}

// MetricsSnapshot is a deep copy of all collector state
type MetricsSnapshot struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Uptime      time.Duration           `json:"uptime"`
	Global      GlobalMetrics           `json:"global"`
	Stages      map[string]StageMetrics `json:"stages"`
	Anomalies   []AnomalyEvent          `json:"anomalies"`
	Trends      []Trend                 `json:"trends"`
}

// AnomalyHook receives detected anomalies. It is called outside the
// collector lock, one call per anomaly, on the recording goroutine.
type AnomalyHook func(AnomalyEvent)

// Collector accumulates evaluation metrics for the cascade. It owns all
// metric state; callers record evaluations and read snapshots. Safe for
// concurrent use.
type Collector struct {
	config *Config
	logger *logging.Logger

	mu        sync.RWMutex
	stages    map[string]*stageState
	global    globalState
	anomalies []AnomalyEvent
	trends    []Trend
	startedAt time.Time

	hookMu    sync.RWMutex
	onAnomaly AnomalyHook
}

// NewCollector creates a metrics collector
func NewCollector(config *Config) *Collector {
	if config == nil {
		config = DefaultConfig()
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 100
	}
	if config.AnomalyLimit <= 0 {
		config.AnomalyLimit = 50
	}
	if config.TrendLimit <= 0 {
		config.TrendLimit = 50
	}
	if config.MinSamples <= 0 {
		config.MinSamples = 10
	}
	if config.TrendWindow <= 0 {
		config.TrendWindow = 20
	}
	if config.AnomalySensitivity <= 0 {
		config.AnomalySensitivity = 0.5
	}

	return &Collector{
		config:    config,
		logger:    logging.GetLogger(),
		stages:    make(map[string]*stageState),
		startedAt: time.Now(),
	}
}

// SetAnomalyHook registers the anomaly callback
func (c *Collector) SetAnomalyHook(hook AnomalyHook) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.onAnomaly = hook
}

// RecordEvaluation records one stage attempt and runs anomaly detection
// against the stage's moving baselines
func (c *Collector) RecordEvaluation(eval Evaluation) {
	if eval.Stage == "" {
		return
	}
	if eval.Timestamp.IsZero() {
		eval.Timestamp = time.Now()
	}

	c.mu.Lock()

	state, ok := c.stages[eval.Stage]
	if !ok {
		state = &stageState{name: eval.Stage}
		c.stages[eval.Stage] = state
	}

	detected := c.detectAnomalies(state, eval)

	durationMs := float64(eval.Duration.Nanoseconds()) / 1e6
	score := 0.0
	if eval.Success {
		score = 1.0
	}

	if !state.lastEvaluation.IsZero() {
		arrivalMs := float64(eval.Timestamp.Sub(state.lastEvaluation).Nanoseconds()) / 1e6
		state.arrivalHistory = appendBounded(state.arrivalHistory, arrivalMs, c.config.HistoryLimit)
	}

	state.evaluations++
	switch {
	case eval.Success:
		state.successes++
	case eval.Outcome == OutcomeRejected:
		state.rejected++
	default:
		state.failures++
	}
	state.avgDurationMs += (durationMs - state.avgDurationMs) / float64(state.evaluations)
	state.durationHistory = appendBounded(state.durationHistory, durationMs, c.config.HistoryLimit)
	state.scoreHistory = appendBounded(state.scoreHistory, score, c.config.HistoryLimit)
	state.lastEvaluation = eval.Timestamp
	if eval.ErrorType != "" {
		state.lastError = eval.ErrorType
	}

	c.global.evaluations++
	switch {
	case eval.Success:
		c.global.successes++
	case eval.Outcome == OutcomeRejected:
		c.global.rejected++
	default:
		c.global.failures++
	}
	c.global.avgDurationMs += (durationMs - c.global.avgDurationMs) / float64(c.global.evaluations)

	for _, anomaly := range detected {
		c.anomalies = append(c.anomalies, anomaly)
		if len(c.anomalies) > c.config.AnomalyLimit {
			c.anomalies = c.anomalies[len(c.anomalies)-c.config.AnomalyLimit:]
		}
	}

	c.mu.Unlock()

	if len(detected) > 0 {
		c.hookMu.RLock()
		hook := c.onAnomaly
		c.hookMu.RUnlock()
		if hook != nil {
			for _, anomaly := range detected {
				hook(anomaly)
			}
		}
	}
}

// GetMetrics returns a deep snapshot of all collector state
func (c *Collector) GetMetrics() *MetricsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := &MetricsSnapshot{
		GeneratedAt: time.Now(),
		Uptime:      time.Since(c.startedAt),
		Global: GlobalMetrics{
			TotalEvaluations:  c.global.evaluations,
			TotalSuccesses:    c.global.successes,
			TotalFailures:     c.global.failures,
			TotalRejected:     c.global.rejected,
			SuccessRate:       rate(c.global.successes, c.global.evaluations),
			AverageDurationMs: c.global.avgDurationMs,
		},
		Stages:    make(map[string]StageMetrics, len(c.stages)),
		Anomalies: make([]AnomalyEvent, len(c.anomalies)),
		Trends:    make([]Trend, len(c.trends)),
	}

	for name, state := range c.stages {
		snapshot.Stages[name] = StageMetrics{
			Name:              state.name,
			Evaluations:       state.evaluations,
			Successes:         state.successes,
			Failures:          state.failures,
			Rejected:          state.rejected,
			SuccessRate:       rate(state.successes, state.evaluations),
			AverageDurationMs: state.avgDurationMs,
			DurationHistory:   copyFloats(state.durationHistory),
			ScoreHistory:      copyFloats(state.scoreHistory),
			LastEvaluation:    state.lastEvaluation,
			LastError:         state.lastError,
		}
	}

	copy(snapshot.Anomalies, c.anomalies)
	copy(snapshot.Trends, c.trends)

	return snapshot
}

// StageNames returns all stages that have recorded at least one evaluation
func (c *Collector) StageNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.stages))
	for name := range c.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset drops all accumulated state. Intended for tests.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stages = make(map[string]*stageState)
	c.global = globalState{}
	c.anomalies = nil
	c.trends = nil
	c.startedAt = time.Now()
}

func appendBounded(history []float64, value float64, limit int) []float64 {
	history = append(history, value)
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

func copyFloats(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	return out
}

func rate(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
