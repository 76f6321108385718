package metrics

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Cascade metrics
	StageAttemptsTotal   *prometheus.CounterVec
	StageAttemptDuration *prometheus.HistogramVec
	CascadesTotal        *prometheus.CounterVec
	CascadeDuration      *prometheus.HistogramVec
	CascadeDepth         *prometheus.HistogramVec

	// Resilience metrics
	BreakerState            *prometheus.GaugeVec
	BreakerTransitionsTotal *prometheus.CounterVec
	DegradationLevel        prometheus.Gauge

	// Cache metrics
	CacheOperationsTotal  *prometheus.CounterVec
	WritebackDroppedTotal *prometheus.CounterVec
	WritebackQueueDepth   prometheus.Gauge
	RedisConnections      *prometheus.GaugeVec

	// Telemetry metrics
	AnomaliesTotal *prometheus.CounterVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "fallback",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
			[]string{"method", "path"},
		),

		// Cascade metrics
		StageAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "stage_attempts_total",
				Help:      "Total number of stage attempts by outcome",
			},
			[]string{"stage", "outcome"},
		),
		StageAttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "stage_attempt_duration_seconds",
				Help:      "Stage attempt duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"stage", "outcome"},
		),
		CascadesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cascades_total",
				Help:      "Total number of completed cascades by winning source",
			},
			[]string{"source", "degraded"},
		),
		CascadeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cascade_duration_seconds",
				Help:      "End to end cascade duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		CascadeDepth: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cascade_depth",
				Help:      "Number of stages visited before a cascade was served",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
			[]string{"source"},
		),

		// Resilience metrics
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_state",
				Help:      "Circuit breaker state per stage (0=closed, 1=half-open, 2=open)",
			},
			[]string{"stage"},
		),
		BreakerTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"stage", "to"},
		),
		DegradationLevel: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "degradation_level",
				Help:      "Current system degradation level (0=normal, 3=critical)",
			},
		),

		// Cache metrics
		CacheOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cache_operations_total",
				Help:      "Total number of cache operations by result",
			},
			[]string{"cache", "operation", "status"},
		),
		WritebackDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "writeback_dropped_total",
				Help:      "Total number of cache writeback jobs dropped due to a full queue",
			},
			[]string{"cache"},
		),
		WritebackQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "writeback_queue_depth",
				Help:      "Cache writeback jobs currently waiting in the queue",
			},
		),
		RedisConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "redis_connections",
				Help:      "Redis connection pool state",
			},
			[]string{"state"},
		),

		// Telemetry metrics
		AnomaliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "anomalies_total",
				Help:      "Total number of detected metric anomalies",
			},
			[]string{"type", "severity"},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "errors_total",
				Help:      "Total number of errors by component and type",
			},
			[]string{"component", "error_type"},
		),
		PanicsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "panics_total",
				Help:      "Total number of recovered panics",
			},
			[]string{"component"},
		),
	}

	// Register all metrics
	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.StageAttemptsTotal,
		m.StageAttemptDuration,
		m.CascadesTotal,
		m.CascadeDuration,
		m.CascadeDepth,
		m.BreakerState,
		m.BreakerTransitionsTotal,
		m.DegradationLevel,
		m.CacheOperationsTotal,
		m.WritebackDroppedTotal,
		m.WritebackQueueDepth,
		m.RedisConnections,
		m.AnomaliesTotal,
		m.ErrorsTotal,
		m.PanicsTotal,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// RecordStageAttempt records one stage attempt outcome
func (m *Metrics) RecordStageAttempt(stage, outcome string, duration time.Duration) {
	if m.StageAttemptsTotal == nil {
		return
	}

	m.StageAttemptsTotal.WithLabelValues(stage, outcome).Inc()
	m.StageAttemptDuration.WithLabelValues(stage, outcome).Observe(duration.Seconds())
}

// RecordCascade records a completed cascade
func (m *Metrics) RecordCascade(source string, degraded bool, depth int, duration time.Duration) {
	if m.CascadesTotal == nil {
		return
	}

	m.CascadesTotal.WithLabelValues(source, strconv.FormatBool(degraded)).Inc()
	m.CascadeDuration.WithLabelValues(source).Observe(duration.Seconds())
	m.CascadeDepth.WithLabelValues(source).Observe(float64(depth))
}

// UpdateBreakerState sets the breaker state gauge for a stage
func (m *Metrics) UpdateBreakerState(stage string, state int) {
	if m.BreakerState == nil {
		return
	}
	m.BreakerState.WithLabelValues(stage).Set(float64(state))
}

// RecordBreakerTransition records a breaker state change
func (m *Metrics) RecordBreakerTransition(stage, to string) {
	if m.BreakerTransitionsTotal == nil {
		return
	}
	m.BreakerTransitionsTotal.WithLabelValues(stage, to).Inc()
}

// UpdateDegradationLevel sets the system degradation level gauge
func (m *Metrics) UpdateDegradationLevel(level int) {
	if m.DegradationLevel == nil {
		return
	}
	m.DegradationLevel.Set(float64(level))
}

// RecordCacheOperation records a cache read or write result
func (m *Metrics) RecordCacheOperation(cache, operation, status string) {
	if m.CacheOperationsTotal == nil {
		return
	}
	m.CacheOperationsTotal.WithLabelValues(cache, operation, status).Inc()
}

// RecordWritebackDrop records a writeback job dropped because the queue was full
func (m *Metrics) RecordWritebackDrop(cache string) {
	if m.WritebackDroppedTotal == nil {
		return
	}
	m.WritebackDroppedTotal.WithLabelValues(cache).Inc()
}

// UpdateWritebackQueueDepth sets the writeback queue depth gauge
func (m *Metrics) UpdateWritebackQueueDepth(depth int) {
	if m.WritebackQueueDepth == nil {
		return
	}
	m.WritebackQueueDepth.Set(float64(depth))
}

// UpdateRedisConnections updates Redis connection pool gauges
func (m *Metrics) UpdateRedisConnections(total, idle, stale int) {
	if m.RedisConnections == nil {
		return
	}

	m.RedisConnections.WithLabelValues("total").Set(float64(total))
	m.RedisConnections.WithLabelValues("idle").Set(float64(idle))
	m.RedisConnections.WithLabelValues("stale").Set(float64(stale))
}

// RecordAnomaly records a detected metric anomaly
func (m *Metrics) RecordAnomaly(anomalyType, severity string) {
	if m.AnomaliesTotal == nil {
		return
	}
	m.AnomaliesTotal.WithLabelValues(anomalyType, severity).Inc()
}

// RecordError records an error occurrence
func (m *Metrics) RecordError(component, errorType string) {
	if m.ErrorsTotal == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordPanic records a recovered panic
func (m *Metrics) RecordPanic(component string) {
	if m.PanicsTotal == nil {
		return
	}
	m.PanicsTotal.WithLabelValues(component).Inc()
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.HTTPRequestsInFlight != nil {
			m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Inc()
			defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Dec()
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// SampleFunc reads gauge values from a live component into the metrics
type SampleFunc func(*Metrics)

// Sampler periodically refreshes gauge metrics that mirror live component
// state, such as Redis pool counters and breaker states
type Sampler struct {
	metrics  *Metrics
	interval time.Duration

	mu      sync.RWMutex
	sources []SampleFunc

	stopCh chan struct{}
}

// NewSampler creates a new gauge sampler
func NewSampler(metrics *Metrics, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sampler{
		metrics:  metrics,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// AddSource registers a sampling function
func (s *Sampler) AddSource(source SampleFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = append(s.sources, source)
}

// Start begins periodic sampling until the context ends or Stop is called
func (s *Sampler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

// Stop stops periodic sampling
func (s *Sampler) Stop() {
	close(s.stopCh)
}

func (s *Sampler) sample() {
	s.mu.RLock()
	sources := make([]SampleFunc, len(s.sources))
	copy(sources, s.sources)
	s.mu.RUnlock()

	for _, source := range sources {
		source(s.metrics)
	}
}
