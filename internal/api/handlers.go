package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/fallback-engine/internal/cache"
	"github.com/NikhilSetiya/fallback-engine/internal/engine"
	"github.com/NikhilSetiya/fallback-engine/internal/telemetry"
	"github.com/NikhilSetiya/fallback-engine/pkg/logging"
)

const expositionContentType = "text/plain; version=0.0.4; charset=utf-8"

// ExecuteHandler serves cascade execution requests
type ExecuteHandler struct {
	engine *engine.Orchestrator
	logger *logging.Logger
}

// NewExecuteHandler creates a new execute handler
func NewExecuteHandler(orch *engine.Orchestrator, logger *logging.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		engine: orch,
		logger: logger,
	}
}

// Execute runs one request through the fallback cascade. The body is the
// polymorphic request form: a bare endpoint string or a structured object
// with endpoint/method/data/params.
func (h *ExecuteHandler) Execute(c *gin.Context) {
	var input interface{}
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequestResponse(c, "request body must be valid JSON")
		return
	}

	result, err := h.engine.Execute(c.Request.Context(), input)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, result)
}

// ObservabilityHandler serves the engine's metrics, dashboard and
// resilience-state endpoints
type ObservabilityHandler struct {
	engine   *engine.Orchestrator
	payloads *cache.PayloadCache
	logger   *logging.Logger
}

// NewObservabilityHandler creates a new observability handler. payloads may
// be nil, in which case dashboard responses are rendered fresh per request.
func NewObservabilityHandler(orch *engine.Orchestrator, payloads *cache.PayloadCache, logger *logging.Logger) *ObservabilityHandler {
	return &ObservabilityHandler{
		engine:   orch,
		payloads: payloads,
		logger:   logger,
	}
}

// GetMetrics returns the collector's full metrics snapshot
func (h *ObservabilityHandler) GetMetrics(c *gin.Context) {
	SuccessResponse(c, h.engine.Collector().GetMetrics())
}

// GetExposition returns the collector's metrics in Prometheus text format
func (h *ObservabilityHandler) GetExposition(c *gin.Context) {
	c.Data(http.StatusOK, expositionContentType, []byte(h.engine.Collector().Exposition()))
}

// dashboardView decorates the summary document with live degradation state.
// Degradation is derived from current breaker snapshots and is attached fresh
// on every response, cache hit or not.
type dashboardView struct {
	*telemetry.Dashboard
	Degradation map[string]interface{} `json:"degradation"`
}

// GetDashboard returns the dashboard summary document. The rendered document
// is cached briefly in Redis so polling dashboards read a shared snapshot
// instead of recomputing trends per request.
func (h *ObservabilityHandler) GetDashboard(c *gin.Context) {
	ctx := c.Request.Context()

	if h.payloads != nil {
		var cached telemetry.Dashboard
		if err := h.payloads.GetDashboardSummary(ctx, &cached); err == nil {
			c.Header("X-Cache", "hit")
			SuccessResponse(c, dashboardView{Dashboard: &cached, Degradation: h.engine.DegradationStatus()})
			return
		}
	}

	summary := h.engine.Collector().DashboardSummary()

	if h.payloads != nil {
		if err := h.payloads.SetDashboardSummary(ctx, summary); err != nil {
			h.logger.WithContext(ctx).WithError(err).Debug("Failed to cache dashboard summary")
		}
	}

	c.Header("X-Cache", "miss")
	SuccessResponse(c, dashboardView{Dashboard: summary, Degradation: h.engine.DegradationStatus()})
}

// GetBreakers returns the current circuit breaker snapshot for every stage
func (h *ObservabilityHandler) GetBreakers(c *gin.Context) {
	SuccessResponse(c, map[string]interface{}{
		"breakers": h.engine.BreakerSnapshots(),
	})
}

// GetDegradation returns the cascade degradation status
func (h *ObservabilityHandler) GetDegradation(c *gin.Context) {
	SuccessResponse(c, h.engine.DegradationStatus())
}

// GetStageHealth probes every stage and reports per-stage health. Probes are
// read-only and leave breaker state untouched.
func (h *ObservabilityHandler) GetStageHealth(c *gin.Context) {
	SuccessResponse(c, map[string]interface{}{
		"stages": h.engine.HealthCheck(c.Request.Context()),
	})
}
