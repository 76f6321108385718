package api

import (
	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/fallback-engine/internal/cache"
	"github.com/NikhilSetiya/fallback-engine/internal/engine"
	"github.com/NikhilSetiya/fallback-engine/pkg/config"
	"github.com/NikhilSetiya/fallback-engine/pkg/health"
	"github.com/NikhilSetiya/fallback-engine/pkg/logging"
	"github.com/NikhilSetiya/fallback-engine/pkg/metrics"
	"github.com/NikhilSetiya/fallback-engine/pkg/tracing"
)

// NewRouter creates and configures the gateway router
func NewRouter(cfg *config.Config, orch *engine.Orchestrator, healthSvc *health.Service, payloads *cache.PayloadCache, m *metrics.Metrics, tracer *tracing.TracingService, logger *logging.Logger) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(logger))
	router.Use(RecoveryMiddleware(logger, m))
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))
	if m != nil {
		router.Use(m.PrometheusMiddleware())
	}
	if tracer != nil {
		router.Use(tracer.TracingMiddleware())
	}

	if healthSvc != nil {
		router.GET("/health", healthSvc.Handler())
		router.GET("/health/live", healthSvc.LivenessHandler())
		router.GET("/health/ready", healthSvc.ReadinessHandler())
	}

	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	executeHandler := NewExecuteHandler(orch, logger)
	obsHandler := NewObservabilityHandler(orch, payloads, logger)

	v1 := router.Group("/api/v1")
	{
		v1.GET("", func(c *gin.Context) {
			SuccessResponse(c, map[string]interface{}{
				"name":    "Fallback Engine API",
				"version": "1.0.0",
				"status":  "ok",
			})
		})

		v1.POST("/execute", executeHandler.Execute)

		v1.GET("/metrics", obsHandler.GetMetrics)
		v1.GET("/metrics/exposition", obsHandler.GetExposition)
		v1.GET("/dashboard", obsHandler.GetDashboard)

		resilienceGroup := v1.Group("/resilience")
		{
			resilienceGroup.GET("/breakers", obsHandler.GetBreakers)
			resilienceGroup.GET("/degradation", obsHandler.GetDegradation)
			resilienceGroup.GET("/stages", obsHandler.GetStageHealth)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		NotFoundResponse(c, "Endpoint not found")
	})

	return router
}
