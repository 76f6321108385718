package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/NikhilSetiya/fallback-engine/internal/api"
	"github.com/NikhilSetiya/fallback-engine/internal/cache"
	"github.com/NikhilSetiya/fallback-engine/internal/engine"
	"github.com/NikhilSetiya/fallback-engine/internal/telemetry"
	"github.com/NikhilSetiya/fallback-engine/pkg/config"
	"github.com/NikhilSetiya/fallback-engine/pkg/health"
	"github.com/NikhilSetiya/fallback-engine/pkg/logging"
	"github.com/NikhilSetiya/fallback-engine/pkg/metrics"
	"github.com/NikhilSetiya/fallback-engine/pkg/resilience"
	"github.com/NikhilSetiya/fallback-engine/pkg/tracing"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "fallback-engine",
		Version:     "1.0.0",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	tracer, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    "fallback-engine",
		ServiceVersion: "1.0.0",
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	m := metrics.NewMetrics(metrics.DefaultConfig())

	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Health(ctx); err != nil {
		log.Fatalf("Redis health check failed: %v", err)
	}
	cancel()

	log.Println("Redis connection established")

	cacheConfig := cache.DefaultConfig()
	if cfg.Cache.RedisTTL > 0 {
		cacheConfig.PayloadTTL = cfg.Cache.RedisTTL
	}
	if cfg.Telemetry.DashboardCacheTTL > 0 {
		cacheConfig.DashboardTTL = cfg.Telemetry.DashboardCacheTTL
	}
	cacheService := cache.NewService(redisClient, cacheConfig)
	payloads := cache.NewPayloadCache(cacheService)

	stageSet, err := engine.BuildStageSet(cfg, payloads, redisClient, logger)
	if err != nil {
		log.Fatalf("Failed to build cascade stages: %v", err)
	}

	collector := telemetry.NewCollector(&telemetry.Config{
		HistoryLimit:       cfg.Telemetry.HistoryLimit,
		AnomalyLimit:       cfg.Telemetry.AnomalyLimit,
		TrendLimit:         cfg.Telemetry.TrendLimit,
		AnomalySensitivity: cfg.Telemetry.AnomalySensitivity,
		MinSamples:         cfg.Telemetry.MinSamples,
		TrendWindow:        cfg.Telemetry.TrendWindow,
	})

	alertManager := resilience.NewAlertManager()
	alertManager.AddHandler(resilience.NewLoggingAlertHandler())
	alertGenerator := resilience.NewStageAlertGenerator(alertManager)

	writeback := engine.NewWritebackPool(stageSet.Memory, stageSet.Redis, engine.WritebackConfig{
		QueueLen: cfg.Cache.WritebackQueueLen,
		Workers:  cfg.Cache.WritebackWorkers,
	}, m)
	if err := writeback.Start(); err != nil {
		log.Fatalf("Failed to start writeback pool: %v", err)
	}

	orch, err := engine.NewOrchestrator(stageSet.Configuration(cfg), engine.Dependencies{
		Collector: collector,
		Metrics:   m,
		Writeback: writeback,
		Alerts:    alertGenerator,
		Tracing:   tracer,
	})
	if err != nil {
		log.Fatalf("Failed to build orchestrator: %v", err)
	}

	collector.SetAnomalyHook(func(event telemetry.AnomalyEvent) {
		m.RecordAnomaly(event.Type, event.Severity)
		alertGenerator.HandleAnomaly(context.Background(), event.Type, event.Severity,
			event.Description, event.Stage, event.Value, event.Threshold)
	})

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	healthMonitor := resilience.NewSystemHealthMonitor(alertManager, orch.Tracker().Manager())
	healthMonitor.Start(rootCtx)

	trendMonitor := telemetry.NewTrendMonitor(collector, cfg.Telemetry.TrendInterval)
	go trendMonitor.Start(rootCtx)

	sampler := metrics.NewSampler(m, 15*time.Second)
	sampler.AddSource(func(m *metrics.Metrics) {
		stats := redisClient.Stats()
		m.UpdateRedisConnections(int(stats.TotalConns), int(stats.IdleConns), int(stats.StaleConns))
	})
	sampler.AddSource(func(m *metrics.Metrics) {
		for _, snapshot := range orch.BreakerSnapshots() {
			m.UpdateBreakerState(snapshot.StageName, breakerGaugeValue(snapshot.State))
		}
	})
	sampler.AddSource(func(m *metrics.Metrics) {
		m.UpdateWritebackQueueDepth(writeback.Depth())
	})
	go sampler.Start(rootCtx)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				probeCtx, probeCancel := context.WithTimeout(rootCtx, 10*time.Second)
				orch.RefreshStageHealth(probeCtx)
				probeCancel()
			}
		}
	}()

	healthSvc := health.NewService(logger, health.DefaultConfig())
	healthSvc.RegisterChecker("redis", health.NewRedisChecker(redisClient, "redis"))
	healthSvc.RegisterChecker("circuit_breakers", health.NewBreakerChecker("circuit_breakers", orch.BreakerSnapshots))
	healthSvc.RegisterChecker("degradation", health.NewDegradationChecker("degradation", orch.Tracker()))
	if cfg.Primary.BaseURL != "" {
		healthSvc.RegisterChecker("primary_upstream",
			health.NewHTTPChecker(cfg.Primary.BaseURL+cfg.Primary.HealthPath, "primary_upstream", 5*time.Second))
	}
	if cfg.Secondary.BaseURL != "" {
		healthSvc.RegisterChecker("secondary_upstream",
			health.NewHTTPChecker(cfg.Secondary.BaseURL+cfg.Secondary.HealthPath, "secondary_upstream", 5*time.Second))
	}

	router := api.NewRouter(cfg, orch, healthSvc, payloads, m, tracer, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Starting gateway on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down gateway...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	rootCancel()
	healthMonitor.Stop()
	trendMonitor.Stop()
	sampler.Stop()

	if err := writeback.Stop(); err != nil {
		log.Printf("Writeback pool shutdown: %v", err)
	}

	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Tracing shutdown: %v", err)
	}

	log.Println("Gateway exited")
}

func breakerGaugeValue(state resilience.CircuitState) int {
	switch state {
	case resilience.StateHalfOpen:
		return 1
	case resilience.StateOpen:
		return 2
	default:
		return 0
	}
}
