package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Redis     RedisConfig     `json:"redis"`
	Primary   UpstreamConfig  `json:"primary"`
	Secondary UpstreamConfig  `json:"secondary"`
	Cache     CacheConfig     `json:"cache"`
	Static    StaticConfig    `json:"static"`
	Cascade   CascadeConfig   `json:"cascade"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Tracing   TracingConfig   `json:"tracing"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	IdleTimeout    time.Duration `json:"idle_timeout"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// UpstreamConfig describes one networked provider stage
type UpstreamConfig struct {
	BaseURL          string        `json:"base_url"`
	HealthPath       string        `json:"health_path"`
	Timeout          time.Duration `json:"timeout"`
	Retries          int           `json:"retries"`
	BreakerThreshold int           `json:"breaker_threshold"`
	BreakerCooldown  time.Duration `json:"breaker_cooldown"`
	EndpointRemaps   string        `json:"endpoint_remaps"`
	FieldRemaps      string        `json:"field_remaps"`
}

// CacheConfig contains memory and Redis cache stage configuration
type CacheConfig struct {
	MemorySize        int           `json:"memory_size"`
	MemoryTTL         time.Duration `json:"memory_ttl"`
	RedisTTL          time.Duration `json:"redis_ttl"`
	RedisPrefix       string        `json:"redis_prefix"`
	WritebackQueueLen int           `json:"writeback_queue_len"`
	WritebackWorkers  int           `json:"writeback_workers"`
}

// StaticConfig contains static default stage configuration
type StaticConfig struct {
	FallbackFile  string `json:"fallback_file"`
	SmartDefaults bool   `json:"smart_defaults"`
}

// CascadeConfig contains orchestrator-level configuration
type CascadeConfig struct {
	OverallTimeout    time.Duration `json:"overall_timeout"`
	RetryInitialDelay time.Duration `json:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `json:"retry_max_delay"`
	RetryMultiplier   float64       `json:"retry_multiplier"`
	RetryJitter       bool          `json:"retry_jitter"`
}

// TelemetryConfig contains metrics collector configuration
type TelemetryConfig struct {
	HistoryLimit       int           `json:"history_limit"`
	AnomalyLimit       int           `json:"anomaly_limit"`
	TrendLimit         int           `json:"trend_limit"`
	AnomalySensitivity float64       `json:"anomaly_sensitivity"`
	MinSamples         int           `json:"min_samples"`
	TrendWindow        int           `json:"trend_window"`
	TrendInterval      time.Duration `json:"trend_interval"`
	DashboardCacheTTL  time.Duration `json:"dashboard_cache_ttl"`
}

// TracingConfig contains distributed tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:           getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			AllowedOrigins: getEnvStringSlice("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Primary: UpstreamConfig{
			BaseURL:          getEnvString("PRIMARY_BASE_URL", ""),
			HealthPath:       getEnvString("PRIMARY_HEALTH_PATH", "/health"),
			Timeout:          getEnvDuration("PRIMARY_TIMEOUT", 2*time.Second),
			Retries:          getEnvInt("PRIMARY_RETRIES", 2),
			BreakerThreshold: getEnvInt("PRIMARY_BREAKER_THRESHOLD", 5),
			BreakerCooldown:  getEnvDuration("PRIMARY_BREAKER_COOLDOWN", 30*time.Second),
		},
		Secondary: UpstreamConfig{
			BaseURL:          getEnvString("SECONDARY_BASE_URL", ""),
			HealthPath:       getEnvString("SECONDARY_HEALTH_PATH", "/health"),
			Timeout:          getEnvDuration("SECONDARY_TIMEOUT", 5*time.Second),
			Retries:          getEnvInt("SECONDARY_RETRIES", 1),
			BreakerThreshold: getEnvInt("SECONDARY_BREAKER_THRESHOLD", 5),
			BreakerCooldown:  getEnvDuration("SECONDARY_BREAKER_COOLDOWN", 30*time.Second),
			EndpointRemaps:   getEnvString("SECONDARY_ENDPOINT_REMAPS", ""),
			FieldRemaps:      getEnvString("SECONDARY_FIELD_REMAPS", ""),
		},
		Cache: CacheConfig{
			MemorySize:        getEnvInt("CACHE_MEMORY_SIZE", 1000),
			MemoryTTL:         getEnvDuration("CACHE_MEMORY_TTL", 5*time.Minute),
			RedisTTL:          getEnvDuration("CACHE_REDIS_TTL", 30*time.Minute),
			RedisPrefix:       getEnvString("CACHE_REDIS_PREFIX", "fallback"),
			WritebackQueueLen: getEnvInt("CACHE_WRITEBACK_QUEUE_LEN", 256),
			WritebackWorkers:  getEnvInt("CACHE_WRITEBACK_WORKERS", 2),
		},
		Static: StaticConfig{
			FallbackFile:  getEnvString("STATIC_FALLBACK_FILE", ""),
			SmartDefaults: getEnvBool("STATIC_SMART_DEFAULTS", true),
		},
		Cascade: CascadeConfig{
			OverallTimeout:    getEnvDuration("CASCADE_OVERALL_TIMEOUT", 0),
			RetryInitialDelay: getEnvDuration("CASCADE_RETRY_INITIAL_DELAY", 100*time.Millisecond),
			RetryMaxDelay:     getEnvDuration("CASCADE_RETRY_MAX_DELAY", 5*time.Second),
			RetryMultiplier:   getEnvFloat("CASCADE_RETRY_MULTIPLIER", 2.0),
			RetryJitter:       getEnvBool("CASCADE_RETRY_JITTER", true),
		},
		Telemetry: TelemetryConfig{
			HistoryLimit:       getEnvInt("TELEMETRY_HISTORY_LIMIT", 100),
			AnomalyLimit:       getEnvInt("TELEMETRY_ANOMALY_LIMIT", 50),
			TrendLimit:         getEnvInt("TELEMETRY_TREND_LIMIT", 50),
			AnomalySensitivity: getEnvFloat("TELEMETRY_ANOMALY_SENSITIVITY", 2.0),
			MinSamples:         getEnvInt("TELEMETRY_MIN_SAMPLES", 10),
			TrendWindow:        getEnvInt("TELEMETRY_TREND_WINDOW", 10),
			TrendInterval:      getEnvDuration("TELEMETRY_TREND_INTERVAL", time.Minute),
			DashboardCacheTTL:  getEnvDuration("TELEMETRY_DASHBOARD_CACHE_TTL", 15*time.Second),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SampleRate:     getEnvFloat("TRACING_SAMPLE_RATE", 0.1),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Primary.BaseURL == "" {
		return fmt.Errorf("primary base URL is required")
	}

	if c.Primary.BreakerThreshold <= 0 || c.Secondary.BreakerThreshold <= 0 {
		return fmt.Errorf("circuit breaker thresholds must be positive")
	}

	if c.Primary.Retries < 0 || c.Secondary.Retries < 0 {
		return fmt.Errorf("retry counts must not be negative")
	}

	if c.Cascade.RetryMultiplier < 1.0 {
		return fmt.Errorf("retry multiplier must be at least 1.0")
	}

	if c.Telemetry.HistoryLimit <= 0 || c.Telemetry.AnomalyLimit <= 0 || c.Telemetry.TrendLimit <= 0 {
		return fmt.Errorf("telemetry history limits must be positive")
	}

	return nil
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// RedisURL returns the Redis connection URL
func (c *Config) RedisURL() string {
	if c.Redis.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d",
			c.Redis.Password,
			c.Redis.Host,
			c.Redis.Port,
			c.Redis.DB,
		)
	}
	return fmt.Sprintf("redis://%s:%d/%d",
		c.Redis.Host,
		c.Redis.Port,
		c.Redis.DB,
	)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
