package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/trellishq/trellis/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Cache         CacheConfig
	Sweeper       SweeperConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL             string
	ReplicaURLs     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Cache backends for permission decisions.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendNone   = "none"
)

// CacheConfig holds decision cache configuration
type CacheConfig struct {
	Backend       string
	TTL           time.Duration
	MemoryEntries int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// SweeperConfig holds expired-policy sweeper configuration
type SweeperConfig struct {
	Schedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelSampleRate     float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Cache:         loadCacheConfig(),
		Sweeper:       loadSweeperConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TRELLIS_HOST", "0.0.0.0"),
		Port:            getEnv("TRELLIS_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TRELLIS_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TRELLIS_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TRELLIS_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TRELLIS_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("TRELLIS_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("TRELLIS_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("TRELLIS_POSTGRES_URL", ""),
		ReplicaURLs:     getEnv("TRELLIS_POSTGRES_REPLICA_URLS", ""),
		MaxOpenConns:    getEnvInt("TRELLIS_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns:    getEnvInt("TRELLIS_POSTGRES_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("TRELLIS_POSTGRES_CONN_LIFETIME", 30*time.Minute),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:       strings.ToLower(getEnv("TRELLIS_CACHE_BACKEND", CacheBackendMemory)),
		TTL:           getEnvDuration("TRELLIS_CACHE_TTL", 5*time.Minute),
		MemoryEntries: getEnvInt("TRELLIS_CACHE_MEMORY_ENTRIES", 65536),
		RedisAddr:     getEnv("TRELLIS_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("TRELLIS_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("TRELLIS_REDIS_DB", 0),
	}
}

func loadSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Schedule: getEnv("TRELLIS_SWEEP_SCHEDULE", "@every 1h"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("TRELLIS_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TRELLIS_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TRELLIS_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TRELLIS_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TRELLIS_OTEL_SERVICE_NAME", "trellis"),
		OTelServiceVersion: getEnv("TRELLIS_OTEL_SERVICE_VERSION", "dev"),
		OTelSampleRate:     getEnvFloat("TRELLIS_OTEL_SAMPLE_RATE", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	switch c.Cache.Backend {
	case CacheBackendMemory:
		if c.Cache.MemoryEntries <= 0 {
			return fmt.Errorf("memory cache entry limit must be positive")
		}
	case CacheBackendRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("redis address is required for redis cache backend")
		}
	case CacheBackendNone:
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory, redis, or none)", c.Cache.Backend)
	}
	if c.Cache.Backend != CacheBackendNone && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	if c.Sweeper.Schedule == "" {
		return fmt.Errorf("sweeper schedule is required")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
