// Package config provides application configuration management from environment variables.
//
// All settings carry sensible defaults; only the database URL is required.
//
// Server settings:
//
//	TRELLIS_HOST="0.0.0.0"
//	TRELLIS_PORT="8080"
//	TRELLIS_HEALTH_PORT="9090"
//	TRELLIS_READ_TIMEOUT="15s"
//	TRELLIS_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	TRELLIS_POSTGRES_URL="postgres://localhost/trellis"
//	TRELLIS_POSTGRES_REPLICA_URLS="postgres://replica1/trellis,postgres://replica2/trellis"
//	TRELLIS_POSTGRES_MAX_CONNS="25"
//
// Decision cache settings:
//
//	TRELLIS_CACHE_BACKEND="memory"  # memory, redis, none
//	TRELLIS_CACHE_TTL="5m"
//	TRELLIS_REDIS_ADDR="localhost:6379"
//
// Sweeper settings:
//
//	TRELLIS_SWEEP_SCHEDULE="@every 1h"
//
// Observability settings:
//
//	TRELLIS_LOG_LEVEL="info"  # debug, info, warn, error
//	TRELLIS_METRICS_ENABLED="true"
//	TRELLIS_OTEL_ENABLED="false"
//	TRELLIS_OTEL_ENDPOINT="otel-collector:4317"
package config
