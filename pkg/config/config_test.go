package config

import (
	"os"
	"testing"
	"time"

	"github.com/trellishq/trellis/pkg/observability"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	os.Setenv("TEST_DURATION", "45s")
	defer os.Unsetenv("TEST_DURATION")

	if got := getEnvDuration("TEST_DURATION", time.Minute); got != 45*time.Second {
		t.Errorf("getEnvDuration() = %v, want 45s", got)
	}
	if got := getEnvDuration("TEST_DURATION_UNSET", time.Minute); got != time.Minute {
		t.Errorf("getEnvDuration() default = %v, want 1m", got)
	}

	os.Setenv("TEST_DURATION_BAD", "soon")
	defer os.Unsetenv("TEST_DURATION_BAD")
	if got := getEnvDuration("TEST_DURATION_BAD", time.Minute); got != time.Minute {
		t.Errorf("getEnvDuration() on malformed value = %v, want default", got)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	os.Setenv("TRELLIS_POSTGRES_URL", "postgres://localhost/trellis_test")
	defer os.Unsetenv("TRELLIS_POSTGRES_URL")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Cache.Backend != CacheBackendMemory {
		t.Errorf("expected default memory cache, got %s", cfg.Cache.Backend)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("expected default 5m TTL, got %v", cfg.Cache.TTL)
	}
	if cfg.Sweeper.Schedule != "@every 1h" {
		t.Errorf("expected default sweep schedule, got %s", cfg.Sweeper.Schedule)
	}
	if cfg.Observability.LogLevel != observability.LevelInfo {
		t.Errorf("expected info log level, got %v", cfg.Observability.LogLevel)
	}
}

func TestLoadConfig_MissingDatabase(t *testing.T) {
	os.Unsetenv("TRELLIS_POSTGRES_URL")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without postgres URL")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server: ServerConfig{Port: "8080", HealthPort: "9090"},
			Database: DatabaseConfig{
				URL: "postgres://localhost/trellis",
			},
			Cache:   CacheConfig{Backend: CacheBackendMemory, TTL: time.Minute, MemoryEntries: 100},
			Sweeper: SweeperConfig{Schedule: "@every 1h"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"same ports", func(c *Config) { c.Server.HealthPort = "8080" }, true},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "memcached" }, true},
		{"redis backend without addr", func(c *Config) {
			c.Cache.Backend = CacheBackendRedis
			c.Cache.RedisAddr = ""
		}, true},
		{"no cache is valid", func(c *Config) { c.Cache.Backend = CacheBackendNone }, false},
		{"zero TTL", func(c *Config) { c.Cache.TTL = 0 }, true},
		{"empty sweep schedule", func(c *Config) { c.Sweeper.Schedule = "" }, true},
		{"otel enabled without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
