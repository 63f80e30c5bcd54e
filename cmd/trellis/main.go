package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/trellishq/trellis/pkg/access"
	"github.com/trellishq/trellis/pkg/api"
	"github.com/trellishq/trellis/pkg/config"
	"github.com/trellishq/trellis/pkg/observability"
	"github.com/trellishq/trellis/pkg/orgs"
	"github.com/trellishq/trellis/pkg/policy"
	"github.com/trellishq/trellis/pkg/storage/postgres"
	"github.com/trellishq/trellis/pkg/timeline"
	"github.com/trellishq/trellis/pkg/users"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.LevelError, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		OTLPEndpoint:   cfg.Observability.OTelEndpoint,
		Enabled:        cfg.Observability.OTelEnabled,
		SampleRate:     cfg.Observability.OTelSampleRate,
	})
	if err != nil {
		logger.WithError(err).Error("failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	connections, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: postgres.ParseReplicaURLs(cfg.Database.ReplicaURLs),
		MaxConns:    cfg.Database.MaxOpenConns,
		IdleConns:   cfg.Database.MaxIdleConns,
		MaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}

	db := connections.Primary()
	reader := connections.Replica()
	connections.StartHealthCheckRoutine(ctx, 30*time.Second)

	if err := runMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("migrations failed")
		os.Exit(1)
	}

	nodeStore := timeline.NewStoreWithReader(db, reader)
	orgStore := orgs.NewStoreWithReader(db, reader)
	// Policy reads stay on the primary: a revocation must be visible
	// to every check issued after the write returns, and replicas can
	// lag.
	policyStore := policy.NewStore(db)
	userStore := users.NewStore(db)

	cache, err := buildCache(cfg)
	if err != nil {
		logger.WithError(err).Error("failed to initialize decision cache")
		os.Exit(1)
	}

	resolver := access.NewResolver(nodeStore, policyStore, orgStore)
	if cache != nil {
		resolver = resolver.WithCache(cache)
	}
	filter := access.NewBatchFilter(policyStore, orgStore)

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
		go collectDBStats(ctx, connections, metrics)
	}

	server := api.NewServer(api.Deps{
		Nodes:    nodeStore,
		Orgs:     orgStore,
		Policies: policyStore,
		Users:    userStore,
		Resolver: resolver,
		Filter:   filter,
		Cache:    cache,
		Logger:   logger,
		Metrics:  metrics,
	})

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(cfg.Server.MaxBodyBytes),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, nil))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(cfg.Server.ShutdownTimeout, logger)
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers)
	})
	shutdown.Register("database", func(ctx context.Context) error {
		return connections.Close()
	})
	shutdown.Register("health server", healthServer.Shutdown)
	shutdown.Register("api server", apiServer.Shutdown)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("api server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		// A server failure cancels groupCtx and triggers the same
		// ordered shutdown a signal would.
		shutdown.Wait(groupCtx)
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.WithError(err).Error("server failed")
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// runMigrations applies every package's schema. Each package tracks
// its own versions, so ordering only matters for readability.
func runMigrations(ctx context.Context, db *sql.DB) error {
	steps := []struct {
		name string
		run  func(context.Context, *sql.DB) error
	}{
		{"timeline", timeline.RunMigrations},
		{"orgs", orgs.RunMigrations},
		{"policy", policy.RunMigrations},
		{"users", users.RunMigrations},
	}
	for _, step := range steps {
		if err := step.run(ctx, db); err != nil {
			return fmt.Errorf("%s migrations: %w", step.name, err)
		}
	}
	return nil
}

func buildCache(cfg *config.Config) (access.DecisionCache, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendMemory:
		return access.NewMemoryDecisionCache(cfg.Cache.MemoryEntries, cfg.Cache.TTL), nil
	case config.CacheBackendRedis:
		return access.NewRedisDecisionCache(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.TTL)
	case config.CacheBackendNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
}

func collectDBStats(ctx context.Context, connections *postgres.ConnectionManager, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			stats := connections.Stats()
			metrics.CollectDBStats(stats.InUse, stats.Idle)
		case <-ctx.Done():
			return
		}
	}
}
