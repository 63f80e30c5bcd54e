// The trellis-sweeper binary physically removes expired policies.
// Expiry is enforced lazily at evaluation time, so the sweeper only
// reclaims rows; it never changes an access decision.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/trellishq/trellis/pkg/config"
	"github.com/trellishq/trellis/pkg/observability"
	"github.com/trellishq/trellis/pkg/policy"
)

var runOnce = flag.Bool("run-once", false, "Sweep once and exit")

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.LevelError, os.Stderr).
			WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.WithError(err).Error("failed to ping database")
		os.Exit(1)
	}

	store := policy.NewStore(db)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	sweep := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		swept, err := store.DeleteExpired(ctx, time.Now())
		if err != nil {
			logger.WithError(err).Error("sweep failed")
			return
		}
		metrics.PoliciesSweptTotal.Add(float64(swept))
		logger.WithField("swept", swept).Info("sweep completed")
	}

	if *runOnce {
		sweep()
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Sweeper.Schedule, sweep); err != nil {
		logger.WithError(err).WithField("schedule", cfg.Sweeper.Schedule).Error("invalid sweep schedule")
		os.Exit(1)
	}
	c.Start()
	logger.WithField("schedule", cfg.Sweeper.Schedule).Info("sweeper started")

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, nil))
	observability.RegisterMetricsEndpoint(healthMux, registry)
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	shutdown := observability.NewShutdownManager(cfg.Server.ShutdownTimeout, logger)
	shutdown.Register("cron", func(ctx context.Context) error {
		stopped := c.Stop()
		select {
		case <-stopped.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.Register("health server", healthServer.Shutdown)

	shutdown.Wait(context.Background())
	logger.Info("sweeper stopped")
}
