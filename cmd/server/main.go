// Command server starts the supply chain decision pipeline HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpserver "github.com/supplychainopt/decision-pipeline/internal/adapter/httpserver"
	"github.com/supplychainopt/decision-pipeline/internal/adapter/observability"
	"github.com/supplychainopt/decision-pipeline/internal/adapter/queue/redpanda"
	"github.com/supplychainopt/decision-pipeline/internal/adapter/repo/postgres"
	"github.com/supplychainopt/decision-pipeline/internal/app"
	"github.com/supplychainopt/decision-pipeline/internal/config"
	"github.com/supplychainopt/decision-pipeline/internal/service/offeracq"
	"github.com/supplychainopt/decision-pipeline/internal/usecase/decision"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Record the current environment for the observability package's
	// environment checks.
	observability.SetAppEnv(cfg.AppEnv)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP and pipeline-stage instrumentation for Prometheus/Grafana.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// Repositories
	products := postgres.NewProductRepo(pool)
	locations := postgres.NewLocationRepo(pool)
	suppliers := postgres.NewSupplierRepo(pool)
	offers := postgres.NewOfferRepo(pool)
	demand := postgres.NewDemandRepo(pool)
	runs := postgres.NewRunRepo(pool)

	// Start cleanup service for data retention.
	if cfg.DataRetentionDays > 0 {
		cleanupSvc := postgres.NewCleanupService(pool, cfg.DataRetentionDays)
		go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("cleanup service started", slog.Int("retention_days", cfg.DataRetentionDays), slog.Duration("interval", cfg.CleanupInterval))
	}

	// Queue client (Redpanda producer).
	qClient, err := redpanda.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		slog.Error("redpanda producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := qClient.Close(); err != nil {
			slog.Error("failed to close queue client", slog.Any("error", err))
		}
	}()

	// Acquisition sources: one synthetic marketplace simulator per configured
	// profile, falling back to the three built-in profiles when no override
	// file is present.
	profiles, err := config.LoadSourceProfiles("configs/offeracq/source_profiles.yaml")
	if err != nil {
		slog.Error("failed to load source profiles", slog.Any("error", err))
		os.Exit(1)
	}
	sourceRegistry := offeracq.NewRegistryFromProfiles(profiles)
	slog.Info("offer acquisition sources registered", slog.Any("sources", sourceRegistry.Names()))

	offerTTL := time.Duration(cfg.ScraperTTLHours) * time.Hour
	decisionSvc := decision.NewService(
		products, locations, suppliers, demand, offers, runs,
		qClient, sourceRegistry, offerTTL, cfg.DecisionMaxProductsPerRun,
	)

	dbCheck, queueCheck := app.BuildReadinessChecks(cfg, pool, qClient)

	srv := httpserver.NewServer(
		cfg, decisionSvc,
		products, locations, suppliers, demand, offers, runs,
		sourceRegistry, offerTTL,
		dbCheck, queueCheck,
	)

	handler := app.BuildRouter(cfg, srv)

	// Stuck-run sweeper: fails out decision runs left in RunRunning past a
	// sensible age, e.g. because the worker processing them crashed.
	if sweeper := app.NewStuckRunSweeper(runs, 30*time.Minute, time.Minute); sweeper != nil {
		go sweeper.Run(ctx)
	}

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
