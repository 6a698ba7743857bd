// Package main provides the worker application entry point.
// The worker consumes queued decision pipeline runs from Redpanda and
// executes the full acquisition -> forecast -> inventory -> allocation
// chain for each one.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/supplychainopt/decision-pipeline/internal/adapter/observability"
	"github.com/supplychainopt/decision-pipeline/internal/adapter/queue/redpanda"
	"github.com/supplychainopt/decision-pipeline/internal/adapter/repo/postgres"
	"github.com/supplychainopt/decision-pipeline/internal/app"
	"github.com/supplychainopt/decision-pipeline/internal/config"
	"github.com/supplychainopt/decision-pipeline/internal/domain"
	"github.com/supplychainopt/decision-pipeline/internal/service/offeracq"
	"github.com/supplychainopt/decision-pipeline/internal/usecase/decision"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Configure observability with the current environment so that any
	// dev-only metrics behave correctly.
	observability.SetAppEnv(cfg.AppEnv)

	// Register Prometheus metrics in the worker process and expose them on a
	// dedicated /metrics endpoint so Prometheus can scrape queue metrics.
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	// Enable tracing for worker-side spans (stage services, queue handlers)
	// when an OTLP endpoint is configured.
	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
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

	profiles, err := config.LoadSourceProfiles("configs/offeracq/source_profiles.yaml")
	if err != nil {
		slog.Error("failed to load source profiles", slog.Any("error", err))
		os.Exit(1)
	}
	sourceRegistry := offeracq.NewRegistryFromProfiles(profiles)
	offerTTL := time.Duration(cfg.ScraperTTLHours) * time.Hour

	// Queue producer used for retry and DLQ flows within the worker. Use a
	// transactional ID distinct from the HTTP server's producer to avoid
	// transactional conflicts across processes.
	queueProducer, err := redpanda.NewProducerWithTransactionalID(cfg.KafkaBrokers, "decision-pipeline-worker-producer")
	if err != nil {
		slog.Error("queue producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueProducer.Close(); err != nil {
			slog.Error("failed to close queue producer", slog.Any("error", err))
		}
	}()

	decisionSvc := decision.NewService(
		products, locations, suppliers, demand, offers, runs,
		queueProducer, sourceRegistry, offerTTL, cfg.DecisionMaxProductsPerRun,
	)

	// Build retry configuration for the worker from env-configured values
	// while reusing the domain-level retryable/non-retryable error taxonomy.
	baseRetryCfg := domain.DefaultRetryConfig()
	cfgRetry := cfg.GetRetryConfig()
	retryCfg := domain.RetryConfig{
		MaxRetries:         cfgRetry.MaxRetries,
		InitialDelay:       cfgRetry.InitialDelay,
		MaxDelay:           cfgRetry.MaxDelay,
		Multiplier:         cfgRetry.Multiplier,
		Jitter:             cfgRetry.Jitter,
		RetryableErrors:    baseRetryCfg.RetryableErrors,
		NonRetryableErrors: baseRetryCfg.NonRetryableErrors,
	}

	retryManager := redpanda.NewRetryManager(queueProducer, queueProducer, runs, retryCfg)

	// Worker (Redpanda consumer) with dynamic worker pool. Use
	// CONSUMER_MAX_CONCURRENCY as max workers, with higher min workers for
	// better throughput.
	minWorkers := cfg.ConsumerMaxConcurrency / 2
	if cfg.ConsumerMaxConcurrency <= 1 {
		minWorkers = 1
	} else if minWorkers < 4 {
		minWorkers = 4
	}
	maxWorkers := cfg.ConsumerMaxConcurrency
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}

	slog.Info("worker scaling configuration",
		slog.Int("min_workers", minWorkers),
		slog.Int("max_workers", maxWorkers),
		slog.Duration("scaling_interval", cfg.WorkerScalingInterval),
		slog.Duration("idle_timeout", cfg.WorkerIdleTimeout))

	worker, err := redpanda.NewConsumerWithConfig(
		cfg.KafkaBrokers,
		"decision-pipeline-workers",  // Consumer group ID
		"decision-pipeline-consumer", // Transactional ID
		decisionSvc,
		minWorkers,
		maxWorkers,
	)
	if err != nil {
		slog.Error("redpanda consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	// Attach retry manager so that upstream solver/source failures are
	// routed through the retry/DLQ flow instead of leaving runs permanently
	// failed.
	worker.WithRetryManager(retryManager)
	defer func() {
		if err := worker.Close(); err != nil {
			slog.Error("failed to close worker", slog.Any("error", err))
		}
	}()

	// DLQ consumer to process failed runs and apply cooling behavior before
	// requeueing. This runs alongside the main worker.
	dlqConsumer, err := redpanda.NewDLQConsumer(cfg.KafkaBrokers, "decision-pipeline-dlq-workers", retryManager, runs)
	if err != nil {
		slog.Error("DLQ consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer dlqConsumer.Stop()
	if err := dlqConsumer.Start(ctx); err != nil {
		slog.Error("DLQ consumer start error", slog.Any("error", err))
	}

	// Start stuck-run sweeper to ensure long-running decision runs eventually
	// transition to a failed terminal state even if the worker handling them
	// crashes or is interrupted.
	if sweeper := app.NewStuckRunSweeper(runs, 30*time.Minute, time.Minute); sweeper != nil {
		go sweeper.Run(ctx)
	}

	// Start worker in background
	slog.Info("starting redpanda consumer")
	go func() {
		if err := worker.Start(ctx); err != nil {
			slog.Error("worker error", slog.Any("error", err))
		}
	}()

	// Wait for shutdown signals
	slog.Info("worker started successfully, waiting for shutdown signal")
	slog.Info("send signal TERM or INT to terminate the process")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	slog.Info("worker stopped")
}
