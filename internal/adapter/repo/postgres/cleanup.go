package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CleanupService enforces the retention window on pipeline run history.
type CleanupService struct {
	Pool          *pgxpool.Pool
	RetentionDays int
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(pool *pgxpool.Pool, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90 // default 90 days
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays}
}

// CleanupOldData removes pipeline run history older than the retention
// period. Stage result/allocation rows are deleted first since they
// reference the stage run tables; decision_runs is deleted before the stage
// run tables since it references every stage run.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.RetentionDays)

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cleanup begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var deletedForecastResults int64
	err = tx.QueryRow(ctx, `
		DELETE FROM forecast_results
		WHERE run_id IN (SELECT id FROM forecast_runs WHERE created_at < $1)
		RETURNING count(*)
	`, cutoff).Scan(&deletedForecastResults)
	if err != nil {
		slog.Debug("no forecast results to delete", slog.Any("error", err))
	}

	var deletedPolicyResults int64
	err = tx.QueryRow(ctx, `
		DELETE FROM inventory_policy_results
		WHERE run_id IN (SELECT id FROM inventory_policy_runs WHERE created_at < $1)
		RETURNING count(*)
	`, cutoff).Scan(&deletedPolicyResults)
	if err != nil {
		slog.Debug("no inventory policy results to delete", slog.Any("error", err))
	}

	var deletedAllocations int64
	err = tx.QueryRow(ctx, `
		DELETE FROM optimisation_allocations
		WHERE run_id IN (SELECT id FROM optimisation_runs WHERE created_at < $1)
		RETURNING count(*)
	`, cutoff).Scan(&deletedAllocations)
	if err != nil {
		slog.Debug("no optimisation allocations to delete", slog.Any("error", err))
	}

	var deletedDecisionRuns int64
	err = tx.QueryRow(ctx, `
		DELETE FROM decision_runs WHERE created_at < $1
		RETURNING count(*)
	`, cutoff).Scan(&deletedDecisionRuns)
	if err != nil {
		slog.Debug("no decision runs to delete", slog.Any("error", err))
	}

	var deletedScraperJobs int64
	err = tx.QueryRow(ctx, `
		DELETE FROM scraper_jobs WHERE created_at < $1
		RETURNING count(*)
	`, cutoff).Scan(&deletedScraperJobs)
	if err != nil {
		slog.Debug("no scraper jobs to delete", slog.Any("error", err))
	}

	var deletedForecastRuns int64
	err = tx.QueryRow(ctx, `
		DELETE FROM forecast_runs WHERE created_at < $1
		RETURNING count(*)
	`, cutoff).Scan(&deletedForecastRuns)
	if err != nil {
		slog.Debug("no forecast runs to delete", slog.Any("error", err))
	}

	var deletedPolicyRuns int64
	err = tx.QueryRow(ctx, `
		DELETE FROM inventory_policy_runs WHERE created_at < $1
		RETURNING count(*)
	`, cutoff).Scan(&deletedPolicyRuns)
	if err != nil {
		slog.Debug("no inventory policy runs to delete", slog.Any("error", err))
	}

	var deletedOptimisationRuns int64
	err = tx.QueryRow(ctx, `
		DELETE FROM optimisation_runs WHERE created_at < $1
		RETURNING count(*)
	`, cutoff).Scan(&deletedOptimisationRuns)
	if err != nil {
		slog.Debug("no optimisation runs to delete", slog.Any("error", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cleanup commit: %w", err)
	}

	slog.Info("pipeline run cleanup completed",
		slog.Int64("deleted_decision_runs", deletedDecisionRuns),
		slog.Int64("deleted_scraper_jobs", deletedScraperJobs),
		slog.Int64("deleted_forecast_runs", deletedForecastRuns),
		slog.Int64("deleted_inventory_policy_runs", deletedPolicyRuns),
		slog.Int64("deleted_optimisation_runs", deletedOptimisationRuns),
		slog.Time("cutoff", cutoff),
	)

	return nil
}

// RunPeriodic starts a periodic cleanup job
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour // daily by default
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run initial cleanup
	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
