package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/supplychainopt/decision-pipeline/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// StuckRunSweeper periodically fails out decision runs that have been stuck
// in RunRunning for longer than maxRunningAge, e.g. because the worker that
// picked them up crashed mid-pipeline.
type StuckRunSweeper struct {
	runs          domain.RunRepository
	maxRunningAge time.Duration
	interval      time.Duration
}

// NewStuckRunSweeper builds a StuckRunSweeper. maxRunningAge defaults to 30
// minutes and interval to 1 minute when non-positive.
func NewStuckRunSweeper(runs domain.RunRepository, maxRunningAge, interval time.Duration) *StuckRunSweeper {
	if runs == nil {
		return nil
	}
	if maxRunningAge <= 0 {
		maxRunningAge = 30 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StuckRunSweeper{runs: runs, maxRunningAge: maxRunningAge, interval: interval}
}

// Run sweeps on startup and then on every tick until ctx is cancelled.
func (s *StuckRunSweeper) Run(ctx context.Context) {
	if s == nil || s.runs == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck run sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StuckRunSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("runs.sweeper")
	ctx, span := tracer.Start(ctx, "StuckRunSweeper.sweepOnce")
	defer span.End()

	cutoff := time.Now().Add(-s.maxRunningAge)
	span.SetAttributes(attribute.Float64("runs.max_running_age_seconds", s.maxRunningAge.Seconds()))

	stuck, err := s.runs.ListStuckDecisionRuns(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		slog.Error("stuck run sweep failed to list decision runs", slog.Any("error", err))
		return
	}

	marked := 0
	for _, run := range stuck {
		run.Status = domain.RunFailed
		run.Error = fmt.Sprintf("run exceeded maximum running age %v; marked failed by sweeper", s.maxRunningAge)
		run.UpdatedAt = time.Now().UTC()
		if err := s.runs.UpdateDecisionRun(ctx, run); err != nil {
			slog.Error("stuck run sweep failed to update decision run", slog.String("decision_run_id", run.ID), slog.Any("error", err))
			continue
		}
		marked++
	}

	span.SetAttributes(
		attribute.Int("runs.total_checked", len(stuck)),
		attribute.Int("runs.total_marked_failed", marked),
	)
}
