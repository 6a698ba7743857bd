// Package redpanda implements retry and DLQ management for resilient decision run processing.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/supplychainopt/decision-pipeline/internal/domain"
)

// decisionEnqueuer is the subset of Producer that RetryManager needs to
// requeue runs and move them to the DLQ.
type decisionEnqueuer interface {
	EnqueueDecisionRun(ctx domain.Context, payload domain.DecisionRunTaskPayload) (string, error)
	EnqueueDLQ(ctx domain.Context, runID string, dlqData []byte) error
}

// RetryManager handles automatic retries and DLQ management.
type RetryManager struct {
	producer    decisionEnqueuer
	dlqProducer decisionEnqueuer
	runs        domain.RunRepository
	config      domain.RetryConfig
}

// NewRetryManager creates a new retry manager.
func NewRetryManager(producer, dlqProducer decisionEnqueuer, runs domain.RunRepository, config domain.RetryConfig) *RetryManager {
	return &RetryManager{
		producer:    producer,
		dlqProducer: dlqProducer,
		runs:        runs,
		config:      config,
	}
}

// setRunStatus fetches the run, applies the status/error, and persists it.
// RunRepository has no lightweight status setter, so retry bookkeeping goes
// through a full get-then-update cycle.
func (rm *RetryManager) setRunStatus(ctx context.Context, runID string, status domain.RunStatus, errMsg *string) error {
	run, err := rm.runs.GetDecisionRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("get decision run for status update: %w", err)
	}
	run.Status = status
	if errMsg != nil {
		run.Error = *errMsg
	}
	if err := rm.runs.UpdateDecisionRun(ctx, run); err != nil {
		return fmt.Errorf("update decision run status: %w", err)
	}
	return nil
}

// RetryJob attempts to retry a failed decision run.
func (rm *RetryManager) RetryJob(ctx context.Context, runID string, retryInfo *domain.RetryInfo, payload domain.DecisionRunTaskPayload) error {
	// For upstream rate-limit and timeout failures, bypass immediate inline
	// retries and route the run directly to DLQ so that the DLQ consumer can
	// enforce a cooling window before requeueing. This prevents hammering
	// upstream suppliers/sources that have already signaled backpressure or
	// long latencies.
	code := classifyFailureCode(retryInfo.LastError)
	if code == "UPSTREAM_RATE_LIMIT" || code == "UPSTREAM_TIMEOUT" {
		reason := retryInfo.LastError
		slog.Info("routing upstream failure to DLQ for cooldown",
			slog.String("run_id", runID),
			slog.String("error_code", code),
			slog.String("last_error", retryInfo.LastError))
		return rm.moveToDLQ(ctx, runID, payload, retryInfo, reason)
	}

	// Check if run should be retried under generic retry policy
	if !retryInfo.ShouldRetry(fmt.Errorf("%s", retryInfo.LastError), rm.config) {
		slog.Info("run should not be retried, moving to DLQ",
			slog.String("run_id", runID),
			slog.String("last_error", retryInfo.LastError),
			slog.String("retry_status", string(retryInfo.RetryStatus)))
		return rm.moveToDLQ(ctx, runID, payload, retryInfo, "run should not be retried")
	}

	// Check if max retries reached
	if retryInfo.AttemptCount >= rm.config.MaxRetries {
		slog.Info("max retries reached, moving to DLQ",
			slog.String("run_id", runID),
			slog.Int("attempt_count", retryInfo.AttemptCount),
			slog.Int("max_retries", rm.config.MaxRetries))
		return rm.moveToDLQ(ctx, runID, payload, retryInfo, "max retries reached")
	}

	// Calculate next retry delay
	delay := retryInfo.CalculateNextRetryDelay(rm.config)
	retryInfo.NextRetryAt = time.Now().Add(delay)

	// Update retry info
	retryInfo.MarkAsRetrying()
	retryInfo.UpdateRetryAttempt(nil) // No error for retry attempt

	// Update run status to queued for retry
	if err := rm.setRunStatus(ctx, runID, domain.RunQueued, nil); err != nil {
		slog.Error("failed to update run status for retry",
			slog.String("run_id", runID),
			slog.Any("error", err))
		return fmt.Errorf("update run status for retry: %w", err)
	}

	// Schedule retry with delay
	go rm.scheduleRetry(ctx, runID, payload, retryInfo)

	slog.Info("run scheduled for retry",
		slog.String("run_id", runID),
		slog.Int("attempt", retryInfo.AttemptCount),
		slog.Duration("delay", delay),
		slog.Time("next_retry_at", retryInfo.NextRetryAt))

	return nil
}

// scheduleRetry schedules a run for retry after a delay.
func (rm *RetryManager) scheduleRetry(ctx context.Context, runID string, payload domain.DecisionRunTaskPayload, retryInfo *domain.RetryInfo) {
	// Wait for the calculated delay
	delay := retryInfo.CalculateNextRetryDelay(rm.config)
	time.Sleep(delay)

	// Check if run is still eligible for retry
	run, err := rm.runs.GetDecisionRun(ctx, runID)
	if err != nil {
		slog.Error("failed to get run for retry",
			slog.String("run_id", runID),
			slog.Any("error", err))
		return
	}

	// Don't retry if run is no longer in queued status
	if run.Status != domain.RunQueued {
		slog.Info("run status changed, skipping retry",
			slog.String("run_id", runID),
			slog.String("current_status", string(run.Status)))
		return
	}

	// Enqueue the run for retry
	_, err = rm.producer.EnqueueDecisionRun(ctx, payload)
	if err != nil {
		slog.Error("failed to enqueue run for retry",
			slog.String("run_id", runID),
			slog.Any("error", err))

		// Mark as exhausted if we can't even enqueue
		retryInfo.MarkAsExhausted()
		_ = rm.setRunStatus(ctx, runID, domain.RunFailed, ptr("failed to enqueue for retry"))
		return
	}

	slog.Info("run enqueued for retry",
		slog.String("run_id", runID),
		slog.Int("attempt", retryInfo.AttemptCount))
}

// moveToDLQ moves a run to the Dead Letter Queue.
func (rm *RetryManager) moveToDLQ(ctx context.Context, runID string, payload domain.DecisionRunTaskPayload, retryInfo *domain.RetryInfo, reason string) error {
	// Create DLQ job
	dlqJob := domain.DLQJob{
		JobID:            runID,
		OriginalPayload:  payload,
		RetryInfo:        *retryInfo,
		FailureReason:    reason,
		MovedToDLQAt:     time.Now(),
		CanBeReprocessed: true,
	}

	// Mark retry info as DLQ
	retryInfo.MarkAsDLQ()

	// Serialize DLQ job
	dlqData, err := json.Marshal(dlqJob)
	if err != nil {
		slog.Error("failed to marshal DLQ job",
			slog.String("run_id", runID),
			slog.Any("error", err))
		return fmt.Errorf("marshal DLQ job: %w", err)
	}

	// Send to DLQ topic
	if err := rm.dlqProducer.EnqueueDLQ(ctx, runID, dlqData); err != nil {
		slog.Error("failed to enqueue run to DLQ",
			slog.String("run_id", runID),
			slog.Any("error", err))
		return fmt.Errorf("enqueue to DLQ: %w", err)
	}

	// Update run status to failed
	if err := rm.setRunStatus(ctx, runID, domain.RunFailed, &reason); err != nil {
		slog.Error("failed to update run status to failed",
			slog.String("run_id", runID),
			slog.Any("error", err))
	}

	slog.Info("run moved to DLQ",
		slog.String("run_id", runID),
		slog.String("reason", reason),
		slog.Int("attempt_count", retryInfo.AttemptCount),
		slog.String("retry_status", string(retryInfo.RetryStatus)))

	return nil
}

// ProcessDLQJob processes a run from the Dead Letter Queue.
func (rm *RetryManager) ProcessDLQJob(ctx context.Context, dlqJob domain.DLQJob) error {
	// Check if run can be reprocessed
	if !dlqJob.CanBeReprocessed {
		slog.Info("DLQ run cannot be reprocessed",
			slog.String("run_id", dlqJob.JobID),
			slog.String("failure_reason", dlqJob.FailureReason))
		return fmt.Errorf("DLQ run cannot be reprocessed")
	}

	// For upstream rate-limit and timeout failures, enforce a cooling window
	// before reprocessing. This prevents immediately hammering upstream
	// sources that have signaled temporary rate limiting or produced repeated
	// timeouts.
	loweredReason := strings.ToLower(dlqJob.FailureReason)
	loweredError := strings.ToLower(dlqJob.RetryInfo.LastError)
	combined := loweredReason + " " + loweredError
	isRateLimitOrTimeout := strings.Contains(combined, "rate limit") ||
		strings.Contains(combined, "timeout") ||
		strings.Contains(combined, "deadline exceeded")
	const rateLimitDLQCooldown = 30 * time.Second
	if isRateLimitOrTimeout {
		cooldownUntil := dlqJob.MovedToDLQAt.Add(rateLimitDLQCooldown)
		if delay := time.Until(cooldownUntil); delay > 0 {
			slog.Info("DLQ cooling in effect for upstream rate limit/timeout",
				slog.String("run_id", dlqJob.JobID),
				slog.Duration("cooling_remaining", delay))
			go func(job domain.DLQJob, d time.Duration) {
				time.Sleep(d)
				if err := rm.requeueFromDLQ(context.Background(), job); err != nil {
					slog.Error("failed to requeue cooled DLQ run",
						slog.String("run_id", job.JobID),
						slog.Any("error", err))
				}
			}(dlqJob, delay)
			return nil
		}
	}

	return rm.requeueFromDLQ(ctx, dlqJob)
}

// requeueFromDLQ updates run status and enqueues the original payload back to
// the main decision-runs topic for reprocessing.
func (rm *RetryManager) requeueFromDLQ(ctx context.Context, dlqJob domain.DLQJob) error {
	if err := rm.setRunStatus(ctx, dlqJob.JobID, domain.RunQueued, nil); err != nil {
		slog.Error("failed to update run status for DLQ reprocessing",
			slog.String("run_id", dlqJob.JobID),
			slog.Any("error", err))
		return fmt.Errorf("update run status for DLQ reprocessing: %w", err)
	}

	_, err := rm.producer.EnqueueDecisionRun(ctx, dlqJob.OriginalPayload)
	if err != nil {
		slog.Error("failed to enqueue DLQ run for reprocessing",
			slog.String("run_id", dlqJob.JobID),
			slog.Any("error", err))
		return fmt.Errorf("enqueue DLQ run for reprocessing: %w", err)
	}

	slog.Info("DLQ run enqueued for reprocessing",
		slog.String("run_id", dlqJob.JobID),
		slog.String("original_failure_reason", dlqJob.FailureReason))

	return nil
}

// GetRetryStats returns retry statistics.
func (rm *RetryManager) GetRetryStats(_ context.Context) (map[string]interface{}, error) {
	// This would typically query the database for retry statistics
	// For now, return a placeholder
	return map[string]interface{}{
		"total_retries":      0,
		"successful_retries": 0,
		"failed_retries":     0,
		"dlq_jobs":           0,
	}, nil
}

// Helper function to create a string pointer
func ptr(s string) *string {
	return &s
}
