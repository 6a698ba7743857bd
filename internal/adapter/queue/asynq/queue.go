// Package asynqadp provides a Redis-backed alternative to the Redpanda
// queue for decision run dispatch. It trades exactly-once semantics and
// partition ordering for a lighter operational footprint, useful in
// deployments that already run Redis but have no Kafka-compatible broker.
package asynqadp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/supplychainopt/decision-pipeline/internal/adapter/observability"
	"github.com/supplychainopt/decision-pipeline/internal/domain"
)

// TaskDecisionRun is the asynq task type for a decision pipeline run.
const TaskDecisionRun = "decision_run"

// asynqClient is the subset of *asynq.Client used by Queue, narrowed for
// testability without a live Redis connection.
type asynqClient interface {
	EnqueueContext(ctx domain.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue implements domain.Queue on top of asynq/Redis.
type Queue struct{ client asynqClient }

// New constructs a Queue connected to the given Redis URI.
func New(redisURL string) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return &Queue{client: asynq.NewClient(opt)}, nil
}

// NewWithClient constructs a Queue around a pre-built client, primarily for tests.
func NewWithClient(client asynqClient) *Queue {
	return &Queue{client: client}
}

// EnqueueDecisionRun implements domain.Queue.
func (q *Queue) EnqueueDecisionRun(ctx domain.Context, payload domain.DecisionRunTaskPayload) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue: marshal payload: %w", err)
	}
	t := asynq.NewTask(TaskDecisionRun, b)
	info, err := q.client.EnqueueContext(ctx, t, asynq.MaxRetry(5), asynq.Retention(24*time.Hour))
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue: %w", err)
	}
	observability.EnqueueRun("decision_run")
	return info.ID, nil
}
