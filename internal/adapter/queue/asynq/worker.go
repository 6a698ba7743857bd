package asynqadp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"

	"github.com/supplychainopt/decision-pipeline/internal/domain"
)

// runner executes one decision pipeline run to completion. decision.Service
// satisfies this.
type runner interface {
	Run(ctx domain.Context, payload domain.DecisionRunTaskPayload) (domain.DecisionRun, error)
}

// Worker processes decision run tasks using asynq.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	runner runner
}

// NewWorker constructs a Worker bound to the given pipeline runner.
func NewWorker(redisURL string, runner runner, concurrency int) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	srv := asynq.NewServer(opt, asynq.Config{Concurrency: concurrency})
	mux := asynq.NewServeMux()
	worker := &Worker{server: srv, mux: mux, runner: runner}

	mux.HandleFunc(TaskDecisionRun, func(ctx context.Context, t *asynq.Task) error {
		tracer := otel.Tracer("queue.asynq.worker")
		ctx, span := tracer.Start(ctx, "DecisionRunTask")
		defer span.End()

		var payload domain.DecisionRunTaskPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}
		if _, err := worker.runner.Run(ctx, payload); err != nil {
			slog.Error("decision run task failed", slog.String("run_id", payload.RunID), slog.Any("error", err))
			return err
		}
		slog.Info("decision run task completed", slog.String("run_id", payload.RunID))
		return nil
	})

	return worker, nil
}

// Start begins processing tasks until shutdown.
func (w *Worker) Start() error { return w.server.Start(w.mux) }

// Stop gracefully shuts down the worker server.
func (w *Worker) Stop() { w.server.Shutdown() }
