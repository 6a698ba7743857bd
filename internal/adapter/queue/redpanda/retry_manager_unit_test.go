package redpanda

import (
	"context"
	"testing"
	"time"

	"github.com/supplychainopt/decision-pipeline/internal/domain"
)

type fakeRetryProducer struct {
	enqueueDecisionRunCalls []domain.DecisionRunTaskPayload
	enqueueDLQCalls         []struct {
		runID string
		data  []byte
	}
}

func (p *fakeRetryProducer) EnqueueDecisionRun(_ context.Context, payload domain.DecisionRunTaskPayload) (string, error) {
	p.enqueueDecisionRunCalls = append(p.enqueueDecisionRunCalls, payload)
	return payload.RunID, nil
}

func (p *fakeRetryProducer) EnqueueDLQ(_ context.Context, runID string, dlqData []byte) error {
	p.enqueueDLQCalls = append(p.enqueueDLQCalls, struct {
		runID string
		data  []byte
	}{runID: runID, data: dlqData})
	return nil
}

// fakeRunRepo is a minimal domain.RunRepository fake covering only the
// decision-run methods RetryManager/DLQConsumer actually exercise; the
// scraper/forecast/inventory/optimisation methods are unused no-ops.
type fakeRunRepo struct {
	updated []domain.DecisionRun
	runs    map[string]domain.DecisionRun
}

func (r *fakeRunRepo) CreateScraperJob(domain.Context, domain.ScraperJob) (string, error) { return "", nil }
func (r *fakeRunRepo) UpdateScraperJob(domain.Context, domain.ScraperJob) error            { return nil }
func (r *fakeRunRepo) GetScraperJob(domain.Context, string) (domain.ScraperJob, error) {
	return domain.ScraperJob{}, nil
}

func (r *fakeRunRepo) CreateForecastRun(domain.Context, domain.ForecastRun) (string, error) { return "", nil }
func (r *fakeRunRepo) UpdateForecastRun(domain.Context, domain.ForecastRun) error            { return nil }
func (r *fakeRunRepo) GetForecastRun(domain.Context, string) (domain.ForecastRun, error) {
	return domain.ForecastRun{}, nil
}
func (r *fakeRunRepo) InsertForecastResults(domain.Context, []domain.ForecastResult) error { return nil }
func (r *fakeRunRepo) ForecastResultsForRun(domain.Context, string) ([]domain.ForecastResult, error) {
	return nil, nil
}

func (r *fakeRunRepo) CreateInventoryPolicyRun(domain.Context, domain.InventoryPolicyRun) (string, error) {
	return "", nil
}
func (r *fakeRunRepo) UpdateInventoryPolicyRun(domain.Context, domain.InventoryPolicyRun) error { return nil }
func (r *fakeRunRepo) GetInventoryPolicyRun(domain.Context, string) (domain.InventoryPolicyRun, error) {
	return domain.InventoryPolicyRun{}, nil
}
func (r *fakeRunRepo) InsertInventoryPolicyResults(domain.Context, []domain.InventoryPolicyResult) error {
	return nil
}
func (r *fakeRunRepo) InventoryPolicyResultsForRun(domain.Context, string) ([]domain.InventoryPolicyResult, error) {
	return nil, nil
}

func (r *fakeRunRepo) CreateOptimisationRun(domain.Context, domain.OptimisationRun) (string, error) {
	return "", nil
}
func (r *fakeRunRepo) UpdateOptimisationRun(domain.Context, domain.OptimisationRun) error { return nil }
func (r *fakeRunRepo) GetOptimisationRun(domain.Context, string) (domain.OptimisationRun, error) {
	return domain.OptimisationRun{}, nil
}
func (r *fakeRunRepo) InsertOptimisationAllocations(domain.Context, []domain.OptimisationAllocation) error {
	return nil
}
func (r *fakeRunRepo) OptimisationAllocationsForRun(domain.Context, string) ([]domain.OptimisationAllocation, error) {
	return nil, nil
}

func (r *fakeRunRepo) CreateDecisionRun(_ domain.Context, d domain.DecisionRun) (string, error) {
	if r.runs == nil {
		r.runs = make(map[string]domain.DecisionRun)
	}
	r.runs[d.ID] = d
	return d.ID, nil
}

func (r *fakeRunRepo) UpdateDecisionRun(_ domain.Context, d domain.DecisionRun) error {
	r.updated = append(r.updated, d)
	if r.runs != nil {
		r.runs[d.ID] = d
	}
	return nil
}

func (r *fakeRunRepo) GetDecisionRun(_ domain.Context, id string) (domain.DecisionRun, error) {
	if r.runs != nil {
		if run, ok := r.runs[id]; ok {
			return run, nil
		}
	}
	return domain.DecisionRun{ID: id}, nil
}

func (*fakeRunRepo) FindDecisionRunByIdempotencyKey(domain.Context, string) (domain.DecisionRun, error) {
	return domain.DecisionRun{}, nil
}
func (*fakeRunRepo) ListStuckDecisionRuns(domain.Context, time.Time) ([]domain.DecisionRun, error) {
	return nil, nil
}

func TestRetryManager_MoveToDLQ_SetsStatusAndEnqueues(t *testing.T) {
	ctx := context.Background()
	prod := &fakeRetryProducer{}
	runs := &fakeRunRepo{runs: make(map[string]domain.DecisionRun)}
	cfg := domain.DefaultRetryConfig()
	rm := NewRetryManager(prod, prod, runs, cfg)

	retryInfo := &domain.RetryInfo{
		AttemptCount: 1,
		MaxAttempts:  cfg.MaxRetries,
		LastError:    "temporary failure",
		ErrorHistory: []string{"temporary failure"},
	}
	payload := domain.DecisionRunTaskPayload{RunID: "run-1"}

	if err := rm.moveToDLQ(ctx, "run-1", payload, retryInfo, "reason"); err != nil {
		t.Fatalf("moveToDLQ returned error: %v", err)
	}

	if retryInfo.RetryStatus != domain.RetryStatusDLQ {
		t.Fatalf("expected RetryStatusDLQ, got %v", retryInfo.RetryStatus)
	}
	if len(prod.enqueueDLQCalls) != 1 {
		t.Fatalf("expected 1 DLQ enqueue call, got %d", len(prod.enqueueDLQCalls))
	}
	if len(runs.updated) == 0 || runs.updated[0].Status != domain.RunFailed {
		t.Fatalf("expected run status to be updated to failed, updates=%v", runs.updated)
	}
}

func TestRetryManager_RequeueFromDLQ_UpdatesStatusAndEnqueues(t *testing.T) {
	ctx := context.Background()
	prod := &fakeRetryProducer{}
	runs := &fakeRunRepo{runs: map[string]domain.DecisionRun{"run-1": {ID: "run-1", Status: domain.RunQueued}}}
	cfg := domain.DefaultRetryConfig()
	rm := NewRetryManager(prod, prod, runs, cfg)

	dlq := domain.DLQJob{JobID: "run-1", OriginalPayload: domain.DecisionRunTaskPayload{RunID: "run-1"}}

	if err := rm.requeueFromDLQ(ctx, dlq); err != nil {
		t.Fatalf("requeueFromDLQ returned error: %v", err)
	}
	if len(prod.enqueueDecisionRunCalls) != 1 {
		t.Fatalf("expected 1 enqueueDecisionRun call, got %d", len(prod.enqueueDecisionRunCalls))
	}
	if len(runs.updated) == 0 || runs.updated[0].Status != domain.RunQueued {
		t.Fatalf("expected run status to be updated to queued, updates=%v", runs.updated)
	}
}

func TestRetryManager_ProcessDLQJob_CannotReprocess(t *testing.T) {
	ctx := context.Background()
	prod := &fakeRetryProducer{}
	rm := NewRetryManager(prod, prod, &fakeRunRepo{}, domain.DefaultRetryConfig())

	dlq := domain.DLQJob{JobID: "run-1", FailureReason: "permanent", CanBeReprocessed: false}

	if err := rm.ProcessDLQJob(ctx, dlq); err == nil {
		t.Fatalf("expected error for DLQ job that cannot be reprocessed")
	}
}

func TestRetryManager_ProcessDLQJob_RequeuesWhenEligibleAndNotRateLimited(t *testing.T) {
	ctx := context.Background()
	prod := &fakeRetryProducer{}
	runs := &fakeRunRepo{runs: map[string]domain.DecisionRun{"run-1": {ID: "run-1", Status: domain.RunQueued}}}
	cfg := domain.DefaultRetryConfig()
	rm := NewRetryManager(prod, prod, runs, cfg)

	dlq := domain.DLQJob{
		JobID:         "run-1",
		FailureReason: "permanent failure",
		RetryInfo: domain.RetryInfo{
			LastError: "permanent failure",
		},
		MovedToDLQAt:     time.Now().Add(-time.Hour),
		CanBeReprocessed: true,
	}

	if err := rm.ProcessDLQJob(ctx, dlq); err != nil {
		t.Fatalf("ProcessDLQJob returned error: %v", err)
	}
	if len(prod.enqueueDecisionRunCalls) != 1 {
		t.Fatalf("expected 1 enqueueDecisionRun call, got %d", len(prod.enqueueDecisionRunCalls))
	}
}

func TestRetryManager_RetryJob_RoutesUpstreamRateLimitToDLQ(t *testing.T) {
	ctx := context.Background()
	prod := &fakeRetryProducer{}
	runs := &fakeRunRepo{runs: make(map[string]domain.DecisionRun)}
	cfg := domain.DefaultRetryConfig()
	rm := NewRetryManager(prod, prod, runs, cfg)

	retryInfo := &domain.RetryInfo{
		AttemptCount: 0,
		MaxAttempts:  cfg.MaxRetries,
		LastError:    "upstream rate limit",
		RetryStatus:  domain.RetryStatusNone,
	}
	payload := domain.DecisionRunTaskPayload{RunID: "run-1"}

	if err := rm.RetryJob(ctx, "run-1", retryInfo, payload); err != nil {
		t.Fatalf("RetryJob returned error: %v", err)
	}
	if len(prod.enqueueDLQCalls) != 1 {
		t.Fatalf("expected 1 DLQ enqueue call, got %d", len(prod.enqueueDLQCalls))
	}
}

func TestRetryManager_GetRetryStats_ReturnsMap(t *testing.T) {
	prod := &fakeRetryProducer{}
	rm := NewRetryManager(prod, prod, &fakeRunRepo{}, domain.DefaultRetryConfig())

	stats, err := rm.GetRetryStats(context.Background())
	if err != nil {
		t.Fatalf("GetRetryStats returned error: %v", err)
	}
	if _, ok := stats["total_retries"]; !ok {
		t.Fatalf("expected total_retries key in stats map")
	}
}
