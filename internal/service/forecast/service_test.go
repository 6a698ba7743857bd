package forecast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supplychainopt/decision-pipeline/internal/domain"
)

type fakeProductRepo struct {
	products map[string]domain.Product
}

func (f *fakeProductRepo) Create(domain.Context, domain.Product) (string, error) { return "", nil }
func (f *fakeProductRepo) Get(_ domain.Context, id string) (domain.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return domain.Product{}, domain.ErrNotFound
	}
	return p, nil
}
func (f *fakeProductRepo) GetBySKU(domain.Context, string) (domain.Product, error) {
	return domain.Product{}, domain.ErrNotFound
}
func (f *fakeProductRepo) List(domain.Context, int) ([]domain.Product, error) {
	out := make([]domain.Product, 0, len(f.products))
	for _, p := range f.products {
		out = append(out, p)
	}
	return out, nil
}

type fakeLocationRepo struct {
	locations []domain.Location
}

func (f *fakeLocationRepo) Create(domain.Context, domain.Location) (string, error) { return "", nil }
func (f *fakeLocationRepo) Get(domain.Context, string) (domain.Location, error) {
	return domain.Location{}, domain.ErrNotFound
}
func (f *fakeLocationRepo) List(domain.Context) ([]domain.Location, error) { return f.locations, nil }

type fakeDemandRepo struct {
	history map[string][]domain.DemandHistory
}

func key(productID, locationID string) string { return productID + "|" + locationID }

func (f *fakeDemandRepo) History(_ domain.Context, productID, locationID string) ([]domain.DemandHistory, error) {
	return f.history[key(productID, locationID)], nil
}
func (f *fakeDemandRepo) InsertHistory(domain.Context, []domain.DemandHistory) error { return nil }
func (f *fakeDemandRepo) CostParams(domain.Context, string, string) (domain.CostParameter, error) {
	return domain.CostParameter{}, domain.ErrNotFound
}

type fakeRunRepo struct {
	run     domain.ForecastRun
	results []domain.ForecastResult
}

func (f *fakeRunRepo) CreateScraperJob(domain.Context, domain.ScraperJob) (string, error) { return "", nil }
func (f *fakeRunRepo) UpdateScraperJob(domain.Context, domain.ScraperJob) error            { return nil }
func (f *fakeRunRepo) GetScraperJob(domain.Context, string) (domain.ScraperJob, error) {
	return domain.ScraperJob{}, nil
}
func (f *fakeRunRepo) CreateForecastRun(_ domain.Context, r domain.ForecastRun) (string, error) {
	r.ID = "forecast-run-1"
	f.run = r
	return r.ID, nil
}
func (f *fakeRunRepo) UpdateForecastRun(_ domain.Context, r domain.ForecastRun) error {
	f.run = r
	return nil
}
func (f *fakeRunRepo) GetForecastRun(domain.Context, string) (domain.ForecastRun, error) { return f.run, nil }
func (f *fakeRunRepo) InsertForecastResults(_ domain.Context, results []domain.ForecastResult) error {
	f.results = append(f.results, results...)
	return nil
}
func (f *fakeRunRepo) ForecastResultsForRun(domain.Context, string) ([]domain.ForecastResult, error) {
	return f.results, nil
}
func (f *fakeRunRepo) CreateInventoryPolicyRun(domain.Context, domain.InventoryPolicyRun) (string, error) {
	return "", nil
}
func (f *fakeRunRepo) UpdateInventoryPolicyRun(domain.Context, domain.InventoryPolicyRun) error {
	return nil
}
func (f *fakeRunRepo) GetInventoryPolicyRun(domain.Context, string) (domain.InventoryPolicyRun, error) {
	return domain.InventoryPolicyRun{}, nil
}
func (f *fakeRunRepo) InsertInventoryPolicyResults(domain.Context, []domain.InventoryPolicyResult) error {
	return nil
}
func (f *fakeRunRepo) InventoryPolicyResultsForRun(domain.Context, string) ([]domain.InventoryPolicyResult, error) {
	return nil, nil
}
func (f *fakeRunRepo) CreateOptimisationRun(domain.Context, domain.OptimisationRun) (string, error) {
	return "", nil
}
func (f *fakeRunRepo) UpdateOptimisationRun(domain.Context, domain.OptimisationRun) error { return nil }
func (f *fakeRunRepo) GetOptimisationRun(domain.Context, string) (domain.OptimisationRun, error) {
	return domain.OptimisationRun{}, nil
}
func (f *fakeRunRepo) InsertOptimisationAllocations(domain.Context, []domain.OptimisationAllocation) error {
	return nil
}
func (f *fakeRunRepo) OptimisationAllocationsForRun(domain.Context, string) ([]domain.OptimisationAllocation, error) {
	return nil, nil
}
func (f *fakeRunRepo) CreateDecisionRun(domain.Context, domain.DecisionRun) (string, error) { return "", nil }
func (f *fakeRunRepo) UpdateDecisionRun(domain.Context, domain.DecisionRun) error            { return nil }
func (f *fakeRunRepo) GetDecisionRun(domain.Context, string) (domain.DecisionRun, error) {
	return domain.DecisionRun{}, nil
}
func (f *fakeRunRepo) FindDecisionRunByIdempotencyKey(domain.Context, string) (domain.DecisionRun, error) {
	return domain.DecisionRun{}, domain.ErrNotFound
}
func (f *fakeRunRepo) ListStuckDecisionRuns(domain.Context, time.Time) ([]domain.DecisionRun, error) {
	return nil, nil
}

func TestService_Run_ProducesForecastsForSufficientHistory(t *testing.T) {
	product := domain.Product{ID: "p1", SKU: "SKU-1"}
	location := domain.Location{ID: "l1", Name: "DC1"}

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var history []domain.DemandHistory
	for w := 0; w < 30; w++ {
		history = append(history, domain.DemandHistory{
			ProductID:  product.ID,
			LocationID: location.ID,
			Date:       start.Add(time.Duration(w) * 7 * 24 * time.Hour),
			Qty:        100 + float64(w%5),
		})
	}

	products := &fakeProductRepo{products: map[string]domain.Product{product.ID: product}}
	locations := &fakeLocationRepo{locations: []domain.Location{location}}
	demand := &fakeDemandRepo{history: map[string][]domain.DemandHistory{key(product.ID, location.ID): history}}
	runs := &fakeRunRepo{}

	svc := NewService(products, locations, demand, runs)

	run, err := svc.Run(context.Background(), nil, 28, "W")
	require.NoError(t, err)
	assert.Equal(t, domain.RunSucceeded, run.Status)
	assert.NotEmpty(t, runs.results)
	for _, r := range runs.results {
		assert.GreaterOrEqual(t, r.P90, r.P50)
		assert.NotEmpty(t, r.Model)
	}
}

func TestService_Run_SkipsInsufficientHistory(t *testing.T) {
	product := domain.Product{ID: "p1", SKU: "SKU-1"}
	location := domain.Location{ID: "l1", Name: "DC1"}

	products := &fakeProductRepo{products: map[string]domain.Product{product.ID: product}}
	locations := &fakeLocationRepo{locations: []domain.Location{location}}
	demand := &fakeDemandRepo{history: map[string][]domain.DemandHistory{}}
	runs := &fakeRunRepo{}

	svc := NewService(products, locations, demand, runs)

	run, err := svc.Run(context.Background(), nil, 28, "W")
	require.NoError(t, err)
	assert.Equal(t, domain.RunSucceeded, run.Status)
	assert.Empty(t, runs.results)
}
