package inventory

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/supplychainopt/decision-pipeline/internal/adapter/observability"
	"github.com/supplychainopt/decision-pipeline/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	stageName            = "inventory"
	defaultLeadTimeWeeks = 4.0
)

// Service drives one InventoryPolicyRun: for every product/location with a
// configured CostParameter and a forecast from the given ForecastRun, it
// computes EOQ/safety-stock/reorder-point/annual-cost using the cheapest
// available supplier lead time as the planning lead time.
type Service struct {
	Products  domain.ProductRepository
	Locations domain.LocationRepository
	Demand    domain.DemandRepository
	Offers    domain.OfferRepository
	Runs      domain.RunRepository
}

// NewService builds a Service.
func NewService(products domain.ProductRepository, locations domain.LocationRepository, demand domain.DemandRepository, offers domain.OfferRepository, runs domain.RunRepository) *Service {
	return &Service{Products: products, Locations: locations, Demand: demand, Offers: offers, Runs: runs}
}

// Run executes an inventory policy run consuming the forecast results of
// forecastRunID for every product/location pair that has a configured
// CostParameter.
func (s *Service) Run(ctx domain.Context, forecastRunID string) (domain.InventoryPolicyRun, error) {
	tracer := otel.Tracer("inventory.service")
	ctx, span := tracer.Start(ctx, "inventory.Service.Run")
	defer span.End()

	run := domain.InventoryPolicyRun{
		Status:        domain.RunQueued,
		ForecastRunID: forecastRunID,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	id, err := s.Runs.CreateInventoryPolicyRun(ctx, run)
	if err != nil {
		span.RecordError(err)
		return domain.InventoryPolicyRun{}, fmt.Errorf("op=inventory.Service.Run: create inventory policy run: %w", err)
	}
	run.ID = id

	observability.EnqueueRun(stageName)
	observability.StartRun(stageName)

	if err := s.transition(ctx, &run, domain.RunRunning); err != nil {
		observability.FailRun(stageName)
		return run, err
	}

	forecasts, err := s.Runs.ForecastResultsForRun(ctx, forecastRunID)
	if err != nil {
		return s.fail(ctx, run, fmt.Errorf("op=inventory.Service.Run: load forecast results: %w", err))
	}

	products, err := s.Products.List(ctx, 0)
	if err != nil {
		return s.fail(ctx, run, fmt.Errorf("op=inventory.Service.Run: list products: %w", err))
	}
	locations, err := s.Locations.List(ctx)
	if err != nil {
		return s.fail(ctx, run, fmt.Errorf("op=inventory.Service.Run: list locations: %w", err))
	}

	byPair := groupForecastsByPair(forecasts)

	var results []domain.InventoryPolicyResult
	for _, product := range products {
		for _, location := range locations {
			series, ok := byPair[pairKey(product.ID, location.ID)]
			if !ok || len(series) == 0 {
				continue
			}
			cost, err := s.Demand.CostParams(ctx, product.ID, location.ID)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return s.fail(ctx, run, fmt.Errorf("op=inventory.Service.Run: cost params: %w", err))
			}

			leadTimeWeeks, err := s.leadTimeWeeks(ctx, product.ID)
			if err != nil {
				return s.fail(ctx, run, err)
			}

			result := computePolicy(run.ID, product.ID, location.ID, series, cost, leadTimeWeeks)
			results = append(results, result)
		}
	}

	if len(results) > 0 {
		if err := s.Runs.InsertInventoryPolicyResults(ctx, results); err != nil {
			return s.fail(ctx, run, fmt.Errorf("op=inventory.Service.Run: insert inventory policy results: %w", err))
		}
	}

	if err := s.transition(ctx, &run, domain.RunSucceeded); err != nil {
		observability.FailRun(stageName)
		return run, err
	}
	observability.CompleteRun(stageName, string(domain.RunSucceeded))

	span.SetAttributes(attribute.Int("inventory.policies_computed", len(results)))
	slog.Info("inventory policy run completed",
		slog.String("inventory_policy_run_id", run.ID),
		slog.Int("policies", len(results)))

	return run, nil
}

func (s *Service) leadTimeWeeks(ctx domain.Context, productID string) (float64, error) {
	offers, err := s.Offers.BestForProduct(ctx, productID, 1)
	if err != nil {
		return 0, fmt.Errorf("op=inventory.Service.leadTimeWeeks: %w", err)
	}
	if len(offers) == 0 {
		return defaultLeadTimeWeeks, nil
	}
	return float64(offers[0].LeadTimeDays) / 7.0, nil
}

func computePolicy(runID, productID, locationID string, p50s []float64, cost domain.CostParameter, leadTimeWeeks float64) domain.InventoryPolicyResult {
	demandMean := mean(p50s)
	demandStd := stddev(p50s)
	demandAnnual := demandMean * PeriodsPerYear
	hAnnual := cost.HoldingCostPerUnit * PeriodsPerYear

	eoq := computeEOQ(demandAnnual, cost.OrderingCost, hAnnual)
	ss := computeSafetyStock(demandStd, leadTimeWeeks, cost.ServiceLevel, 0)
	rop := computeROP(demandMean, leadTimeWeeks, ss)
	_, _, total := annualCosts(eoq, demandAnnual, cost.OrderingCost, hAnnual)

	return domain.InventoryPolicyResult{
		RunID:        runID,
		ProductID:    productID,
		LocationID:   locationID,
		EOQ:          eoq,
		SafetyStock:  ss,
		ReorderPoint: rop,
		AnnualCost:   total,
		LeadTimeDays: int(round1(leadTimeWeeks * 7)),
	}
}

func (s *Service) transition(ctx domain.Context, run *domain.InventoryPolicyRun, next domain.RunStatus) error {
	if err := domain.Transition(run.Status, next); err != nil {
		return fmt.Errorf("op=inventory.Service.transition: %w", err)
	}
	run.Status = next
	run.UpdatedAt = time.Now().UTC()
	if err := s.Runs.UpdateInventoryPolicyRun(ctx, *run); err != nil {
		return fmt.Errorf("op=inventory.Service.transition: update inventory policy run: %w", err)
	}
	return nil
}

func (s *Service) fail(ctx domain.Context, run domain.InventoryPolicyRun, cause error) (domain.InventoryPolicyRun, error) {
	run.Error = cause.Error()
	if err := s.transition(ctx, &run, domain.RunFailed); err != nil {
		slog.Error("inventory: failed to record failed transition", slog.Any("error", err))
	}
	observability.FailRun(stageName)
	return run, fmt.Errorf("op=inventory.Service.Run: %w", cause)
}

func groupForecastsByPair(results []domain.ForecastResult) map[string][]float64 {
	out := make(map[string][]float64)
	for _, r := range results {
		k := pairKey(r.ProductID, r.LocationID)
		out[k] = append(out[k], r.P50)
	}
	return out
}

func pairKey(productID, locationID string) string { return productID + "|" + locationID }

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	variance := ss / float64(len(xs)-1)
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance)
}
