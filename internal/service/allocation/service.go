package allocation

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/supplychainopt/decision-pipeline/internal/adapter/observability"
	"github.com/supplychainopt/decision-pipeline/internal/domain"
	"github.com/supplychainopt/decision-pipeline/internal/service/allocation/milp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const stageName = "allocation"

// Service drives one OptimisationRun: for every product that has supplier
// offers, it builds and solves a per-product supplier/location allocation
// MILP from the forecast demand of forecastRunID and the safety stocks of
// inventoryPolicyRunID (zero for a location with none), and persists the
// resulting allocations.
type Service struct {
	Products  domain.ProductRepository
	Locations domain.LocationRepository
	Demand    domain.DemandRepository
	Offers    domain.OfferRepository
	Runs      domain.RunRepository

	MaxSuppliersPerProduct int
	UseP90                 bool
}

// NewService builds a Service. maxSuppliersPerProduct defaults to 3 when <= 0.
func NewService(products domain.ProductRepository, locations domain.LocationRepository, demand domain.DemandRepository, offers domain.OfferRepository, runs domain.RunRepository, maxSuppliersPerProduct int) *Service {
	if maxSuppliersPerProduct <= 0 {
		maxSuppliersPerProduct = defaultMaxSuppliersPerProduct
	}
	return &Service{Products: products, Locations: locations, Demand: demand, Offers: offers, Runs: runs, MaxSuppliersPerProduct: maxSuppliersPerProduct}
}

// Run executes an optimisation run against the forecast results of
// forecastRunID and the safety stocks of inventoryPolicyRunID.
func (s *Service) Run(ctx domain.Context, forecastRunID, inventoryPolicyRunID string) (domain.OptimisationRun, error) {
	tracer := otel.Tracer("allocation.service")
	ctx, span := tracer.Start(ctx, "allocation.Service.Run")
	defer span.End()

	run := domain.OptimisationRun{
		Status:               domain.RunQueued,
		InventoryPolicyRunID: inventoryPolicyRunID,
		CreatedAt:            time.Now().UTC(),
		UpdatedAt:            time.Now().UTC(),
	}
	id, err := s.Runs.CreateOptimisationRun(ctx, run)
	if err != nil {
		span.RecordError(err)
		return domain.OptimisationRun{}, fmt.Errorf("op=allocation.Service.Run: create optimisation run: %w", err)
	}
	run.ID = id

	observability.EnqueueRun(stageName)
	observability.StartRun(stageName)

	if err := s.transition(ctx, &run, domain.RunRunning); err != nil {
		observability.FailRun(stageName)
		return run, err
	}

	start := time.Now()

	forecasts, err := s.Runs.ForecastResultsForRun(ctx, forecastRunID)
	if err != nil {
		return s.fail(ctx, run, fmt.Errorf("op=allocation.Service.Run: load forecast results: %w", err))
	}
	policies, err := s.Runs.InventoryPolicyResultsForRun(ctx, inventoryPolicyRunID)
	if err != nil {
		return s.fail(ctx, run, fmt.Errorf("op=allocation.Service.Run: load inventory policy results: %w", err))
	}

	products, err := s.Products.List(ctx, 0)
	if err != nil {
		return s.fail(ctx, run, fmt.Errorf("op=allocation.Service.Run: list products: %w", err))
	}
	locations, err := s.Locations.List(ctx)
	if err != nil {
		return s.fail(ctx, run, fmt.Errorf("op=allocation.Service.Run: list locations: %w", err))
	}

	demandByProduct := aggregateDemand(forecasts, s.UseP90)
	safetyStockByProduct := safetyStocksByProduct(policies)

	var (
		allAllocations []domain.OptimisationAllocation
		totalCost      float64
		breakdown      = map[string]float64{"procurement": 0, "shipping": 0, "holding": 0, "penalty": 0}
		bindingNames   []string
		anyInfeasible  bool
		productsSolved int
	)

	for _, product := range products {
		offers, err := s.Offers.BestForProduct(ctx, product.ID, maxOffersPerProduct)
		if err != nil {
			return s.fail(ctx, run, fmt.Errorf("op=allocation.Service.Run: best offers for %s: %w", product.ID, err))
		}
		if len(offers) == 0 {
			continue
		}

		demandByLocation := demandByProduct[product.ID]
		costByLocation := make(map[string]domain.CostParameter)
		for _, loc := range locations {
			cp, err := s.Demand.CostParams(ctx, product.ID, loc.ID)
			if err == nil {
				costByLocation[loc.ID] = cp
			}
		}

		result := solveProduct(product, locations, offers, demandByLocation, costByLocation, safetyStockByProduct[product.ID], s.MaxSuppliersPerProduct)
		switch result.status {
		case milp.StatusOptimal:
			productsSolved++
			allAllocations = append(allAllocations, result.allocations...)
			totalCost += result.totalCost
			for k, v := range result.costBreakdown {
				breakdown[k] += v
			}
			bindingNames = append(bindingNames, result.bindingNames...)
		case milp.StatusInfeasible:
			anyInfeasible = true
			slog.Warn("allocation: product infeasible", slog.String("product_id", product.ID))
		}
	}

	solveDuration := time.Since(start)

	if len(allAllocations) > 0 {
		for i := range allAllocations {
			allAllocations[i].RunID = run.ID
		}
		if err := s.Runs.InsertOptimisationAllocations(ctx, allAllocations); err != nil {
			return s.fail(ctx, run, fmt.Errorf("op=allocation.Service.Run: insert allocations: %w", err))
		}
	}

	if len(bindingNames) > 20 {
		bindingNames = bindingNames[:20]
	}

	run.TotalCost = totalCost
	run.SolveDurationMS = solveDuration.Milliseconds()
	run.BindingConstraints = bindingNames
	run.CostBreakdown = breakdown

	finalStatus := domain.RunSucceeded
	run.SolverStatus = "optimal"
	if anyInfeasible && productsSolved == 0 {
		finalStatus = domain.RunInfeasible
		run.SolverStatus = "infeasible"
	} else if anyInfeasible {
		run.SolverStatus = "partial"
	}

	if err := s.transition(ctx, &run, finalStatus); err != nil {
		observability.FailRun(stageName)
		return run, err
	}
	observability.CompleteRun(stageName, string(finalStatus))
	observability.ObserveAllocation(run.SolverStatus, totalCost, solveDuration)

	span.SetAttributes(
		attribute.Int("allocation.products_solved", productsSolved),
		attribute.Float64("allocation.total_cost", totalCost),
	)
	slog.Info("optimisation run completed",
		slog.String("optimisation_run_id", run.ID),
		slog.Int("products_solved", productsSolved),
		slog.Float64("total_cost", totalCost))

	return run, nil
}

func (s *Service) transition(ctx domain.Context, run *domain.OptimisationRun, next domain.RunStatus) error {
	if err := domain.Transition(run.Status, next); err != nil {
		return fmt.Errorf("op=allocation.Service.transition: %w", err)
	}
	run.Status = next
	run.UpdatedAt = time.Now().UTC()
	if err := s.Runs.UpdateOptimisationRun(ctx, *run); err != nil {
		return fmt.Errorf("op=allocation.Service.transition: update optimisation run: %w", err)
	}
	return nil
}

func (s *Service) fail(ctx domain.Context, run domain.OptimisationRun, cause error) (domain.OptimisationRun, error) {
	run.Error = cause.Error()
	if err := s.transition(ctx, &run, domain.RunFailed); err != nil {
		slog.Error("allocation: failed to record failed transition", slog.Any("error", err))
	}
	observability.FailRun(stageName)
	return run, fmt.Errorf("op=allocation.Service.Run: %w", cause)
}

// aggregateDemand sums forecast periods per product/location into a single
// planning-horizon demand figure, mirroring the reference implementation's
// aggregation of ForecastResult rows over a run.
func aggregateDemand(results []domain.ForecastResult, useP90 bool) map[string]map[string]float64 {
	out := make(map[string]map[string]float64)
	for _, r := range results {
		byLoc, ok := out[r.ProductID]
		if !ok {
			byLoc = make(map[string]float64)
			out[r.ProductID] = byLoc
		}
		v := r.P50
		if useP90 {
			v = r.P90
		}
		byLoc[r.LocationID] += v
	}
	return out
}

func safetyStocksByProduct(results []domain.InventoryPolicyResult) map[string]map[string]float64 {
	out := make(map[string]map[string]float64)
	for _, r := range results {
		byLoc, ok := out[r.ProductID]
		if !ok {
			byLoc = make(map[string]float64)
			out[r.ProductID] = byLoc
		}
		byLoc[r.LocationID] = r.SafetyStock
	}
	return out
}
