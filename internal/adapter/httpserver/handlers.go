// Package httpserver contains HTTP handlers and middleware.
//
// It provides REST API endpoints for triggering and inspecting supplier
// offer acquisition, demand forecasting, inventory policy and allocation
// optimisation runs. The package follows clean architecture principles
// and provides a clear separation between HTTP concerns and business
// logic.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/supplychainopt/decision-pipeline/internal/config"
	"github.com/supplychainopt/decision-pipeline/internal/domain"
	"github.com/supplychainopt/decision-pipeline/internal/service/allocation"
	"github.com/supplychainopt/decision-pipeline/internal/service/forecast"
	"github.com/supplychainopt/decision-pipeline/internal/service/inventory"
	"github.com/supplychainopt/decision-pipeline/internal/service/offeracq"
	"github.com/supplychainopt/decision-pipeline/internal/usecase/decision"
)

// Server aggregates handler dependencies: the decision orchestrator plus
// the individual stage services so each stage can also be triggered and
// inspected on its own, as the HTTP surface requires.
type Server struct {
	Cfg config.Config

	Decision  *decision.Service
	Products  domain.ProductRepository
	Locations domain.LocationRepository
	Suppliers domain.SupplierRepository
	Demand    domain.DemandRepository
	Offers    domain.OfferRepository
	Runs      domain.RunRepository

	SourceRegistry *offeracq.Registry
	OfferTTL       time.Duration

	DBCheck    func(ctx context.Context) error
	QueueCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(
	cfg config.Config,
	dec *decision.Service,
	products domain.ProductRepository,
	locations domain.LocationRepository,
	suppliers domain.SupplierRepository,
	demand domain.DemandRepository,
	offers domain.OfferRepository,
	runs domain.RunRepository,
	sourceRegistry *offeracq.Registry,
	offerTTL time.Duration,
	dbCheck func(context.Context) error,
	queueCheck func(context.Context) error,
) *Server {
	return &Server{
		Cfg: cfg, Decision: dec,
		Products: products, Locations: locations, Suppliers: suppliers,
		Demand: demand, Offers: offers, Runs: runs,
		SourceRegistry: sourceRegistry, OfferTTL: offerTTL,
		DBCheck: dbCheck, QueueCheck: queueCheck,
	}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid json body", domain.ErrInvalidArgument), nil)
		return false
	}
	if err := getValidator().Struct(dst); err != nil {
		verrs := map[string]string{}
		if ve, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range ve {
				verrs[strings.ToLower(fe.Field())] = fe.Tag()
			}
		}
		writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
		return false
	}
	return true
}

// recommendRequest is the body of POST /decisions/recommend.
type recommendRequest struct {
	SKUs                   []string `json:"skus"`
	Sources                []string `json:"sources"`
	UseP90Demand           bool     `json:"use_p90_demand"`
	MaxSuppliersPerProduct int      `json:"max_suppliers_per_product"`
	HorizonPeriods         int      `json:"horizon_periods"`
}

// RecommendHandler enqueues a full decision pipeline run.
func (s *Server) RecommendHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req recommendRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		horizonDays := req.HorizonPeriods
		if horizonDays <= 0 {
			horizonDays = s.Cfg.ForecastHorizonDays
		}
		maxSuppliers := req.MaxSuppliersPerProduct
		if maxSuppliers <= 0 {
			maxSuppliers = 3
		}

		run, err := s.Decision.Enqueue(r.Context(), decision.RecommendRequest{
			SKUs:                   req.SKUs,
			Sources:                req.Sources,
			UseP90Demand:           req.UseP90Demand,
			MaxSuppliersPerProduct: maxSuppliers,
			HorizonDays:            horizonDays,
			Frequency:              s.Cfg.ForecastFrequency,
			IdempotencyKey:         r.Header.Get("Idempotency-Key"),
		})
		if err != nil {
			writeError(w, r, fmt.Errorf("enqueue decision run: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusAccepted, run)
	}
}

// DecisionRunHandler returns the current state of a decision run.
func (s *Server) DecisionRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "run_id")
		if res := ValidateRunID(runID); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, res.Errors[0].Message), nil)
			return
		}
		run, err := s.Runs.GetDecisionRun(r.Context(), runID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

// forecastRunRequest is the body of POST /forecast/run.
type forecastRunRequest struct {
	SKUIDs    []string `json:"sku_ids"`
	Horizon   int      `json:"horizon"`
	Frequency string   `json:"frequency"`
}

// ForecastRunHandler triggers a standalone forecast run.
func (s *Server) ForecastRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req forecastRunRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		horizon := req.Horizon
		if horizon <= 0 {
			horizon = s.Cfg.ForecastHorizonDays
		}
		frequency := req.Frequency
		if frequency == "" {
			frequency = s.Cfg.ForecastFrequency
		}

		productIDs, err := s.resolveProductIDs(r.Context(), req.SKUIDs)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		svc := forecast.NewService(s.Products, s.Locations, s.Demand, s.Runs)
		run, err := svc.Run(r.Context(), productIDs, horizon, frequency)
		if err != nil {
			writeError(w, r, fmt.Errorf("forecast run: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusAccepted, run)
	}
}

// ForecastResultsHandler returns the predictions produced by a forecast run.
func (s *Server) ForecastResultsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "run_id")
		if res := ValidateRunID(runID); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, res.Errors[0].Message), nil)
			return
		}
		run, err := s.Runs.GetForecastRun(r.Context(), runID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if !run.Status.IsTerminal() {
			writeJSON(w, http.StatusOK, map[string]any{"status": run.Status, "results": []domain.ForecastResult{}})
			return
		}
		results, err := s.Runs.ForecastResultsForRun(r.Context(), runID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": run.Status, "results": results})
	}
}

// inventoryPolicyRequest is the body of POST /inventory/policy.
type inventoryPolicyRequest struct {
	ForecastRunID  string `json:"forecast_run_id" validate:"required"`
	PeriodsPerYear int    `json:"periods_per_year"`
}

// InventoryPolicyHandler triggers a standalone inventory policy run.
func (s *Server) InventoryPolicyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req inventoryPolicyRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		svc := inventory.NewService(s.Products, s.Locations, s.Demand, s.Offers, s.Runs)
		run, err := svc.Run(r.Context(), req.ForecastRunID)
		if err != nil {
			writeError(w, r, fmt.Errorf("inventory policy run: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusAccepted, run)
	}
}

// optimizeRunRequest is the body of POST /optimize/run.
type optimizeRunRequest struct {
	ForecastRunID          string   `json:"forecast_run_id" validate:"required"`
	InventoryRunID         string   `json:"inventory_run_id" validate:"required"`
	ProductIDs             []string `json:"product_ids"`
	UseP90Demand           bool     `json:"use_p90_demand"`
	MaxSuppliersPerProduct int      `json:"max_suppliers_per_product"`
}

// OptimizeRunHandler triggers a standalone allocation optimisation run.
func (s *Server) OptimizeRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req optimizeRunRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		svc := allocation.NewService(s.Products, s.Locations, s.Demand, s.Offers, s.Runs, req.MaxSuppliersPerProduct)
		svc.UseP90 = req.UseP90Demand
		run, err := svc.Run(r.Context(), req.ForecastRunID, req.InventoryRunID)
		if err != nil {
			writeError(w, r, fmt.Errorf("optimisation run: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusAccepted, run)
	}
}

// OptimizeExplainHandler returns the cost breakdown, binding constraints and
// top allocations for a completed optimisation run.
func (s *Server) OptimizeExplainHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "run_id")
		if res := ValidateRunID(runID); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: %s", domain.ErrInvalidArgument, res.Errors[0].Message), nil)
			return
		}
		run, err := s.Runs.GetOptimisationRun(r.Context(), runID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		allocations, err := s.Runs.OptimisationAllocationsForRun(r.Context(), runID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		costPct := map[string]float64{}
		if run.TotalCost > 0 {
			for k, v := range run.CostBreakdown {
				costPct[k] = v / run.TotalCost * 100
			}
		}

		top := allocations
		const topN = 10
		if len(top) > topN {
			top = top[:topN]
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":              run.Status,
			"cost_breakdown":      run.CostBreakdown,
			"cost_pct":            costPct,
			"binding_constraints": run.BindingConstraints,
			"top_allocations":     top,
		})
	}
}

// scrapeJobRequest is the body of POST /scrape/jobs.
type scrapeJobRequest struct {
	SKUs    []string `json:"skus" validate:"required,min=1"`
	Sources []string `json:"sources"`
}

// ScrapeJobsHandler triggers a standalone offer acquisition (scraper) run.
func (s *Server) ScrapeJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scrapeJobRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}
		products, err := s.productsForSKUs(r.Context(), req.SKUs)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		registry := s.SourceRegistry.Subset(req.Sources)
		svc := offeracq.NewService(s.Products, s.Suppliers, s.Offers, s.Runs, registry, s.OfferTTL)
		job, err := svc.Run(r.Context(), products)
		if err != nil {
			writeError(w, r, fmt.Errorf("scrape job: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	}
}

// productsForSKUs resolves every SKU to its Product row, failing the whole
// request with a 404 if any SKU is unknown.
func (s *Server) productsForSKUs(ctx context.Context, skus []string) ([]domain.Product, error) {
	products := make([]domain.Product, 0, len(skus))
	for _, sku := range skus {
		p, err := s.Products.GetBySKU(ctx, sku)
		if err != nil {
			return nil, fmt.Errorf("%w: sku %q: %v", domain.ErrNotFound, sku, err)
		}
		products = append(products, p)
	}
	return products, nil
}

// resolveProductIDs resolves SKU IDs to product IDs, or returns an empty
// slice (meaning "all products") when skus is empty.
func (s *Server) resolveProductIDs(ctx context.Context, skus []string) ([]string, error) {
	if len(skus) == 0 {
		return nil, nil
	}
	products, err := s.productsForSKUs(ctx, skus)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}
	return ids, nil
}

// ReadyzHandler returns a readiness handler that probes the database and
// the message queue.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 2)
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks = append(checks, check{Name: "db", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "db", OK: true})
			}
		}
		if s.QueueCheck != nil {
			if err := s.QueueCheck(ctx); err != nil {
				checks = append(checks, check{Name: "queue", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "queue", OK: true})
			}
		}
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// OpenAPIServe serves api/openapi.yaml if present.
func (s *Server) OpenAPIServe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := os.ReadFile("api/openapi.yaml")
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	}
}
