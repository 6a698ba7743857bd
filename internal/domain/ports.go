package domain

import "time"

// ProductRepository manages Product persistence.
type ProductRepository interface {
	// Create creates a new product.
	Create(ctx Context, p Product) (string, error)
	// Get retrieves a product by ID.
	Get(ctx Context, id string) (Product, error)
	// GetBySKU retrieves a product by its SKU.
	GetBySKU(ctx Context, sku string) (Product, error)
	// List returns all products, optionally limited.
	List(ctx Context, limit int) ([]Product, error)
}

// LocationRepository manages Location persistence.
type LocationRepository interface {
	// Create creates a new location.
	Create(ctx Context, l Location) (string, error)
	// Get retrieves a location by ID.
	Get(ctx Context, id string) (Location, error)
	// List returns all locations.
	List(ctx Context) ([]Location, error)
}

// SupplierRepository manages Supplier and Lane persistence.
type SupplierRepository interface {
	// Create creates a new supplier.
	Create(ctx Context, s Supplier) (string, error)
	// Get retrieves a supplier by ID.
	Get(ctx Context, id string) (Supplier, error)
	// GetOrCreateByName finds a supplier by name or creates one with the given attributes.
	GetOrCreateByName(ctx Context, name string, attrs Supplier) (Supplier, error)
	// List returns all active suppliers.
	List(ctx Context) ([]Supplier, error)
	// UpsertLane creates or returns an existing lane for a supplier/location/mode tuple.
	UpsertLane(ctx Context, l Lane) (string, error)
	// LanesForSupplier returns lanes originating from the given supplier.
	LanesForSupplier(ctx Context, supplierID string) ([]Lane, error)
}

// OfferRepository manages SupplierOffer and ShippingQuote persistence.
type OfferRepository interface {
	// Create persists a new supplier offer.
	Create(ctx Context, o SupplierOffer) (string, error)
	// FindFresh returns offers for supplier+product captured at or after sinceUTC,
	// used by acquisition to avoid re-scraping duplicates within a TTL window.
	FindFresh(ctx Context, supplierID, productID string, sinceUTC time.Time) ([]SupplierOffer, error)
	// BestForProduct returns the best (lowest effective cost) offers for a product,
	// up to limit, across all suppliers.
	BestForProduct(ctx Context, productID string, limit int) ([]SupplierOffer, error)
	// ListForProduct returns all offers captured for a product.
	ListForProduct(ctx Context, productID string) ([]SupplierOffer, error)
	// CreateShippingQuote persists a shipping quote.
	CreateShippingQuote(ctx Context, q ShippingQuote) (string, error)
	// ShippingQuotesForProduct returns quotes for a product across all lanes.
	ShippingQuotesForProduct(ctx Context, productID string) ([]ShippingQuote, error)
}

// DemandRepository manages demand history and cost parameters.
type DemandRepository interface {
	// History returns demand history for a product/location ordered by date ascending.
	History(ctx Context, productID, locationID string) ([]DemandHistory, error)
	// InsertHistory persists a batch of demand observations.
	InsertHistory(ctx Context, rows []DemandHistory) error
	// CostParams returns the cost parameters for a product/location, if configured.
	CostParams(ctx Context, productID, locationID string) (CostParameter, error)
}

// RunRepository manages the lifecycle of pipeline stage runs and their results.
type RunRepository interface {
	// CreateScraperJob creates a new scraper run in RunQueued status.
	CreateScraperJob(ctx Context, j ScraperJob) (string, error)
	// UpdateScraperJob updates a scraper run's terminal state.
	UpdateScraperJob(ctx Context, j ScraperJob) error
	// GetScraperJob retrieves a scraper run by ID.
	GetScraperJob(ctx Context, id string) (ScraperJob, error)

	// CreateForecastRun creates a new forecast run in RunQueued status.
	CreateForecastRun(ctx Context, r ForecastRun) (string, error)
	// UpdateForecastRun updates a forecast run's terminal state.
	UpdateForecastRun(ctx Context, r ForecastRun) error
	// GetForecastRun retrieves a forecast run by ID.
	GetForecastRun(ctx Context, id string) (ForecastRun, error)
	// InsertForecastResults persists the per-period predictions of a forecast run.
	InsertForecastResults(ctx Context, results []ForecastResult) error
	// ForecastResultsForRun returns the predictions produced by a forecast run.
	ForecastResultsForRun(ctx Context, runID string) ([]ForecastResult, error)

	// CreateInventoryPolicyRun creates a new inventory policy run in RunQueued status.
	CreateInventoryPolicyRun(ctx Context, r InventoryPolicyRun) (string, error)
	// UpdateInventoryPolicyRun updates an inventory policy run's terminal state.
	UpdateInventoryPolicyRun(ctx Context, r InventoryPolicyRun) error
	// GetInventoryPolicyRun retrieves an inventory policy run by ID.
	GetInventoryPolicyRun(ctx Context, id string) (InventoryPolicyRun, error)
	// InsertInventoryPolicyResults persists the per-product/location policies.
	InsertInventoryPolicyResults(ctx Context, results []InventoryPolicyResult) error
	// InventoryPolicyResultsForRun returns the policies produced by a run.
	InventoryPolicyResultsForRun(ctx Context, runID string) ([]InventoryPolicyResult, error)

	// CreateOptimisationRun creates a new optimisation run in RunQueued status.
	CreateOptimisationRun(ctx Context, r OptimisationRun) (string, error)
	// UpdateOptimisationRun updates an optimisation run's terminal state.
	UpdateOptimisationRun(ctx Context, r OptimisationRun) error
	// GetOptimisationRun retrieves an optimisation run by ID.
	GetOptimisationRun(ctx Context, id string) (OptimisationRun, error)
	// InsertOptimisationAllocations persists the allocations of an optimisation run.
	InsertOptimisationAllocations(ctx Context, allocations []OptimisationAllocation) error
	// OptimisationAllocationsForRun returns the allocations produced by a run.
	OptimisationAllocationsForRun(ctx Context, runID string) ([]OptimisationAllocation, error)

	// CreateDecisionRun creates a new decision pipeline run in RunQueued status.
	CreateDecisionRun(ctx Context, d DecisionRun) (string, error)
	// UpdateDecisionRun updates a decision pipeline run, including stage run IDs and summary.
	UpdateDecisionRun(ctx Context, d DecisionRun) error
	// GetDecisionRun retrieves a decision pipeline run by ID.
	GetDecisionRun(ctx Context, id string) (DecisionRun, error)
	// FindDecisionRunByIdempotencyKey finds a decision run by idempotency key.
	FindDecisionRunByIdempotencyKey(ctx Context, key string) (DecisionRun, error)
	// ListStuckDecisionRuns returns decision runs still RunRunning whose
	// UpdatedAt is older than olderThan, for the sweeper to fail out.
	ListStuckDecisionRuns(ctx Context, olderThan time.Time) ([]DecisionRun, error)
}

// Queue enqueues asynchronous pipeline work.
type Queue interface {
	// EnqueueDecisionRun enqueues a decision pipeline run for background processing.
	EnqueueDecisionRun(ctx Context, payload DecisionRunTaskPayload) (string, error)
}

// DecisionRunTaskPayload is the payload for a decision run enqueued to the background worker.
type DecisionRunTaskPayload struct {
	// RunID is the DecisionRun to execute.
	RunID string
	// ProductIDs restricts the run to a subset of products; empty means all.
	ProductIDs []string
	// HorizonDays is the forecast horizon in days for this run.
	HorizonDays int
	// Frequency is the forecast resampling frequency ("D", "W", "M"); empty
	// means the service default.
	Frequency string
	// Sources restricts offer acquisition to these source names; empty means
	// every registered source.
	Sources []string
	// UseP90Demand plans to the conservative P90 forecast instead of P50.
	UseP90Demand bool
	// MaxSuppliersPerProduct caps distinct suppliers selected per product;
	// zero means the service default.
	MaxSuppliersPerProduct int
	// IdempotencyKey is the caller-supplied key used to dedupe retries.
	IdempotencyKey *string
}

// OfferSource acquires candidate supplier offers for a product from one external source.
type OfferSource interface {
	// Name identifies the source (e.g. "mock_alibaba").
	Name() string
	// FetchOffers returns candidate offers for the given product.
	FetchOffers(ctx Context, product Product) ([]SupplierOffer, error)
}
