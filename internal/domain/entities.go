// Package domain defines core entities, ports, and domain-specific errors.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrRateLimited     = errors.New("rate limited")
	ErrInfeasible      = errors.New("no feasible allocation")
	ErrStageFailure    = errors.New("pipeline stage failed")
	ErrSourceFailure   = errors.New("offer source failure")
	ErrModelFitFailure = errors.New("forecast model fit failure")
	ErrInternal        = errors.New("internal error")
)

// Product is a stock-keeping unit tracked through the pipeline.
// Invariants: SKU is unique and non-empty; PackSize > 0.
//go:generate mockery --name=ProductRepository --with-expecter --filename=product_repository_mock.go
//go:generate mockery --name=LocationRepository --with-expecter --filename=location_repository_mock.go
//go:generate mockery --name=SupplierRepository --with-expecter --filename=supplier_repository_mock.go
//go:generate mockery --name=OfferRepository --with-expecter --filename=offer_repository_mock.go
//go:generate mockery --name=DemandRepository --with-expecter --filename=demand_repository_mock.go
//go:generate mockery --name=RunRepository --with-expecter --filename=run_repository_mock.go
//go:generate mockery --name=Queue --with-expecter --filename=queue_mock.go
type Product struct {
	// ID is the unique identifier for the product.
	ID string
	// SKU is the stock-keeping unit code, unique across products.
	SKU string
	// Name is the human-readable product name.
	Name string
	// Category groups related products for reporting.
	Category string
	// UOM is the unit of measure (each, case, kg, ...).
	UOM string
	// PackSize is the number of units per pack.
	PackSize int
	// CreatedAt is the timestamp when the product was created.
	CreatedAt time.Time
}

// Location is a demand or stocking point (warehouse, DC, store).
type Location struct {
	// ID is the unique identifier for the location.
	ID string
	// Name is the human-readable location name.
	Name string
	// Type classifies the location (warehouse, dc, store).
	Type string
	// Country is the ISO country code of the location.
	Country string
	// CreatedAt is the timestamp when the location was created.
	CreatedAt time.Time
}

// Supplier is a vendor capable of fulfilling SupplierOffers.
type Supplier struct {
	// ID is the unique identifier for the supplier.
	ID string
	// Name is the supplier's display name.
	Name string
	// Rating is a 0-5 quality/reliability score.
	Rating float64
	// Region is the supplier's broad geographic region.
	Region string
	// Country is the supplier's ISO country code.
	Country string
	// IncotermsSupported lists the Incoterms the supplier can quote under.
	IncotermsSupported []string
	// IsActive indicates whether the supplier is eligible for new offers.
	IsActive bool
	// CreatedAt is the timestamp when the supplier was created.
	CreatedAt time.Time
}

// Lane is a transport path from a supplier to a location.
type Lane struct {
	// ID is the unique identifier for the lane.
	ID string
	// SupplierID is the supplier at the origin end of the lane.
	SupplierID string
	// LocationID is the destination location of the lane.
	LocationID string
	// Mode is the transport mode (ocean, air, road, rail).
	Mode string
	// TransitTimeDays is the expected transit time in days.
	TransitTimeDays int
}

// ShippingQuote is a captured cost-per-unit quote for moving a product over a lane.
type ShippingQuote struct {
	// ID is the unique identifier for the quote.
	ID string
	// LaneID is the lane this quote applies to.
	LaneID string
	// ProductID is the product this quote applies to.
	ProductID string
	// CostPerUnit is the shipping cost per unit in Currency.
	CostPerUnit float64
	// Currency is the ISO currency code of CostPerUnit.
	Currency string
	// CapturedAt is when the quote was captured.
	CapturedAt time.Time
	// Assumptions documents the basis of the quote (e.g. container fill rate).
	Assumptions string
}

// SupplierOffer is a price/terms quote from a supplier for a product, captured
// from an acquisition source at a point in time.
// Invariants: Price > 0; MOQ >= 1; LeadTimeDays >= 0; Confidence in [0,1].
type SupplierOffer struct {
	// ID is the unique identifier for the offer.
	ID string
	// SupplierID is the quoting supplier.
	SupplierID string
	// ProductID is the product being quoted.
	ProductID string
	// Price is the unit price in Currency.
	Price float64
	// Currency is the ISO currency code of Price.
	Currency string
	// MOQ is the minimum order quantity for this offer.
	MOQ int
	// LeadTimeDays is the quoted lead time in days.
	LeadTimeDays int
	// CapacityUnits is the maximum quantity the supplier can fulfil in the horizon.
	CapacityUnits float64
	// CapturedAt is when this offer was captured.
	CapturedAt time.Time
	// SourceURL is the originating URL or reference for the offer, if any.
	SourceURL string
	// Source identifies the acquisition source (e.g. mock_alibaba).
	Source string
	// Confidence is the source's self-reported confidence in [0,1].
	Confidence float64
	// RawPayload is the unparsed source payload, kept for audit/debugging.
	RawPayload string
}

// DemandHistory is one observed demand quantity for a product at a location on a date.
type DemandHistory struct {
	// ID is the unique identifier for the observation.
	ID string
	// ProductID is the product the demand was observed for.
	ProductID string
	// LocationID is the location the demand was observed at.
	LocationID string
	// Date is the calendar date of the observation.
	Date time.Time
	// Qty is the observed demand quantity.
	Qty float64
}

// CostParameter carries the ordering/holding/backorder cost assumptions for a
// product at a location, used by inventory policy computation and the
// allocation objective.
type CostParameter struct {
	// ProductID is the product these costs apply to.
	ProductID string
	// LocationID is the location these costs apply to.
	LocationID string
	// OrderingCost is the fixed cost S per purchase order.
	OrderingCost float64
	// HoldingCostPerUnit is the annual holding cost H per unit.
	HoldingCostPerUnit float64
	// BackorderPenaltyPerUnit is the penalty P per unit of unmet demand.
	BackorderPenaltyPerUnit float64
	// ServiceLevel is the target cycle service level in (0,1), e.g. 0.95.
	ServiceLevel float64
}

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context
