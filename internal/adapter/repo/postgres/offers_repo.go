package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/supplychainopt/decision-pipeline/internal/domain"
)

// OfferRepo persists and loads supplier offers and shipping quotes from
// PostgreSQL using a minimal pgx pool.
type OfferRepo struct{ Pool PgxPool }

// NewOfferRepo constructs an OfferRepo with the given pool.
func NewOfferRepo(p PgxPool) *OfferRepo { return &OfferRepo{Pool: p} }

// Create persists a new supplier offer.
func (r *OfferRepo) Create(ctx domain.Context, o domain.SupplierOffer) (string, error) {
	tracer := otel.Tracer("repo.offers")
	ctx, span := tracer.Start(ctx, "offers.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "supplier_offers"),
	)
	id := o.ID
	if id == "" {
		id = uuid.New().String()
	}
	capturedAt := o.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}
	q := `INSERT INTO supplier_offers
		(id, supplier_id, product_id, price, currency, moq, lead_time_days, capacity_units, captured_at, source_url, source, confidence, raw_payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err := r.Pool.Exec(ctx, q, id, o.SupplierID, o.ProductID, o.Price, o.Currency, o.MOQ, o.LeadTimeDays,
		o.CapacityUnits, capturedAt, o.SourceURL, o.Source, o.Confidence, o.RawPayload)
	if err != nil {
		return "", fmt.Errorf("op=offer.create: %w", err)
	}
	return id, nil
}

// FindFresh returns offers for supplier+product captured at or after sinceUTC.
func (r *OfferRepo) FindFresh(ctx domain.Context, supplierID, productID string, sinceUTC time.Time) ([]domain.SupplierOffer, error) {
	tracer := otel.Tracer("repo.offers")
	ctx, span := tracer.Start(ctx, "offers.FindFresh")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "supplier_offers"),
	)
	q := `SELECT id, supplier_id, product_id, price, currency, moq, lead_time_days, capacity_units, captured_at, source_url, source, confidence, raw_payload
		FROM supplier_offers WHERE supplier_id=$1 AND product_id=$2 AND captured_at >= $3
		ORDER BY captured_at DESC`
	rows, err := r.Pool.Query(ctx, q, supplierID, productID, sinceUTC)
	if err != nil {
		return nil, fmt.Errorf("op=offer.find_fresh: %w", err)
	}
	defer rows.Close()
	offers, err := scanOffers(rows)
	if err != nil {
		return nil, fmt.Errorf("op=offer.find_fresh_scan: %w", err)
	}
	return offers, nil
}

// BestForProduct returns the lowest-price offers for a product, up to limit,
// across all suppliers.
func (r *OfferRepo) BestForProduct(ctx domain.Context, productID string, limit int) ([]domain.SupplierOffer, error) {
	tracer := otel.Tracer("repo.offers")
	ctx, span := tracer.Start(ctx, "offers.BestForProduct")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "supplier_offers"),
	)
	q := `SELECT id, supplier_id, product_id, price, currency, moq, lead_time_days, capacity_units, captured_at, source_url, source, confidence, raw_payload
		FROM supplier_offers WHERE product_id=$1 ORDER BY price ASC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("op=offer.best_for_product: %w", err)
	}
	defer rows.Close()
	offers, err := scanOffers(rows)
	if err != nil {
		return nil, fmt.Errorf("op=offer.best_for_product_scan: %w", err)
	}
	return offers, nil
}

// ListForProduct returns all offers captured for a product.
func (r *OfferRepo) ListForProduct(ctx domain.Context, productID string) ([]domain.SupplierOffer, error) {
	tracer := otel.Tracer("repo.offers")
	ctx, span := tracer.Start(ctx, "offers.ListForProduct")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "supplier_offers"),
	)
	q := `SELECT id, supplier_id, product_id, price, currency, moq, lead_time_days, capacity_units, captured_at, source_url, source, confidence, raw_payload
		FROM supplier_offers WHERE product_id=$1 ORDER BY captured_at DESC`
	rows, err := r.Pool.Query(ctx, q, productID)
	if err != nil {
		return nil, fmt.Errorf("op=offer.list_for_product: %w", err)
	}
	defer rows.Close()
	offers, err := scanOffers(rows)
	if err != nil {
		return nil, fmt.Errorf("op=offer.list_for_product_scan: %w", err)
	}
	return offers, nil
}

func scanOffers(rows pgx.Rows) ([]domain.SupplierOffer, error) {
	var offers []domain.SupplierOffer
	for rows.Next() {
		var o domain.SupplierOffer
		if err := rows.Scan(&o.ID, &o.SupplierID, &o.ProductID, &o.Price, &o.Currency, &o.MOQ, &o.LeadTimeDays,
			&o.CapacityUnits, &o.CapturedAt, &o.SourceURL, &o.Source, &o.Confidence, &o.RawPayload); err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return offers, nil
}

// CreateShippingQuote persists a shipping quote.
func (r *OfferRepo) CreateShippingQuote(ctx domain.Context, q domain.ShippingQuote) (string, error) {
	tracer := otel.Tracer("repo.offers")
	ctx, span := tracer.Start(ctx, "offers.CreateShippingQuote")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "shipping_quotes"),
	)
	id := q.ID
	if id == "" {
		id = uuid.New().String()
	}
	capturedAt := q.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}
	query := `INSERT INTO shipping_quotes (id, lane_id, product_id, cost_per_unit, currency, captured_at, assumptions) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.Pool.Exec(ctx, query, id, q.LaneID, q.ProductID, q.CostPerUnit, q.Currency, capturedAt, q.Assumptions)
	if err != nil {
		return "", fmt.Errorf("op=offer.create_shipping_quote: %w", err)
	}
	return id, nil
}

// ShippingQuotesForProduct returns quotes for a product across all lanes.
func (r *OfferRepo) ShippingQuotesForProduct(ctx domain.Context, productID string) ([]domain.ShippingQuote, error) {
	tracer := otel.Tracer("repo.offers")
	ctx, span := tracer.Start(ctx, "offers.ShippingQuotesForProduct")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "shipping_quotes"),
	)
	q := `SELECT id, lane_id, product_id, cost_per_unit, currency, captured_at, assumptions FROM shipping_quotes WHERE product_id=$1`
	rows, err := r.Pool.Query(ctx, q, productID)
	if err != nil {
		return nil, fmt.Errorf("op=offer.shipping_quotes_for_product: %w", err)
	}
	defer rows.Close()

	var quotes []domain.ShippingQuote
	for rows.Next() {
		var sq domain.ShippingQuote
		if err := rows.Scan(&sq.ID, &sq.LaneID, &sq.ProductID, &sq.CostPerUnit, &sq.Currency, &sq.CapturedAt, &sq.Assumptions); err != nil {
			return nil, fmt.Errorf("op=offer.shipping_quotes_for_product_scan: %w", err)
		}
		quotes = append(quotes, sq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=offer.shipping_quotes_for_product_rows: %w", err)
	}
	return quotes, nil
}
