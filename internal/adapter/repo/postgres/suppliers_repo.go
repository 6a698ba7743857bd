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

// SupplierRepo persists and loads suppliers and lanes from PostgreSQL using a
// minimal pgx pool.
type SupplierRepo struct{ Pool PgxPool }

// NewSupplierRepo constructs a SupplierRepo with the given pool.
func NewSupplierRepo(p PgxPool) *SupplierRepo { return &SupplierRepo{Pool: p} }

// Create inserts a new supplier and returns its id.
func (r *SupplierRepo) Create(ctx domain.Context, s domain.Supplier) (string, error) {
	tracer := otel.Tracer("repo.suppliers")
	ctx, span := tracer.Start(ctx, "suppliers.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "suppliers"),
	)
	id := s.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	q := `INSERT INTO suppliers (id, name, rating, region, country, incoterms_supported, is_active, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.Pool.Exec(ctx, q, id, s.Name, s.Rating, s.Region, s.Country, s.IncotermsSupported, s.IsActive, createdAt)
	if err != nil {
		return "", fmt.Errorf("op=supplier.create: %w", err)
	}
	return id, nil
}

// Get retrieves a supplier by ID.
func (r *SupplierRepo) Get(ctx domain.Context, id string) (domain.Supplier, error) {
	tracer := otel.Tracer("repo.suppliers")
	ctx, span := tracer.Start(ctx, "suppliers.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "suppliers"),
	)
	q := `SELECT id, name, rating, region, country, incoterms_supported, is_active, created_at FROM suppliers WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var s domain.Supplier
	if err := row.Scan(&s.ID, &s.Name, &s.Rating, &s.Region, &s.Country, &s.IncotermsSupported, &s.IsActive, &s.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Supplier{}, fmt.Errorf("op=supplier.get: %w", domain.ErrNotFound)
		}
		return domain.Supplier{}, fmt.Errorf("op=supplier.get: %w", err)
	}
	return s, nil
}

// GetOrCreateByName finds a supplier by name or creates one with the given attributes.
func (r *SupplierRepo) GetOrCreateByName(ctx domain.Context, name string, attrs domain.Supplier) (domain.Supplier, error) {
	tracer := otel.Tracer("repo.suppliers")
	ctx, span := tracer.Start(ctx, "suppliers.GetOrCreateByName")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "suppliers"),
	)
	q := `SELECT id, name, rating, region, country, incoterms_supported, is_active, created_at FROM suppliers WHERE name=$1`
	row := r.Pool.QueryRow(ctx, q, name)
	var s domain.Supplier
	err := row.Scan(&s.ID, &s.Name, &s.Rating, &s.Region, &s.Country, &s.IncotermsSupported, &s.IsActive, &s.CreatedAt)
	if err == nil {
		return s, nil
	}
	if err != pgx.ErrNoRows {
		return domain.Supplier{}, fmt.Errorf("op=supplier.get_or_create.lookup: %w", err)
	}

	attrs.Name = name
	id, err := r.Create(ctx, attrs)
	if err != nil {
		return domain.Supplier{}, fmt.Errorf("op=supplier.get_or_create.create: %w", err)
	}
	attrs.ID = id
	return attrs, nil
}

// List returns all active suppliers.
func (r *SupplierRepo) List(ctx domain.Context) ([]domain.Supplier, error) {
	tracer := otel.Tracer("repo.suppliers")
	ctx, span := tracer.Start(ctx, "suppliers.List")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "suppliers"),
	)
	q := `SELECT id, name, rating, region, country, incoterms_supported, is_active, created_at FROM suppliers WHERE is_active=true ORDER BY name ASC`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=supplier.list: %w", err)
	}
	defer rows.Close()

	var suppliers []domain.Supplier
	for rows.Next() {
		var s domain.Supplier
		if err := rows.Scan(&s.ID, &s.Name, &s.Rating, &s.Region, &s.Country, &s.IncotermsSupported, &s.IsActive, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=supplier.list_scan: %w", err)
		}
		suppliers = append(suppliers, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=supplier.list_rows: %w", err)
	}
	return suppliers, nil
}

// UpsertLane creates or returns an existing lane for a supplier/location/mode tuple.
func (r *SupplierRepo) UpsertLane(ctx domain.Context, l domain.Lane) (string, error) {
	tracer := otel.Tracer("repo.suppliers")
	ctx, span := tracer.Start(ctx, "suppliers.UpsertLane")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "lanes"),
	)
	id := l.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO lanes (id, supplier_id, location_id, mode, transit_time_days) VALUES ($1,$2,$3,$4,$5)
	ON CONFLICT (supplier_id, location_id, mode) DO UPDATE SET transit_time_days=EXCLUDED.transit_time_days
	RETURNING id`
	row := r.Pool.QueryRow(ctx, q, id, l.SupplierID, l.LocationID, l.Mode, l.TransitTimeDays)
	var returnedID string
	if err := row.Scan(&returnedID); err != nil {
		return "", fmt.Errorf("op=supplier.upsert_lane: %w", err)
	}
	return returnedID, nil
}

// LanesForSupplier returns lanes originating from the given supplier.
func (r *SupplierRepo) LanesForSupplier(ctx domain.Context, supplierID string) ([]domain.Lane, error) {
	tracer := otel.Tracer("repo.suppliers")
	ctx, span := tracer.Start(ctx, "suppliers.LanesForSupplier")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "lanes"),
	)
	q := `SELECT id, supplier_id, location_id, mode, transit_time_days FROM lanes WHERE supplier_id=$1`
	rows, err := r.Pool.Query(ctx, q, supplierID)
	if err != nil {
		return nil, fmt.Errorf("op=supplier.lanes_for_supplier: %w", err)
	}
	defer rows.Close()

	var lanes []domain.Lane
	for rows.Next() {
		var l domain.Lane
		if err := rows.Scan(&l.ID, &l.SupplierID, &l.LocationID, &l.Mode, &l.TransitTimeDays); err != nil {
			return nil, fmt.Errorf("op=supplier.lanes_for_supplier_scan: %w", err)
		}
		lanes = append(lanes, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=supplier.lanes_for_supplier_rows: %w", err)
	}
	return lanes, nil
}
