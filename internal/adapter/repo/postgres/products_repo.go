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

// ProductRepo persists and loads products from PostgreSQL using a minimal pgx pool.
type ProductRepo struct{ Pool PgxPool }

// NewProductRepo constructs a ProductRepo with the given pool.
func NewProductRepo(p PgxPool) *ProductRepo { return &ProductRepo{Pool: p} }

// Create inserts a new product and returns its id.
func (r *ProductRepo) Create(ctx domain.Context, p domain.Product) (string, error) {
	tracer := otel.Tracer("repo.products")
	ctx, span := tracer.Start(ctx, "products.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "products"),
	)
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	q := `INSERT INTO products (id, sku, name, category, uom, pack_size, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.Pool.Exec(ctx, q, id, p.SKU, p.Name, p.Category, p.UOM, p.PackSize, createdAt)
	if err != nil {
		return "", fmt.Errorf("op=product.create: %w", err)
	}
	return id, nil
}

// Get retrieves a product by ID.
func (r *ProductRepo) Get(ctx domain.Context, id string) (domain.Product, error) {
	tracer := otel.Tracer("repo.products")
	ctx, span := tracer.Start(ctx, "products.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "products"),
	)
	q := `SELECT id, sku, name, category, uom, pack_size, created_at FROM products WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var p domain.Product
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.UOM, &p.PackSize, &p.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Product{}, fmt.Errorf("op=product.get: %w", domain.ErrNotFound)
		}
		return domain.Product{}, fmt.Errorf("op=product.get: %w", err)
	}
	return p, nil
}

// GetBySKU retrieves a product by its SKU.
func (r *ProductRepo) GetBySKU(ctx domain.Context, sku string) (domain.Product, error) {
	tracer := otel.Tracer("repo.products")
	ctx, span := tracer.Start(ctx, "products.GetBySKU")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "products"),
	)
	q := `SELECT id, sku, name, category, uom, pack_size, created_at FROM products WHERE sku=$1`
	row := r.Pool.QueryRow(ctx, q, sku)
	var p domain.Product
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.UOM, &p.PackSize, &p.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Product{}, fmt.Errorf("op=product.get_by_sku: %w", domain.ErrNotFound)
		}
		return domain.Product{}, fmt.Errorf("op=product.get_by_sku: %w", err)
	}
	return p, nil
}

// List returns all products, optionally limited.
func (r *ProductRepo) List(ctx domain.Context, limit int) ([]domain.Product, error) {
	tracer := otel.Tracer("repo.products")
	ctx, span := tracer.Start(ctx, "products.List")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "products"),
	)
	q := `SELECT id, sku, name, category, uom, pack_size, created_at FROM products ORDER BY created_at ASC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=product.list: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.UOM, &p.PackSize, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=product.list_scan: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=product.list_rows: %w", err)
	}
	return products, nil
}
