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

// LocationRepo persists and loads locations from PostgreSQL using a minimal pgx pool.
type LocationRepo struct{ Pool PgxPool }

// NewLocationRepo constructs a LocationRepo with the given pool.
func NewLocationRepo(p PgxPool) *LocationRepo { return &LocationRepo{Pool: p} }

// Create inserts a new location and returns its id.
func (r *LocationRepo) Create(ctx domain.Context, l domain.Location) (string, error) {
	tracer := otel.Tracer("repo.locations")
	ctx, span := tracer.Start(ctx, "locations.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "locations"),
	)
	id := l.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := l.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	q := `INSERT INTO locations (id, name, type, country, created_at) VALUES ($1,$2,$3,$4,$5)`
	_, err := r.Pool.Exec(ctx, q, id, l.Name, l.Type, l.Country, createdAt)
	if err != nil {
		return "", fmt.Errorf("op=location.create: %w", err)
	}
	return id, nil
}

// Get retrieves a location by ID.
func (r *LocationRepo) Get(ctx domain.Context, id string) (domain.Location, error) {
	tracer := otel.Tracer("repo.locations")
	ctx, span := tracer.Start(ctx, "locations.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "locations"),
	)
	q := `SELECT id, name, type, country, created_at FROM locations WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var l domain.Location
	if err := row.Scan(&l.ID, &l.Name, &l.Type, &l.Country, &l.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Location{}, fmt.Errorf("op=location.get: %w", domain.ErrNotFound)
		}
		return domain.Location{}, fmt.Errorf("op=location.get: %w", err)
	}
	return l, nil
}

// List returns all locations.
func (r *LocationRepo) List(ctx domain.Context) ([]domain.Location, error) {
	tracer := otel.Tracer("repo.locations")
	ctx, span := tracer.Start(ctx, "locations.List")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "locations"),
	)
	q := `SELECT id, name, type, country, created_at FROM locations ORDER BY created_at ASC`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=location.list: %w", err)
	}
	defer rows.Close()

	var locations []domain.Location
	for rows.Next() {
		var l domain.Location
		if err := rows.Scan(&l.ID, &l.Name, &l.Type, &l.Country, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=location.list_scan: %w", err)
		}
		locations = append(locations, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=location.list_rows: %w", err)
	}
	return locations, nil
}
