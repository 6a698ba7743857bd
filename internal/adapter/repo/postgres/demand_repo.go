package postgres

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/supplychainopt/decision-pipeline/internal/domain"
)

// DemandRepo persists and loads demand history and cost parameters from
// PostgreSQL using a minimal pgx pool.
type DemandRepo struct{ Pool PgxPool }

// NewDemandRepo constructs a DemandRepo with the given pool.
func NewDemandRepo(p PgxPool) *DemandRepo { return &DemandRepo{Pool: p} }

// History returns demand history for a product/location ordered by date ascending.
func (r *DemandRepo) History(ctx domain.Context, productID, locationID string) ([]domain.DemandHistory, error) {
	tracer := otel.Tracer("repo.demand")
	ctx, span := tracer.Start(ctx, "demand.History")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "demand_history"),
	)
	q := `SELECT id, product_id, location_id, date, qty FROM demand_history WHERE product_id=$1 AND location_id=$2 ORDER BY date ASC`
	rows, err := r.Pool.Query(ctx, q, productID, locationID)
	if err != nil {
		return nil, fmt.Errorf("op=demand.history: %w", err)
	}
	defer rows.Close()

	var history []domain.DemandHistory
	for rows.Next() {
		var h domain.DemandHistory
		if err := rows.Scan(&h.ID, &h.ProductID, &h.LocationID, &h.Date, &h.Qty); err != nil {
			return nil, fmt.Errorf("op=demand.history_scan: %w", err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=demand.history_rows: %w", err)
	}
	return history, nil
}

// InsertHistory persists a batch of demand observations inside a single
// transaction so a partial batch never becomes visible.
func (r *DemandRepo) InsertHistory(ctx domain.Context, rows []domain.DemandHistory) error {
	tracer := otel.Tracer("repo.demand")
	ctx, span := tracer.Start(ctx, "demand.InsertHistory")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "demand_history"),
	)
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=demand.insert_history.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	q := `INSERT INTO demand_history (id, product_id, location_id, date, qty) VALUES ($1,$2,$3,$4,$5)`
	for _, h := range rows {
		id := h.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := tx.Exec(ctx, q, id, h.ProductID, h.LocationID, h.Date, h.Qty); err != nil {
			return fmt.Errorf("op=demand.insert_history.exec: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=demand.insert_history.commit: %w", err)
	}
	committed = true
	return nil
}

// CostParams returns the cost parameters for a product/location, if configured.
func (r *DemandRepo) CostParams(ctx domain.Context, productID, locationID string) (domain.CostParameter, error) {
	tracer := otel.Tracer("repo.demand")
	ctx, span := tracer.Start(ctx, "demand.CostParams")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "cost_parameters"),
	)
	q := `SELECT product_id, location_id, ordering_cost, holding_cost_per_unit, backorder_penalty_per_unit, service_level
		FROM cost_parameters WHERE product_id=$1 AND location_id=$2`
	row := r.Pool.QueryRow(ctx, q, productID, locationID)
	var c domain.CostParameter
	if err := row.Scan(&c.ProductID, &c.LocationID, &c.OrderingCost, &c.HoldingCostPerUnit, &c.BackorderPenaltyPerUnit, &c.ServiceLevel); err != nil {
		if err == pgx.ErrNoRows {
			return domain.CostParameter{}, fmt.Errorf("op=demand.cost_params: %w", domain.ErrNotFound)
		}
		return domain.CostParameter{}, fmt.Errorf("op=demand.cost_params: %w", err)
	}
	return c, nil
}
