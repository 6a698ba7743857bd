package postgres

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/supplychainopt/decision-pipeline/internal/domain"
)

// RunRepo persists and loads the lifecycle of every pipeline stage run
// (scraper, forecast, inventory policy, optimisation, decision) from
// PostgreSQL using a minimal pgx pool.
type RunRepo struct{ Pool PgxPool }

// NewRunRepo constructs a RunRepo with the given pool.
func NewRunRepo(p PgxPool) *RunRepo { return &RunRepo{Pool: p} }

// --- ScraperJob ---

// CreateScraperJob creates a new scraper run in RunQueued status.
func (r *RunRepo) CreateScraperJob(ctx domain.Context, j domain.ScraperJob) (string, error) {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.CreateScraperJob")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "scraper_jobs"),
	)
	id := j.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	q := `INSERT INTO scraper_jobs (id, status, sources, offers_collected, error, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.Pool.Exec(ctx, q, id, j.Status, j.Sources, j.OffersCollected, j.Error, now, now)
	if err != nil {
		return "", fmt.Errorf("op=run.create_scraper_job: %w", err)
	}
	return id, nil
}

// UpdateScraperJob updates a scraper run's terminal state inside an explicit
// read-committed transaction.
func (r *RunRepo) UpdateScraperJob(ctx domain.Context, j domain.ScraperJob) error {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.UpdateScraperJob")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "scraper_jobs"),
	)
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=run.update_scraper_job.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(ctx); err != nil {
				slog.Error("failed to rollback scraper job update", slog.Any("error", err))
			}
		}
	}()
	q := `UPDATE scraper_jobs SET status=$2, offers_collected=$3, error=$4, updated_at=$5 WHERE id=$1`
	if _, err := tx.Exec(ctx, q, j.ID, j.Status, j.OffersCollected, j.Error, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=run.update_scraper_job.exec: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=run.update_scraper_job.commit: %w", err)
	}
	committed = true
	return nil
}

// GetScraperJob retrieves a scraper run by ID.
func (r *RunRepo) GetScraperJob(ctx domain.Context, id string) (domain.ScraperJob, error) {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.GetScraperJob")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "scraper_jobs"),
	)
	q := `SELECT id, status, sources, offers_collected, COALESCE(error,''), created_at, updated_at FROM scraper_jobs WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var j domain.ScraperJob
	if err := row.Scan(&j.ID, &j.Status, &j.Sources, &j.OffersCollected, &j.Error, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.ScraperJob{}, fmt.Errorf("op=run.get_scraper_job: %w", domain.ErrNotFound)
		}
		return domain.ScraperJob{}, fmt.Errorf("op=run.get_scraper_job: %w", err)
	}
	return j, nil
}

// --- ForecastRun ---

// CreateForecastRun creates a new forecast run in RunQueued status.
func (r *RunRepo) CreateForecastRun(ctx domain.Context, run domain.ForecastRun) (string, error) {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.CreateForecastRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "forecast_runs"),
	)
	id := run.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	q := `INSERT INTO forecast_runs (id, status, horizon_days, frequency_code, product_ids, error, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.Pool.Exec(ctx, q, id, run.Status, run.HorizonDays, run.FrequencyCode, run.ProductIDs, run.Error, now, now)
	if err != nil {
		return "", fmt.Errorf("op=run.create_forecast_run: %w", err)
	}
	return id, nil
}

// UpdateForecastRun updates a forecast run's terminal state.
func (r *RunRepo) UpdateForecastRun(ctx domain.Context, run domain.ForecastRun) error {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.UpdateForecastRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "forecast_runs"),
	)
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=run.update_forecast_run.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(ctx); err != nil {
				slog.Error("failed to rollback forecast run update", slog.Any("error", err))
			}
		}
	}()
	q := `UPDATE forecast_runs SET status=$2, error=$3, updated_at=$4 WHERE id=$1`
	if _, err := tx.Exec(ctx, q, run.ID, run.Status, run.Error, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=run.update_forecast_run.exec: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=run.update_forecast_run.commit: %w", err)
	}
	committed = true
	return nil
}

// GetForecastRun retrieves a forecast run by ID.
func (r *RunRepo) GetForecastRun(ctx domain.Context, id string) (domain.ForecastRun, error) {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.GetForecastRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "forecast_runs"),
	)
	q := `SELECT id, status, horizon_days, frequency_code, product_ids, COALESCE(error,''), created_at, updated_at FROM forecast_runs WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var run domain.ForecastRun
	if err := row.Scan(&run.ID, &run.Status, &run.HorizonDays, &run.FrequencyCode, &run.ProductIDs, &run.Error, &run.CreatedAt, &run.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.ForecastRun{}, fmt.Errorf("op=run.get_forecast_run: %w", domain.ErrNotFound)
		}
		return domain.ForecastRun{}, fmt.Errorf("op=run.get_forecast_run: %w", err)
	}
	return run, nil
}

// InsertForecastResults persists the per-period predictions of a forecast run
// inside a single transaction so a partial batch never becomes visible.
func (r *RunRepo) InsertForecastResults(ctx domain.Context, results []domain.ForecastResult) error {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.InsertForecastResults")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "forecast_results"),
	)
	if len(results) == 0 {
		return nil
	}
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=run.insert_forecast_results.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()
	q := `INSERT INTO forecast_results (id, run_id, product_id, location_id, date, p50, p90, model, validation_wape) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	for _, res := range results {
		id := res.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := tx.Exec(ctx, q, id, res.RunID, res.ProductID, res.LocationID, res.Date, res.P50, res.P90, res.Model, res.ValidationWAPE); err != nil {
			return fmt.Errorf("op=run.insert_forecast_results.exec: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=run.insert_forecast_results.commit: %w", err)
	}
	committed = true
	return nil
}

// ForecastResultsForRun returns the predictions produced by a forecast run.
func (r *RunRepo) ForecastResultsForRun(ctx domain.Context, runID string) ([]domain.ForecastResult, error) {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.ForecastResultsForRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "forecast_results"),
	)
	q := `SELECT id, run_id, product_id, location_id, date, p50, p90, model, validation_wape FROM forecast_results WHERE run_id=$1 ORDER BY date ASC`
	rows, err := r.Pool.Query(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("op=run.forecast_results_for_run: %w", err)
	}
	defer rows.Close()
	var results []domain.ForecastResult
	for rows.Next() {
		var res domain.ForecastResult
		if err := rows.Scan(&res.ID, &res.RunID, &res.ProductID, &res.LocationID, &res.Date, &res.P50, &res.P90, &res.Model, &res.ValidationWAPE); err != nil {
			return nil, fmt.Errorf("op=run.forecast_results_for_run_scan: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=run.forecast_results_for_run_rows: %w", err)
	}
	return results, nil
}

// --- InventoryPolicyRun ---

// CreateInventoryPolicyRun creates a new inventory policy run in RunQueued status.
func (r *RunRepo) CreateInventoryPolicyRun(ctx domain.Context, run domain.InventoryPolicyRun) (string, error) {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.CreateInventoryPolicyRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "inventory_policy_runs"),
	)
	id := run.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	q := `INSERT INTO inventory_policy_runs (id, status, forecast_run_id, error, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := r.Pool.Exec(ctx, q, id, run.Status, run.ForecastRunID, run.Error, now, now)
	if err != nil {
		return "", fmt.Errorf("op=run.create_inventory_policy_run: %w", err)
	}
	return id, nil
}

// UpdateInventoryPolicyRun updates an inventory policy run's terminal state.
func (r *RunRepo) UpdateInventoryPolicyRun(ctx domain.Context, run domain.InventoryPolicyRun) error {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.UpdateInventoryPolicyRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "inventory_policy_runs"),
	)
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=run.update_inventory_policy_run.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(ctx); err != nil {
				slog.Error("failed to rollback inventory policy run update", slog.Any("error", err))
			}
		}
	}()
	q := `UPDATE inventory_policy_runs SET status=$2, error=$3, updated_at=$4 WHERE id=$1`
	if _, err := tx.Exec(ctx, q, run.ID, run.Status, run.Error, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=run.update_inventory_policy_run.exec: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=run.update_inventory_policy_run.commit: %w", err)
	}
	committed = true
	return nil
}

// GetInventoryPolicyRun retrieves an inventory policy run by ID.
func (r *RunRepo) GetInventoryPolicyRun(ctx domain.Context, id string) (domain.InventoryPolicyRun, error) {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.GetInventoryPolicyRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "inventory_policy_runs"),
	)
	q := `SELECT id, status, forecast_run_id, COALESCE(error,''), created_at, updated_at FROM inventory_policy_runs WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var run domain.InventoryPolicyRun
	if err := row.Scan(&run.ID, &run.Status, &run.ForecastRunID, &run.Error, &run.CreatedAt, &run.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.InventoryPolicyRun{}, fmt.Errorf("op=run.get_inventory_policy_run: %w", domain.ErrNotFound)
		}
		return domain.InventoryPolicyRun{}, fmt.Errorf("op=run.get_inventory_policy_run: %w", err)
	}
	return run, nil
}

// InsertInventoryPolicyResults persists the per-product/location policies
// inside a single transaction so a partial batch never becomes visible.
func (r *RunRepo) InsertInventoryPolicyResults(ctx domain.Context, results []domain.InventoryPolicyResult) error {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.InsertInventoryPolicyResults")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "inventory_policy_results"),
	)
	if len(results) == 0 {
		return nil
	}
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=run.insert_inventory_policy_results.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()
	q := `INSERT INTO inventory_policy_results (id, run_id, product_id, location_id, eoq, safety_stock, reorder_point, annual_cost, lead_time_days) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	for _, res := range results {
		id := res.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := tx.Exec(ctx, q, id, res.RunID, res.ProductID, res.LocationID, res.EOQ, res.SafetyStock, res.ReorderPoint, res.AnnualCost, res.LeadTimeDays); err != nil {
			return fmt.Errorf("op=run.insert_inventory_policy_results.exec: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=run.insert_inventory_policy_results.commit: %w", err)
	}
	committed = true
	return nil
}

// InventoryPolicyResultsForRun returns the policies produced by a run.
func (r *RunRepo) InventoryPolicyResultsForRun(ctx domain.Context, runID string) ([]domain.InventoryPolicyResult, error) {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.InventoryPolicyResultsForRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "inventory_policy_results"),
	)
	q := `SELECT id, run_id, product_id, location_id, eoq, safety_stock, reorder_point, annual_cost, lead_time_days FROM inventory_policy_results WHERE run_id=$1`
	rows, err := r.Pool.Query(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("op=run.inventory_policy_results_for_run: %w", err)
	}
	defer rows.Close()
	var results []domain.InventoryPolicyResult
	for rows.Next() {
		var res domain.InventoryPolicyResult
		if err := rows.Scan(&res.ID, &res.RunID, &res.ProductID, &res.LocationID, &res.EOQ, &res.SafetyStock, &res.ReorderPoint, &res.AnnualCost, &res.LeadTimeDays); err != nil {
			return nil, fmt.Errorf("op=run.inventory_policy_results_for_run_scan: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=run.inventory_policy_results_for_run_rows: %w", err)
	}
	return results, nil
}

// --- OptimisationRun ---

// CreateOptimisationRun creates a new optimisation run in RunQueued status.
func (r *RunRepo) CreateOptimisationRun(ctx domain.Context, run domain.OptimisationRun) (string, error) {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.CreateOptimisationRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "optimisation_runs"),
	)
	id := run.ID
	if id == "" {
		id = uuid.New().String()
	}
	costBreakdown, err := json.Marshal(run.CostBreakdown)
	if err != nil {
		return "", fmt.Errorf("op=run.create_optimisation_run.marshal: %w", err)
	}
	now := time.Now().UTC()
	q := `INSERT INTO optimisation_runs
		(id, status, inventory_policy_run_id, solver_status, total_cost, solve_duration_ms, cost_breakdown, binding_constraints, error, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err = r.Pool.Exec(ctx, q, id, run.Status, run.InventoryPolicyRunID, run.SolverStatus, run.TotalCost, run.SolveDurationMS,
		costBreakdown, run.BindingConstraints, run.Error, now, now)
	if err != nil {
		return "", fmt.Errorf("op=run.create_optimisation_run: %w", err)
	}
	return id, nil
}

// UpdateOptimisationRun updates an optimisation run's terminal state.
func (r *RunRepo) UpdateOptimisationRun(ctx domain.Context, run domain.OptimisationRun) error {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.UpdateOptimisationRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "optimisation_runs"),
	)
	costBreakdown, err := json.Marshal(run.CostBreakdown)
	if err != nil {
		return fmt.Errorf("op=run.update_optimisation_run.marshal: %w", err)
	}
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=run.update_optimisation_run.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(ctx); err != nil {
				slog.Error("failed to rollback optimisation run update", slog.Any("error", err))
			}
		}
	}()
	q := `UPDATE optimisation_runs SET status=$2, solver_status=$3, total_cost=$4, solve_duration_ms=$5, cost_breakdown=$6, binding_constraints=$7, error=$8, updated_at=$9 WHERE id=$1`
	if _, err := tx.Exec(ctx, q, run.ID, run.Status, run.SolverStatus, run.TotalCost, run.SolveDurationMS,
		costBreakdown, run.BindingConstraints, run.Error, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=run.update_optimisation_run.exec: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=run.update_optimisation_run.commit: %w", err)
	}
	committed = true
	return nil
}

// GetOptimisationRun retrieves an optimisation run by ID.
func (r *RunRepo) GetOptimisationRun(ctx domain.Context, id string) (domain.OptimisationRun, error) {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.GetOptimisationRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "optimisation_runs"),
	)
	q := `SELECT id, status, inventory_policy_run_id, solver_status, total_cost, solve_duration_ms, cost_breakdown, binding_constraints, COALESCE(error,''), created_at, updated_at
		FROM optimisation_runs WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var run domain.OptimisationRun
	var costBreakdown []byte
	if err := row.Scan(&run.ID, &run.Status, &run.InventoryPolicyRunID, &run.SolverStatus, &run.TotalCost, &run.SolveDurationMS,
		&costBreakdown, &run.BindingConstraints, &run.Error, &run.CreatedAt, &run.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.OptimisationRun{}, fmt.Errorf("op=run.get_optimisation_run: %w", domain.ErrNotFound)
		}
		return domain.OptimisationRun{}, fmt.Errorf("op=run.get_optimisation_run: %w", err)
	}
	if len(costBreakdown) > 0 {
		if err := json.Unmarshal(costBreakdown, &run.CostBreakdown); err != nil {
			return domain.OptimisationRun{}, fmt.Errorf("op=run.get_optimisation_run.unmarshal: %w", err)
		}
	}
	return run, nil
}

// InsertOptimisationAllocations persists the allocations of an optimisation
// run inside a single transaction so a partial batch never becomes visible.
func (r *RunRepo) InsertOptimisationAllocations(ctx domain.Context, allocations []domain.OptimisationAllocation) error {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.InsertOptimisationAllocations")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "optimisation_allocations"),
	)
	if len(allocations) == 0 {
		return nil
	}
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=run.insert_optimisation_allocations.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()
	q := `INSERT INTO optimisation_allocations (id, run_id, product_id, supplier_id, location_id, quantity, unit_cost, total_cost) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	for _, a := range allocations {
		id := a.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := tx.Exec(ctx, q, id, a.RunID, a.ProductID, a.SupplierID, a.LocationID, a.Quantity, a.UnitCost, a.TotalCost); err != nil {
			return fmt.Errorf("op=run.insert_optimisation_allocations.exec: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=run.insert_optimisation_allocations.commit: %w", err)
	}
	committed = true
	return nil
}

// OptimisationAllocationsForRun returns the allocations produced by a run.
func (r *RunRepo) OptimisationAllocationsForRun(ctx domain.Context, runID string) ([]domain.OptimisationAllocation, error) {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.OptimisationAllocationsForRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "optimisation_allocations"),
	)
	q := `SELECT id, run_id, product_id, supplier_id, location_id, quantity, unit_cost, total_cost FROM optimisation_allocations WHERE run_id=$1 ORDER BY total_cost DESC`
	rows, err := r.Pool.Query(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("op=run.optimisation_allocations_for_run: %w", err)
	}
	defer rows.Close()
	var allocations []domain.OptimisationAllocation
	for rows.Next() {
		var a domain.OptimisationAllocation
		if err := rows.Scan(&a.ID, &a.RunID, &a.ProductID, &a.SupplierID, &a.LocationID, &a.Quantity, &a.UnitCost, &a.TotalCost); err != nil {
			return nil, fmt.Errorf("op=run.optimisation_allocations_for_run_scan: %w", err)
		}
		allocations = append(allocations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=run.optimisation_allocations_for_run_rows: %w", err)
	}
	return allocations, nil
}

// --- DecisionRun ---

// CreateDecisionRun creates a new decision pipeline run in RunQueued status.
func (r *RunRepo) CreateDecisionRun(ctx domain.Context, d domain.DecisionRun) (string, error) {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.CreateDecisionRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "decision_runs"),
	)
	id := d.ID
	if id == "" {
		id = uuid.New().String()
	}
	summary, err := json.Marshal(d.Summary)
	if err != nil {
		return "", fmt.Errorf("op=run.create_decision_run.marshal: %w", err)
	}
	now := time.Now().UTC()
	q := `INSERT INTO decision_runs
		(id, status, scraper_job_id, forecast_run_id, inventory_policy_run_id, optimisation_run_id, summary, error, created_at, updated_at, idempotency_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err = r.Pool.Exec(ctx, q, id, d.Status, d.ScraperJobID, d.ForecastRunID, d.InventoryPolicyRunID, d.OptimisationRunID,
		summary, d.Error, now, now, d.IdempotencyKey)
	if err != nil {
		return "", fmt.Errorf("op=run.create_decision_run: %w", err)
	}
	return id, nil
}

// UpdateDecisionRun updates a decision pipeline run, including stage run IDs
// and summary, inside an explicit read-committed transaction.
func (r *RunRepo) UpdateDecisionRun(ctx domain.Context, d domain.DecisionRun) error {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.UpdateDecisionRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "decision_runs"),
	)
	summary, err := json.Marshal(d.Summary)
	if err != nil {
		return fmt.Errorf("op=run.update_decision_run.marshal: %w", err)
	}
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=run.update_decision_run.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(ctx); err != nil {
				slog.Error("failed to rollback decision run update", slog.String("run_id", d.ID), slog.Any("error", err))
			}
		}
	}()
	q := `UPDATE decision_runs SET status=$2, scraper_job_id=$3, forecast_run_id=$4, inventory_policy_run_id=$5,
		optimisation_run_id=$6, summary=$7, error=$8, updated_at=$9 WHERE id=$1`
	if _, err := tx.Exec(ctx, q, d.ID, d.Status, d.ScraperJobID, d.ForecastRunID, d.InventoryPolicyRunID,
		d.OptimisationRunID, summary, d.Error, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=run.update_decision_run.exec: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=run.update_decision_run.commit: %w", err)
	}
	committed = true
	return nil
}

// GetDecisionRun retrieves a decision pipeline run by ID.
func (r *RunRepo) GetDecisionRun(ctx domain.Context, id string) (domain.DecisionRun, error) {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.GetDecisionRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "decision_runs"),
	)
	q := `SELECT id, status, COALESCE(scraper_job_id,''), COALESCE(forecast_run_id,''), COALESCE(inventory_policy_run_id,''),
		COALESCE(optimisation_run_id,''), summary, COALESCE(error,''), created_at, updated_at, idempotency_key FROM decision_runs WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	d, err := scanDecisionRun(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.DecisionRun{}, fmt.Errorf("op=run.get_decision_run: %w", domain.ErrNotFound)
		}
		return domain.DecisionRun{}, fmt.Errorf("op=run.get_decision_run: %w", err)
	}
	return d, nil
}

// FindDecisionRunByIdempotencyKey finds a decision run by idempotency key.
func (r *RunRepo) FindDecisionRunByIdempotencyKey(ctx domain.Context, key string) (domain.DecisionRun, error) {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.FindDecisionRunByIdempotencyKey")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "decision_runs"),
	)
	q := `SELECT id, status, COALESCE(scraper_job_id,''), COALESCE(forecast_run_id,''), COALESCE(inventory_policy_run_id,''),
		COALESCE(optimisation_run_id,''), summary, COALESCE(error,''), created_at, updated_at, idempotency_key FROM decision_runs WHERE idempotency_key=$1 LIMIT 1`
	row := r.Pool.QueryRow(ctx, q, key)
	d, err := scanDecisionRun(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.DecisionRun{}, fmt.Errorf("op=run.find_decision_run_by_idempotency_key: %w", domain.ErrNotFound)
		}
		return domain.DecisionRun{}, fmt.Errorf("op=run.find_decision_run_by_idempotency_key: %w", err)
	}
	return d, nil
}

// ListStuckDecisionRuns returns decision runs still in RunRunning whose
// UpdatedAt predates olderThan, for the stuck-run sweeper.
func (r *RunRepo) ListStuckDecisionRuns(ctx domain.Context, olderThan time.Time) ([]domain.DecisionRun, error) {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.ListStuckDecisionRuns")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "decision_runs"),
	)
	q := `SELECT id, status, COALESCE(scraper_job_id,''), COALESCE(forecast_run_id,''), COALESCE(inventory_policy_run_id,''),
		COALESCE(optimisation_run_id,''), summary, COALESCE(error,''), created_at, updated_at, idempotency_key
		FROM decision_runs WHERE status=$1 AND updated_at < $2`
	rows, err := r.Pool.Query(ctx, q, domain.RunRunning, olderThan)
	if err != nil {
		return nil, fmt.Errorf("op=run.list_stuck_decision_runs: %w", err)
	}
	defer rows.Close()

	var out []domain.DecisionRun
	for rows.Next() {
		d, err := scanDecisionRun(rows)
		if err != nil {
			return nil, fmt.Errorf("op=run.list_stuck_decision_runs: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=run.list_stuck_decision_runs: %w", err)
	}
	return out, nil
}

func scanDecisionRun(row pgx.Row) (domain.DecisionRun, error) {
	var d domain.DecisionRun
	var summary []byte
	if err := row.Scan(&d.ID, &d.Status, &d.ScraperJobID, &d.ForecastRunID, &d.InventoryPolicyRunID,
		&d.OptimisationRunID, &summary, &d.Error, &d.CreatedAt, &d.UpdatedAt, &d.IdempotencyKey); err != nil {
		return domain.DecisionRun{}, err
	}
	if len(summary) > 0 && string(summary) != "null" {
		var s domain.DecisionSummary
		if err := json.Unmarshal(summary, &s); err != nil {
			return domain.DecisionRun{}, err
		}
		d.Summary = &s
	}
	return d, nil
}
