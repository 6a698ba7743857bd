package forecast

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/supplychainopt/decision-pipeline/internal/adapter/observability"
	"github.com/supplychainopt/decision-pipeline/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	stageName         = "forecast"
	validationPeriods = 8
	minHistoryPeriods = 16
)

// Service drives one ForecastRun: for every product/location pair with
// enough demand history it resamples the series, holds out a validation
// window, fits the model ensemble, selects the model with the lowest
// validation WAPE, refits it on the full series, and persists the resulting
// P50/P90 predictions.
type Service struct {
	Products  domain.ProductRepository
	Locations domain.LocationRepository
	Demand    domain.DemandRepository
	Runs      domain.RunRepository
}

// NewService builds a Service.
func NewService(products domain.ProductRepository, locations domain.LocationRepository, demand domain.DemandRepository, runs domain.RunRepository) *Service {
	return &Service{Products: products, Locations: locations, Demand: demand, Runs: runs}
}

// Run executes a forecast run over productIDs (all products if empty) at the
// given horizon and resampling frequency ("D", "W", or "M").
func (s *Service) Run(ctx domain.Context, productIDs []string, horizonDays int, frequency string) (domain.ForecastRun, error) {
	tracer := otel.Tracer("forecast.service")
	ctx, span := tracer.Start(ctx, "forecast.Service.Run")
	defer span.End()

	if frequency == "" {
		frequency = "W"
	}
	horizonPeriods := periodsForHorizon(horizonDays, frequency)

	run := domain.ForecastRun{
		Status:        domain.RunQueued,
		HorizonDays:   horizonDays,
		FrequencyCode: frequency,
		ProductIDs:    productIDs,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	id, err := s.Runs.CreateForecastRun(ctx, run)
	if err != nil {
		span.RecordError(err)
		return domain.ForecastRun{}, fmt.Errorf("op=forecast.Service.Run: create forecast run: %w", err)
	}
	run.ID = id

	observability.EnqueueRun(stageName)
	observability.StartRun(stageName)

	if err := s.transition(ctx, &run, domain.RunRunning); err != nil {
		observability.FailRun(stageName)
		return run, err
	}

	products, err := s.resolveProducts(ctx, productIDs)
	if err != nil {
		return s.fail(ctx, run, err)
	}
	locations, err := s.Locations.List(ctx)
	if err != nil {
		return s.fail(ctx, run, fmt.Errorf("op=forecast.Service.Run: list locations: %w", err))
	}

	var results []domain.ForecastResult
	for _, product := range products {
		for _, location := range locations {
			result, ok, err := s.forecastOne(ctx, run.ID, product, location, horizonPeriods, frequency)
			if err != nil {
				return s.fail(ctx, run, err)
			}
			if ok {
				results = append(results, result...)
			}
		}
	}

	if len(results) > 0 {
		if err := s.Runs.InsertForecastResults(ctx, results); err != nil {
			return s.fail(ctx, run, fmt.Errorf("op=forecast.Service.Run: insert forecast results: %w", err))
		}
	}

	if err := s.transition(ctx, &run, domain.RunSucceeded); err != nil {
		observability.FailRun(stageName)
		return run, err
	}
	observability.CompleteRun(stageName, string(domain.RunSucceeded))

	span.SetAttributes(
		attribute.Int("forecast.products", len(products)),
		attribute.Int("forecast.locations", len(locations)),
		attribute.Int("forecast.results", len(results)),
	)
	slog.Info("forecast run completed",
		slog.String("forecast_run_id", run.ID),
		slog.Int("series_forecast", len(results)/max1(horizonPeriods)))

	return run, nil
}

func (s *Service) resolveProducts(ctx domain.Context, productIDs []string) ([]domain.Product, error) {
	if len(productIDs) == 0 {
		products, err := s.Products.List(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("op=forecast.Service.resolveProducts: list products: %w", err)
		}
		return products, nil
	}
	out := make([]domain.Product, 0, len(productIDs))
	for _, id := range productIDs {
		p, err := s.Products.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("op=forecast.Service.resolveProducts: get product %q: %w", id, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// forecastOne forecasts a single product/location pair, returning (nil,
// false, nil) when there isn't enough history to fit.
func (s *Service) forecastOne(ctx domain.Context, runID string, product domain.Product, location domain.Location, horizon int, frequency string) ([]domain.ForecastResult, bool, error) {
	history, err := s.Demand.History(ctx, product.ID, location.ID)
	if err != nil {
		return nil, false, fmt.Errorf("op=forecast.Service.forecastOne: history: %w", err)
	}
	if len(history) < minHistoryPeriods {
		return nil, false, nil
	}

	sort.Slice(history, func(i, j int) bool { return history[i].Date.Before(history[j].Date) })
	series, lastDate := resample(history, frequency)
	if len(series) < minHistoryPeriods {
		return nil, false, nil
	}

	train := series[:len(series)-validationPeriods]
	validation := series[len(series)-validationPeriods:]

	seasonalPeriods := seasonalPeriodsFor(frequency)
	models := []model{arimaModel{}, prophetStyleModel{seasonalPeriods: seasonalPeriods}, etsModel{seasonalPeriods: seasonalPeriods}}

	bestName, bestWAPE := "", -1.0
	for _, mdl := range models {
		f, err := mdl.fit(train, validationPeriods)
		if err != nil {
			continue
		}
		w := wape(validation, f.p50[:len(validation)])
		if bestWAPE < 0 || w < bestWAPE {
			bestWAPE = w
			bestName = mdl.name()
		}
	}
	if bestName == "" {
		bestName = naiveModel{}.name()
		bestWAPE = wape(validation, repeatLast(train, validationPeriods))
	}

	// Refit the winner on the full series for the production forecast.
	var full fitted
	switch bestName {
	case "arima":
		full, err = arimaModel{}.fit(series, horizon)
	case "prophet_style":
		full, err = prophetStyleModel{seasonalPeriods: seasonalPeriods}.fit(series, horizon)
	case "ets":
		full, err = etsModel{seasonalPeriods: seasonalPeriods}.fit(series, horizon)
	default:
		full, err = naiveModel{}.fit(series, horizon)
	}
	if err != nil {
		full, err = naiveModel{}.fit(series, horizon)
		if err != nil {
			return nil, false, fmt.Errorf("op=forecast.Service.forecastOne: fallback naive fit: %w", err)
		}
		bestName = "naive"
	}
	p90 := p90FromStd(full.p50, full.std)

	observability.ObserveForecast(bestName, bestWAPE)

	out := make([]domain.ForecastResult, 0, horizon)
	step := periodDuration(frequency)
	for i := 0; i < horizon; i++ {
		out = append(out, domain.ForecastResult{
			RunID:          runID,
			ProductID:      product.ID,
			LocationID:     location.ID,
			Date:           lastDate.Add(time.Duration(i+1) * step),
			P50:            full.p50[i],
			P90:            p90[i],
			Model:          bestName,
			ValidationWAPE: bestWAPE,
		})
	}
	return out, true, nil
}

func (s *Service) transition(ctx domain.Context, run *domain.ForecastRun, next domain.RunStatus) error {
	if err := domain.Transition(run.Status, next); err != nil {
		return fmt.Errorf("op=forecast.Service.transition: %w", err)
	}
	run.Status = next
	run.UpdatedAt = time.Now().UTC()
	if err := s.Runs.UpdateForecastRun(ctx, *run); err != nil {
		return fmt.Errorf("op=forecast.Service.transition: update forecast run: %w", err)
	}
	return nil
}

func (s *Service) fail(ctx domain.Context, run domain.ForecastRun, cause error) (domain.ForecastRun, error) {
	run.Error = cause.Error()
	if err := s.transition(ctx, &run, domain.RunFailed); err != nil {
		slog.Error("forecast: failed to record failed transition", slog.Any("error", err))
	}
	observability.FailRun(stageName)
	return run, fmt.Errorf("op=forecast.Service.Run: %w", cause)
}

func repeatLast(series []float64, horizon int) []float64 {
	out := make([]float64, horizon)
	last := series[len(series)-1]
	for i := range out {
		out[i] = last
	}
	return out
}

func periodsForHorizon(horizonDays int, frequency string) int {
	switch frequency {
	case "D":
		return max1(horizonDays)
	case "M":
		return max1(horizonDays / 30)
	default: // "W"
		return max1(horizonDays / 7)
	}
}

func periodDuration(frequency string) time.Duration {
	switch frequency {
	case "D":
		return 24 * time.Hour
	case "M":
		return 30 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

func seasonalPeriodsFor(frequency string) int {
	switch frequency {
	case "D":
		return 7
	case "M":
		return 12
	default: // "W"
		return 52
	}
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// resample aggregates demand history into equal-width periods at the given
// frequency, summing quantities that fall in the same bucket, matching the
// reference implementation's series.resample(frequency).sum() step.
func resample(history []domain.DemandHistory, frequency string) ([]float64, time.Time) {
	step := periodDuration(frequency)
	start := history[0].Date
	buckets := make(map[int]float64)
	maxBucket := 0
	for _, h := range history {
		b := int(h.Date.Sub(start) / step)
		buckets[b] += h.Qty
		if b > maxBucket {
			maxBucket = b
		}
	}
	series := make([]float64, maxBucket+1)
	for b, qty := range buckets {
		series[b] = qty
	}
	lastDate := start.Add(time.Duration(maxBucket) * step)
	return series, lastDate
}
