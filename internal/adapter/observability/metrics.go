// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// RunsEnqueuedTotal counts pipeline-stage runs enqueued by stage.
	RunsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runs_enqueued_total",
			Help: "Total number of pipeline stage runs enqueued",
		},
		[]string{"stage"},
	)
	// RunsProcessing is a gauge of currently-running stage invocations by stage.
	RunsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "runs_processing",
			Help: "Number of pipeline stage runs currently executing",
		},
		[]string{"stage"},
	)
	// RunsCompletedTotal counts stage runs that reached a terminal success status.
	RunsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runs_completed_total",
			Help: "Total number of pipeline stage runs completed",
		},
		[]string{"stage", "status"},
	)
	// RunsFailedTotal counts stage runs that reached the failed terminal status.
	RunsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runs_failed_total",
			Help: "Total number of pipeline stage runs failed",
		},
		[]string{"stage"},
	)

	// ForecastWAPE tracks the validation WAPE of the winning forecast model per series.
	ForecastWAPE = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forecast_validation_wape",
			Help:    "Distribution of validation WAPE across forecast series",
			Buckets: []float64{0, 0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1.0, 2.0},
		},
	)
	// ForecastModelSelected counts which model won selection per series.
	ForecastModelSelected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecast_model_selected_total",
			Help: "Count of series where a given model was selected as the winner",
		},
		[]string{"model"},
	)

	// AllocationTotalCost records the objective value of solved optimisation runs.
	AllocationTotalCost = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "allocation_total_cost",
			Help:    "Distribution of total cost across solved optimisation runs",
			Buckets: prometheus.ExponentialBuckets(100, 2, 14),
		},
	)
	// AllocationSolveDuration records MILP solve wall-clock time.
	AllocationSolveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "allocation_solve_duration_seconds",
			Help:    "MILP solve duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
	)
	// AllocationSolverStatus tracks solver terminal status counts.
	AllocationSolverStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocation_solver_status_total",
			Help: "Count of optimisation runs by terminal solver status",
		},
		[]string{"status"},
	)

	// OffersDeduped counts offers skipped by the acquisition freshness rule.
	OffersDeduped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offers_deduped_total",
			Help: "Total number of candidate offers skipped due to a fresh duplicate",
		},
		[]string{"source"},
	)
	// OffersCollected counts offers persisted by acquisition.
	OffersCollected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offers_collected_total",
			Help: "Total number of supplier offers persisted",
		},
		[]string{"source"},
	)

	// RunsFailedByCode counts stage run failures by the domain error code
	// that caused them, for alerting on a specific failure class.
	RunsFailedByCode = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runs_failed_by_code_total",
			Help: "Total number of pipeline stage runs failed, by error code",
		},
		[]string{"stage", "code"},
	)
)

// appEnv holds the application environment set via SetAppEnv and read by
// isDevEnv.
var appEnv string

// SetAppEnv records the application environment (e.g. "dev", "prod") for
// package-level checks like isDevEnv.
func SetAppEnv(env string) {
	appEnv = strings.ToLower(env)
}

func isDevEnv() bool {
	return appEnv == "dev" || appEnv == "development"
}

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(RunsEnqueuedTotal)
	prometheus.MustRegister(RunsProcessing)
	prometheus.MustRegister(RunsCompletedTotal)
	prometheus.MustRegister(RunsFailedTotal)
	prometheus.MustRegister(ForecastWAPE)
	prometheus.MustRegister(ForecastModelSelected)
	prometheus.MustRegister(AllocationTotalCost)
	prometheus.MustRegister(AllocationSolveDuration)
	prometheus.MustRegister(AllocationSolverStatus)
	prometheus.MustRegister(OffersDeduped)
	prometheus.MustRegister(OffersCollected)
	prometheus.MustRegister(RunsFailedByCode)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// EnqueueRun increments the enqueued-runs counter for the given stage.
func EnqueueRun(stage string) {
	RunsEnqueuedTotal.WithLabelValues(stage).Inc()
}

// StartRun increments the processing gauge for the given stage.
func StartRun(stage string) {
	RunsProcessing.WithLabelValues(stage).Inc()
}

// CompleteRun marks a stage run complete, decrementing the processing gauge
// and incrementing the completed counter under its terminal status.
func CompleteRun(stage, status string) {
	RunsProcessing.WithLabelValues(stage).Dec()
	RunsCompletedTotal.WithLabelValues(stage, status).Inc()
}

// FailRun marks a stage run failed by decrementing the processing gauge and
// incrementing the failed counter.
func FailRun(stage string) {
	RunsProcessing.WithLabelValues(stage).Dec()
	RunsFailedTotal.WithLabelValues(stage).Inc()
}

// ObserveForecast records the winning model and its validation WAPE for one series.
func ObserveForecast(model string, wape float64) {
	ForecastModelSelected.WithLabelValues(model).Inc()
	ForecastWAPE.Observe(wape)
}

// ObserveAllocation records the outcome of a solved optimisation run.
func ObserveAllocation(status string, totalCost float64, solveDuration time.Duration) {
	AllocationSolverStatus.WithLabelValues(status).Inc()
	if status == "optimal" {
		AllocationTotalCost.Observe(totalCost)
	}
	AllocationSolveDuration.Observe(solveDuration.Seconds())
}

// RecordOfferDedup increments the deduped-offer counter for a source.
func RecordOfferDedup(source string) {
	OffersDeduped.WithLabelValues(source).Inc()
}

// RecordOfferCollected increments the collected-offer counter for a source.
func RecordOfferCollected(source string) {
	OffersCollected.WithLabelValues(source).Inc()
}

// RecordJobFailureByCode increments the failed-by-code counter for a stage,
// defaulting an empty code to "UNKNOWN".
func RecordJobFailureByCode(stage, code string) {
	if code == "" {
		code = "UNKNOWN"
	}
	RunsFailedByCode.WithLabelValues(stage, code).Inc()
}
