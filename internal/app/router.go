// Package app wires application components and startup helpers.
//
// It provides dependency injection and application initialization.
// The package coordinates between different layers and provides
// a clean application bootstrap process.
package app

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	httpserver "github.com/supplychainopt/decision-pipeline/internal/adapter/httpserver"
	"github.com/supplychainopt/decision-pipeline/internal/adapter/observability"
	"github.com/supplychainopt/decision-pipeline/internal/config"
	"github.com/supplychainopt/decision-pipeline/internal/service/ratelimiter"
)

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{"*"}
	}
	if s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// distributedRateLimit builds a second, Redis-backed rate limit layer on top
// of the in-memory per-process httprate limiter, shared across every API
// instance behind a load balancer. It is a no-op when cfg.RedisURL is unset,
// so single-instance deployments and tests never need a live Redis.
func distributedRateLimit(cfg config.Config) func(http.Handler) http.Handler {
	noop := func(next http.Handler) http.Handler { return next }
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return noop
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL, distributed rate limiting disabled", slog.Any("error", err))
		return noop
	}
	rdb := redis.NewClient(opt)
	limiter := ratelimiter.NewRedisLuaLimiter(rdb, nil, map[string]ratelimiter.BucketConfig{
		"api": ratelimiter.NewBucketConfigFromPerMinute(cfg.RateLimitPerMin),
	})
	if limiter == nil {
		return noop
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			allowed, retryAfter, err := limiter.Allow(r.Context(), "api:"+host, 1)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", retryAfter.Round(time.Second).String())
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	// Security & instrumentation middleware
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	// CORS - Updated for frontend separation
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   append(ParseOrigins(cfg.CORSAllowOrigins), "http://localhost:3001"),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true, // Enable credentials for session management
		MaxAge:           300,
	}))

	// Rate limit mutating endpoints
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.Use(distributedRateLimit(cfg))
		wr.Post("/decisions/recommend", srv.RecommendHandler())
		wr.Post("/forecast/run", srv.ForecastRunHandler())
		wr.Post("/inventory/policy", srv.InventoryPolicyHandler())
		wr.Post("/optimize/run", srv.OptimizeRunHandler())
		wr.Post("/scrape/jobs", srv.ScrapeJobsHandler())
	})

	// Read-only endpoints
	r.Get("/decisions/{run_id}", srv.DecisionRunHandler())
	r.Get("/forecast/{run_id}/results", srv.ForecastResultsHandler())
	r.Get("/optimize/{run_id}/explain", srv.OptimizeExplainHandler())

	// Health, readiness and metrics
	r.Get("/healthz", healthzHandler)
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	// OpenAPI if present
	r.Get("/openapi.yaml", srv.OpenAPIServe())

	return httpserver.SecurityHeaders(r)
}
