// Package monitoring serves the liveness, readiness and combined health
// endpoints.
package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lewisedginton/group_tagger/pkg/logger"
)

// Health status constants
const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusReady     = "ready"
	statusNotReady  = "not_ready"
)

// Pinger is a dependency that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds configuration for the health monitor
type Config struct {
	Logger  logger.Logger
	Version string
	Timeout time.Duration
	// Gateway is the connection gateway; readiness fails while unreachable.
	Gateway Pinger
	// Storage is the credential store; readiness fails while unreachable.
	Storage Pinger
	// Sessions, when set, adds per-state session counts to /health.
	Sessions func() map[string]int
}

// HealthMonitor manages health checks and monitoring endpoints for the application
type HealthMonitor struct {
	checker   *checker
	logger    logger.Logger
	version   string
	sessions  func() map[string]int
	startTime time.Time
	draining  atomic.Bool
}

// NewHealthMonitor creates a new health monitor with configured checks
func NewHealthMonitor(cfg Config) *HealthMonitor {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	hm := &HealthMonitor{
		checker:   &checker{timeout: cfg.Timeout, log: cfg.Logger},
		logger:    cfg.Logger,
		version:   cfg.Version,
		sessions:  cfg.Sessions,
		startTime: time.Now(),
	}

	hm.checker.addLiveness(Check{Name: "process", Fn: func(context.Context) error { return nil }})
	hm.checker.addReadiness(Check{Name: "shutdown", Fn: func(context.Context) error {
		if hm.draining.Load() {
			return errDraining
		}
		return nil
	}})
	if cfg.Gateway != nil {
		hm.checker.addReadiness(Check{Name: "gateway", Fn: cfg.Gateway.Ping})
	}
	if cfg.Storage != nil {
		hm.checker.addReadiness(Check{Name: "storage", Fn: cfg.Storage.Ping})
	}
	return hm
}

var errDraining = errors.New("shutting down")

// Drain marks the service not ready ahead of shutdown.
func (hm *HealthMonitor) Drain() {
	hm.draining.Store(true)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// LivenessHandler returns an HTTP handler for Kubernetes liveness probes
// GET /health/live - Returns 200 if the process is alive and can handle requests
func (hm *HealthMonitor) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks, err := hm.checker.checkLiveness(r.Context())
		response := map[string]any{
			"status":    statusHealthy,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    time.Since(hm.startTime).String(),
			"checks":    checks,
		}
		if err != nil {
			response["status"] = statusUnhealthy
			response["error"] = err.Error()
			hm.logger.Error("Liveness check failed", logger.ErrorField(err))
			writeJSON(w, http.StatusServiceUnavailable, response)
			return
		}
		writeJSON(w, http.StatusOK, response)
	}
}

// ReadinessHandler returns an HTTP handler for Kubernetes readiness probes
// GET /health/ready - Returns 200 when the gateway and storage answer
func (hm *HealthMonitor) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks, err := hm.checker.checkReadiness(r.Context())
		response := map[string]any{
			"status":    statusReady,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    checks,
		}
		if err != nil {
			response["status"] = statusNotReady
			response["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, response)
			return
		}
		writeJSON(w, http.StatusOK, response)
	}
}

// HealthHandler returns a combined health endpoint that includes both liveness and readiness
// GET /health - Returns comprehensive health status
func (hm *HealthMonitor) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		liveChecks, liveErr := hm.checker.checkLiveness(ctx)
		readyChecks, readyErr := hm.checker.checkReadiness(ctx)

		liveness := map[string]any{"status": statusHealthy, "checks": liveChecks}
		readiness := map[string]any{"status": statusReady, "checks": readyChecks}
		response := map[string]any{
			"status":    statusHealthy,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    time.Since(hm.startTime).String(),
			"version":   hm.version,
			"liveness":  liveness,
			"readiness": readiness,
		}
		if hm.sessions != nil {
			response["sessions"] = hm.sessions()
		}

		status := http.StatusOK
		if liveErr != nil {
			liveness["status"] = statusUnhealthy
			liveness["error"] = liveErr.Error()
			status = http.StatusServiceUnavailable
		}
		if readyErr != nil {
			readiness["status"] = statusNotReady
			readiness["error"] = readyErr.Error()
			status = http.StatusServiceUnavailable
		}
		if status != http.StatusOK {
			response["status"] = statusUnhealthy
		}
		writeJSON(w, status, response)
	}
}

// Paths overrides the endpoint locations.
type Paths struct {
	Liveness  string
	Readiness string
	Combined  string
}

// RegisterHandlers registers all health check endpoints on the router.
func (hm *HealthMonitor) RegisterHandlers(r chi.Router, paths Paths) {
	if paths.Liveness == "" {
		paths.Liveness = "/health/live"
	}
	if paths.Readiness == "" {
		paths.Readiness = "/health/ready"
	}
	if paths.Combined == "" {
		paths.Combined = "/health"
	}
	r.Get(paths.Combined, hm.HealthHandler())
	r.Get(paths.Liveness, hm.LivenessHandler())
	r.Get(paths.Readiness, hm.ReadinessHandler())
}
