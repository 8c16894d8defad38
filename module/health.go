package module

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/GoCodeAlone/modular"
)

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthCheckResult represents the result of a health check.
type HealthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthCheck is a function that performs a health check.
type HealthCheck func(ctx context.Context) HealthCheckResult

// PingCheck turns a ping function into a HealthCheck that is unhealthy on
// error. Each ping gets timeout.
func PingCheck(timeout time.Duration, ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) HealthCheckResult {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := ping(ctx); err != nil {
			return HealthCheckResult{Status: StatusUnhealthy, Message: err.Error()}
		}
		return HealthCheckResult{Status: StatusHealthy}
	}
}

// DegradedUnless is healthy while ok reports true and degraded otherwise.
func DegradedUnless(ok func() bool, message string) HealthCheck {
	return func(context.Context) HealthCheckResult {
		if ok() {
			return HealthCheckResult{Status: StatusHealthy}
		}
		return HealthCheckResult{Status: StatusDegraded, Message: message}
	}
}

// HealthChecker serves readiness and liveness probes. It reports ready only
// between Start and Stop and while no check is unhealthy.
type HealthChecker struct {
	name    string
	checks  map[string]HealthCheck
	mu      sync.RWMutex
	started bool
}

// NewHealthChecker creates a new HealthChecker module.
func NewHealthChecker(name string) *HealthChecker {
	return &HealthChecker{
		name:   name,
		checks: make(map[string]HealthCheck),
	}
}

// Name returns the module name.
func (h *HealthChecker) Name() string {
	return h.name
}

// Init registers the health checker as a service.
func (h *HealthChecker) Init(app modular.Application) error {
	return app.RegisterService(h.name, h)
}

// Start marks the application ready.
func (h *HealthChecker) Start(context.Context) error {
	h.SetStarted(true)
	return nil
}

// Stop marks the application not ready, so load balancers drain it before
// the HTTP server stops.
func (h *HealthChecker) Stop(context.Context) error {
	h.SetStarted(false)
	return nil
}

// RegisterCheck adds a named health check function.
func (h *HealthChecker) RegisterCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// SetStarted marks the health checker as started or stopped.
func (h *HealthChecker) SetStarted(started bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = started
}

// Run executes every check and returns the overall status.
func (h *HealthChecker) Run(ctx context.Context) (string, map[string]HealthCheckResult) {
	h.mu.RLock()
	checks := make(map[string]HealthCheck, len(h.checks))
	maps.Copy(checks, h.checks)
	h.mu.RUnlock()

	overall := StatusHealthy
	results := make(map[string]HealthCheckResult, len(checks))
	for name, check := range checks {
		result := check(ctx)
		results[name] = result
		if result.Status == StatusUnhealthy {
			overall = StatusUnhealthy
		} else if result.Status == StatusDegraded && overall == StatusHealthy {
			overall = StatusDegraded
		}
	}
	return overall, results
}

// ReadyHandler returns an HTTP handler that checks readiness.
// Returns 200 only if started and no check is unhealthy, else 503. Degraded
// checks are reported but keep the instance ready.
func (h *HealthChecker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		started := h.started
		h.mu.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		if !started {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_ready"})
			return
		}

		overall, results := h.Run(r.Context())
		status := "ready"
		if overall == StatusUnhealthy {
			status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "checks": results})
	}
}

// LiveHandler returns an HTTP handler for liveness checks.
// Always returns 200 with {"status":"alive"}.
func (h *HealthChecker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}
