package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/depflow/api"
	"github.com/BaSui01/depflow/resilience/circuitbreaker"
	"go.uber.org/zap"
)

// =============================================================================
// Health handler
// =============================================================================

// HealthHandler serves liveness, readiness and version endpoints.
type HealthHandler struct {
	logger  *zap.Logger
	checks  []HealthCheck
	timeout time.Duration
	mu      sync.RWMutex
}

// HealthCheck is one readiness probe.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// ServiceHealthResponse is the body of /health and /ready.
type ServiceHealthResponse struct {
	Status    string                 `json:"status"` // healthy or unhealthy
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Status  string `json:"status"` // pass or fail
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthHandler creates a handler with no readiness checks.
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger.With(zap.String("component", "health")),
		timeout: 5 * time.Second,
	}
}

// RegisterCheck adds a readiness probe.
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// HandleHealth handles /health and /healthz: the process is up.
// @Summary Liveness probe
// @Tags health
// @Produce json
// @Success 200 {object} ServiceHealthResponse
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, ServiceHealthResponse{Status: "healthy", Timestamp: time.Now()})
}

// HandleReady handles /ready and /readyz by running every registered check.
// @Summary Readiness probe
// @Tags health
// @Produce json
// @Success 200 {object} ServiceHealthResponse
// @Failure 503 {object} ServiceHealthResponse
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := ServiceHealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}

	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)
		latency := time.Since(start)

		result := CheckResult{Status: "pass", Latency: latency.String()}
		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			status.Status = "unhealthy"
			h.logger.Warn("health check failed",
				zap.String("check", check.Name()),
				zap.Error(err),
				zap.Duration("latency", latency),
			)
		}
		status.Checks[check.Name()] = result
	}

	if status.Status != "healthy" {
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// HandleVersion returns a handler reporting build information.
// @Summary Version information
// @Tags health
// @Produce json
// @Success 200 {object} api.VersionInfo
// @Router /version [get]
func (h *HealthHandler) HandleVersion(info api.VersionInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, info)
	}
}

// =============================================================================
// Built-in checks
// =============================================================================

// CheckFunc adapts a function to HealthCheck.
type CheckFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// NewCheck names fn as a readiness probe, e.g. a Redis PING or SQL ping.
func NewCheck(name string, fn func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, fn: fn}
}

func (c *CheckFunc) Name() string { return c.name }

func (c *CheckFunc) Check(ctx context.Context) error { return c.fn(ctx) }

// BreakerHealthCheck fails while the store breaker is open and its recovery
// timeout has not elapsed. Past that point the next call is a half-open trial,
// so the instance reports ready again to receive it.
type BreakerHealthCheck struct {
	stats        func() circuitbreaker.Stats
	resetTimeout time.Duration
}

// NewBreakerHealthCheck reads breaker state through stats.
func NewBreakerHealthCheck(stats func() circuitbreaker.Stats, resetTimeout time.Duration) *BreakerHealthCheck {
	return &BreakerHealthCheck{stats: stats, resetTimeout: resetTimeout}
}

func (c *BreakerHealthCheck) Name() string { return "circuit_breaker" }

func (c *BreakerHealthCheck) Check(ctx context.Context) error {
	if remaining := openRemaining(c.stats(), c.resetTimeout, time.Now()); remaining > 0 {
		return fmt.Errorf("store circuit open, next trial in %s", remaining.Round(time.Second))
	}
	return nil
}

// openRemaining is how long an open breaker keeps rejecting calls, or zero.
func openRemaining(s circuitbreaker.Stats, resetTimeout time.Duration, now time.Time) time.Duration {
	if s.State != circuitbreaker.StateOpen.String() {
		return 0
	}
	if remaining := resetTimeout - now.Sub(s.OpenedAt); remaining > 0 {
		return remaining
	}
	return 0
}
