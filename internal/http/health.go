package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// APIKeyValidator checks the upstream credential. *client.Client implements it.
type APIKeyValidator interface {
	ValidateAPIKey(ctx context.Context) error
}

// HealthConfig holds the thresholds and probes behind GET /health.
type HealthConfig struct {
	Version string
	// Window is the outcome window the percentages are computed over.
	Window time.Duration
	// DegradedFailurePct marks the service degraded at this share of 5xx answers. 0 disables.
	DegradedFailurePct int
	// OverloadDeniedPct marks the service overloaded at this share of rate-limit denials. 0 disables.
	OverloadDeniedPct int
	// MinSamples is the outcome count below which percentages are ignored.
	MinSamples int
	APIKey     APIKeyValidator
	// CachePing reports cache reachability for remote backends.
	CachePing func(ctx context.Context) error
	StartTime time.Time
}

type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// statusLog remembers the last reported status so transitions are logged once.
type statusLog struct {
	mu   sync.Mutex
	prev string
}

func (s *statusLog) swap(status string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.prev
	s.prev = status
	return prev
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())
	if prev := h.statusLog.swap(result.status); prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}

	checks := map[string]string{"weatherApi": "healthy"}
	if result.reason == "api_key_invalid" {
		checks["weatherApi"] = "unhealthy"
	}
	if h.health.CachePing != nil {
		checks["cache"] = "healthy"
		if err := h.health.CachePing(r.Context()); err != nil {
			checks["cache"] = "unhealthy"
		}
	}
	window := h.outcomes.Counts(h.window())
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "weather-aggregator",
		"version":   h.health.Version,
		"checks":    checks,
		"window":    window,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if !h.health.StartTime.IsZero() {
		resp["uptimeSeconds"] = int64(time.Since(h.health.StartTime).Seconds())
	}
	if result.reason != "" {
		resp["reason"] = result.reason
	}
	writeJSON(w, result.statusCode, resp)
}

func (h *Handler) window() time.Duration {
	if h.health.Window > 0 {
		return h.health.Window
	}
	return time.Minute
}

// computeHealthStatus evaluates, in order: shutting-down, invalid API key,
// overloaded, degraded, healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if h.drain.Active() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.health.APIKey != nil {
		if err := h.health.APIKey.ValidateAPIKey(ctx); err != nil {
			return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
		}
	}
	win := h.outcomes.Counts(h.window())
	if win.Total() < h.health.MinSamples {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if h.health.OverloadDeniedPct > 0 && win.Denied > 0 && win.DeniedPct() >= float64(h.health.OverloadDeniedPct) {
		return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
	}
	if h.health.DegradedFailurePct > 0 && win.Failures > 0 && win.FailurePct() >= float64(h.health.DegradedFailurePct) {
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}
