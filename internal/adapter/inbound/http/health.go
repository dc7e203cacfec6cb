package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/mcpgate/mcpgate/internal/port/outbound"
	"github.com/mcpgate/mcpgate/internal/service"
)

// HealthResponse is the JSON body served on the health paths.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker reports gateway component health.
type HealthChecker struct {
	registry outbound.SessionRegistry
	audit    *service.AuditService
	version  string
}

// NewHealthChecker creates a HealthChecker. Pass nil for components that
// are not configured.
func NewHealthChecker(registry outbound.SessionRegistry, audit *service.AuditService, version string) *HealthChecker {
	return &HealthChecker{registry: registry, audit: audit, version: version}
}

// Check runs the component checks.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.registry != nil {
		checks["sessions"] = fmt.Sprintf("%d active", h.registry.Size())
	} else {
		checks["sessions"] = "not configured"
	}

	if h.audit != nil {
		depth := h.audit.ChannelDepth()
		capacity := h.audit.ChannelCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}
		if percentFull > 90 {
			// Sustained backpressure on the audit channel.
			checks["audit"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["audit"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}
		if drops := h.audit.Dropped(); drops > 0 {
			checks["audit_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["audit"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

// Handler returns the HTTP handler for the health paths.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()
		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}
