package api

import (
	"net/http"

	"github.com/mycelian/cockpit/internal/api/respond"
)

// HealthReporter is satisfied by health.ServiceHealthChecker.
type HealthReporter interface {
	IsHealthy() bool
	Components() map[string]bool
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	checker HealthReporter
}

func NewHealthHandler(checker HealthReporter) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// CheckHealth handles GET /api/health
// Always returns 200; body reports healthy/unhealthy. 500 indicates handler failure only.
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	status := "unhealthy"
	var components map[string]bool
	if h.checker != nil {
		if h.checker.IsHealthy() {
			status = "healthy"
		}
		components = h.checker.Components()
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}
