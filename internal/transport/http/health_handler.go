package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"macrotool/internal/license"
)

// HealthChecker reports the health of the license subsystem
type HealthChecker interface {
	PerformHealthCheck(ctx context.Context) *license.HealthCheckResult
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	checker HealthChecker
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checker HealthChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checker: checker,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// Healthz handles GET /healthz. Degraded still answers 200 so supervisors
// only restart on hard failures.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	result := h.checker.PerformHealthCheck(r.Context())

	if result.OverallStatus == license.HealthStatusUnhealthy {
		h.logger.WarnContext(r.Context(), "health check failed",
			slog.String("message", result.Message))
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, result)
}

// Livez handles GET /livez
func (h *HealthHandler) Livez(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "alive"})
}
