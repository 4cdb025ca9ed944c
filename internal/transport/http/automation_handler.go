package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "macrotool/internal/errors"
	"macrotool/internal/license"
	"macrotool/internal/middleware"
)

// FeatureState reports whether one automation feature may run
type FeatureState struct {
	Name    license.Feature `json:"name"`
	Enabled bool            `json:"enabled"`
}

// FeaturesResponse lists every automation feature and its state
type FeaturesResponse struct {
	Licensed bool           `json:"licensed"`
	Features []FeatureState `json:"features"`
}

// AutomationHandler exposes the automation features gated by the entitlement
type AutomationHandler struct {
	ent          *license.Entitlement
	errorHandler *apperrors.ErrorHandler
	logger       *slog.Logger
}

// NewAutomationHandler creates a new automation handler
func NewAutomationHandler(ent *license.Entitlement, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) *AutomationHandler {
	return &AutomationHandler{
		ent:          ent,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "automation")),
	}
}

// Routes returns a chi router for automation endpoints. Each feature gets
// its own route behind RequireLicense.
func (h *AutomationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/features", h.ListFeatures)

	for _, feature := range license.AllFeatures {
		r.With(middleware.RequireLicense(h.ent, feature, h.errorHandler, h.logger)).
			Get("/features/"+string(feature), h.FeatureReady(feature))
	}
	return r
}

// ListFeatures handles GET /api/automation/features
func (h *AutomationHandler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	allowed := h.ent.Allowed()
	resp := FeaturesResponse{
		Licensed: allowed,
		Features: make([]FeatureState, 0, len(license.AllFeatures)),
	}
	for _, feature := range license.AllFeatures {
		resp.Features = append(resp.Features, FeatureState{Name: feature, Enabled: allowed})
	}
	render.JSON(w, r, resp)
}

// FeatureReady handles GET /api/automation/features/{feature}. It is only
// reached when the entitlement allows the feature.
func (h *AutomationHandler) FeatureReady(feature license.Feature) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, FeatureState{Name: feature, Enabled: true})
	}
}
