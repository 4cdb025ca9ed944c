package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "macrotool/internal/errors"
	"macrotool/internal/license"
)

// LicenseHandler exposes the startup entitlement. It never re-reads the
// license file; the entitlement is fixed for the life of the process.
type LicenseHandler struct {
	ent          *license.Entitlement
	now          func() time.Time
	errorHandler *apperrors.ErrorHandler
	logger       *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(ent *license.Entitlement, now func() time.Time, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) *LicenseHandler {
	if now == nil {
		now = time.Now
	}
	return &LicenseHandler{
		ent:          ent,
		now:          now,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "license")),
	}
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetStatus)
	r.Get("/problem", h.GetProblem)
	return r
}

// GetStatus handles GET /api/license. A denied entitlement is still a
// successful status read, reported with valid=false.
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := h.ent.Status(h.now())

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.Bool("license.valid", status.Valid),
		attribute.String("license.state", status.State),
	)
	h.logger.DebugContext(r.Context(), "license status served",
		slog.String("state", status.State),
		slog.Int("days_remaining", status.DaysRemaining))

	render.JSON(w, r, status)
}

// GetProblem handles GET /api/license/problem. It renders the rejection as a
// problem document, or 204 when the license is valid.
func (h *LicenseHandler) GetProblem(w http.ResponseWriter, r *http.Request) {
	if h.ent.Allowed() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	problem := h.errorHandler.ErrorToProblem(h.ent.Err(), r)
	if kind := h.ent.Kind(); kind != 0 {
		problem.WithExtension("message", kind.Message())
	}
	problem.WithLicenseDetails(licenseDetails(h.ent.Err()))
	render.Render(w, r, problem)
}

// licenseDetails pulls the record fields a rejection carries, nil when the
// license never decrypted
func licenseDetails(err error) *apperrors.LicenseDetails {
	var le *license.Error
	if !errors.As(err, &le) || le.Record == nil {
		return nil
	}
	details := &apperrors.LicenseDetails{
		IssuedTo:  le.Record.IssuedTo,
		MachineID: le.MachineID,
	}
	if le.Kind == license.KindExpired {
		expiry := le.Record.Expiry
		details.ExpiryDate = &expiry
	}
	return details
}
