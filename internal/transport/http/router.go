package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"macrotool/internal/config"
	apperrors "macrotool/internal/errors"
	"macrotool/internal/license"
	"macrotool/internal/middleware"
)

// RouterDeps carries everything the status API needs
type RouterDeps struct {
	Entitlement    *license.Entitlement
	Health         HealthChecker
	ErrorHandler   *apperrors.ErrorHandler
	Logger         *slog.Logger
	Tracer         trace.Tracer
	Meter          metric.Meter
	Metrics        http.Handler // nil disables /metrics
	RateLimit      config.RateLimitConfig
	RequestTimeout time.Duration
	Now            func() time.Time
}

// NewRouter builds the local status API. Middleware order:
// RequestID → TraceContext → OTel → Logger → Recoverer → SecurityHeaders → RateLimit.
func NewRouter(deps RouterDeps) (*chi.Mux, error) {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.TraceContext)

	if deps.Tracer != nil && deps.Meter != nil {
		otelMiddleware, err := middleware.NewOTelMiddleware(deps.Tracer, deps.Meter, deps.Logger)
		if err != nil {
			return nil, err
		}
		r.Use(otelMiddleware.Handler)
	}

	r.Use(middleware.StructuredLogger(deps.Logger))
	r.Use(deps.ErrorHandler.Recoverer)
	r.Use(middleware.SecurityHeaders)

	if deps.RateLimit.Enabled {
		r.Use(middleware.NewRateLimiter(deps.RateLimit, deps.ErrorHandler, deps.Logger).Handler)
	}
	if deps.RequestTimeout > 0 {
		r.Use(chimw.Timeout(deps.RequestTimeout))
	}

	r.NotFound(deps.ErrorHandler.NotFound)
	r.MethodNotAllowed(deps.ErrorHandler.MethodNotAllowed)

	healthHandler := NewHealthHandler(deps.Health, deps.Logger)
	r.Get(config.HealthEndpoint, healthHandler.Healthz)
	r.Get("/livez", healthHandler.Livez)

	r.Group(func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Mount(config.LicenseEndpoint, NewLicenseHandler(deps.Entitlement, deps.Now, deps.ErrorHandler, deps.Logger).Routes())
		r.Mount("/api/automation", NewAutomationHandler(deps.Entitlement, deps.ErrorHandler, deps.Logger).Routes())
	})

	if deps.Metrics != nil {
		r.Handle(config.MetricsEndpoint, deps.Metrics)
	}

	return r, nil
}
