// Package http implements the local status API served by `macrotool run`.
// Handlers are thin: they read the startup entitlement or the health check
// and render JSON with go-chi/render.
//
// # Routes
//
//	GET /healthz                            license and machine-id health
//	GET /livez                              process liveness
//	GET /api/license                        entitlement status
//	GET /api/license/problem                rejection as RFC 7807, 204 when valid
//	GET /api/automation/features            feature list with enabled flags
//	GET /api/automation/features/{feature}  gated by middleware.RequireLicense
//	GET /metrics                            Prometheus exposition, when enabled
//
// # Error Handling
//
// Every failure is rendered by internal/errors as a problem document:
//
//	{
//	    "type": "/errors/license/required",
//	    "title": "License Required",
//	    "status": 428,
//	    "detail": "Automation features require a valid license.",
//	    "instance": "/api/automation/features/auto_click",
//	    "error_type": "license_required",
//	    "trace_id": "..."
//	}
package http
