package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents health of a specific component
type ComponentHealth struct {
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  string                 `json:"duration,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// HealthCheckConfig configures health check behavior
type HealthCheckConfig struct {
	Timeout time.Duration
	// ExpiryWarningDays marks the license degraded when fewer days remain
	ExpiryWarningDays int
}

// HealthCheck reports the startup entitlement and probes the machine
// identifier. It never re-reads the license file.
type HealthCheck struct {
	validator *Validator
	ent       *Entitlement
	config    HealthCheckConfig
}

// NewHealthCheck creates a health check for ent. The validator supplies the
// machine identifier, clock and tracer.
func NewHealthCheck(validator *Validator, ent *Entitlement, config HealthCheckConfig) *HealthCheck {
	return &HealthCheck{validator: validator, ent: ent, config: config}
}

// HealthCheckResult contains the health of every component
type HealthCheckResult struct {
	OverallStatus HealthStatus                `json:"status"`
	Message       string                      `json:"message"`
	Timestamp     time.Time                   `json:"timestamp"`
	Duration      string                      `json:"duration"`
	Components    map[string]*ComponentHealth `json:"components"`
	TraceID       string                      `json:"trace_id,omitempty"`
}

// PerformHealthCheck runs all component checks
func (hc *HealthCheck) PerformHealthCheck(ctx context.Context) *HealthCheckResult {
	ctx, span := hc.validator.tracer.Start(ctx, "license.health_check")
	defer span.End()

	if hc.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hc.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	result := &HealthCheckResult{
		Timestamp: start,
		TraceID:   traceIDFromContext(ctx),
		Components: map[string]*ComponentHealth{
			"license_file": hc.checkLicense(),
			"machine_id":   hc.checkMachineID(ctx),
		},
	}

	result.OverallStatus = overallStatus(result.Components)
	result.Duration = time.Since(start).String()
	result.Message = statusMessage(result.OverallStatus, result.Components)

	span.SetAttributes(
		attribute.String("health.overall_status", string(result.OverallStatus)),
		attribute.Int("health.total_components", len(result.Components)),
	)
	return result
}

func (hc *HealthCheck) checkLicense() *ComponentHealth {
	health := &ComponentHealth{
		Timestamp: hc.validator.now(),
		Metadata:  map[string]interface{}{"checked_at": hc.ent.CheckedAt()},
	}

	if !hc.ent.Allowed() {
		health.Status = HealthStatusUnhealthy
		if kind := hc.ent.Kind(); kind != 0 {
			health.Message = kind.Message()
			health.Error = kind.String()
		} else {
			health.Message = "No license has been activated."
			health.Error = hc.ent.Err().Error()
		}
		return health
	}

	rec := hc.ent.Record()
	days := rec.DaysRemaining(hc.validator.localNow())
	health.Metadata["expiry"] = rec.Expiry.Format(DateLayout)
	health.Metadata["days_remaining"] = days

	if days < hc.config.ExpiryWarningDays {
		health.Status = HealthStatusDegraded
		health.Message = fmt.Sprintf("License expires in %d days", days)
		return health
	}
	health.Status = HealthStatusHealthy
	health.Message = "License valid"
	return health
}

func (hc *HealthCheck) checkMachineID(ctx context.Context) *ComponentHealth {
	start := time.Now()
	health := &ComponentHealth{Timestamp: start}

	_, err := hc.validator.machine.MachineID(ctx)
	health.Duration = time.Since(start).String()
	if err != nil {
		health.Status = HealthStatusUnhealthy
		health.Message = "Machine identifier unavailable"
		health.Error = err.Error()
		return health
	}
	health.Status = HealthStatusHealthy
	health.Message = "Machine identifier available"
	return health
}

func overallStatus(components map[string]*ComponentHealth) HealthStatus {
	status := HealthStatusHealthy
	for _, c := range components {
		switch c.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			status = HealthStatusDegraded
		}
	}
	return status
}

func statusMessage(status HealthStatus, components map[string]*ComponentHealth) string {
	switch status {
	case HealthStatusHealthy:
		return fmt.Sprintf("All %d license components are healthy", len(components))
	case HealthStatusDegraded:
		return "License operational with warnings"
	default:
		return "License unavailable"
	}
}

func traceIDFromContext(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
