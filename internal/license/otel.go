package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "license-validator"
	MeterName  = "license-validator"
)

// Metrics holds the license OpenTelemetry instruments
type Metrics struct {
	ValidationAttempts metric.Int64Counter
	ValidationSuccess  metric.Int64Counter
	ValidationFailures metric.Int64Counter
	ValidationDuration metric.Float64Histogram

	ActivationAttempts metric.Int64Counter
	ActivationSuccess  metric.Int64Counter
	ActivationFailures metric.Int64Counter

	DaysRemaining metric.Int64Gauge
}

// NewMetrics creates all license metrics on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ValidationAttempts, err = meter.Int64Counter(
		"license_validation_attempts_total",
		metric.WithDescription("Total number of license validation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation attempts counter: %w", err)
	}

	m.ValidationSuccess, err = meter.Int64Counter(
		"license_validation_success_total",
		metric.WithDescription("Total number of successful license validations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation success counter: %w", err)
	}

	m.ValidationFailures, err = meter.Int64Counter(
		"license_validation_failures_total",
		metric.WithDescription("Total number of rejected licenses by failure kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation failures counter: %w", err)
	}

	m.ValidationDuration, err = meter.Float64Histogram(
		"license_validation_duration_seconds",
		metric.WithDescription("License validation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation duration histogram: %w", err)
	}

	m.ActivationAttempts, err = meter.Int64Counter(
		"license_activation_attempts_total",
		metric.WithDescription("Total number of license activation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation attempts counter: %w", err)
	}

	m.ActivationSuccess, err = meter.Int64Counter(
		"license_activation_success_total",
		metric.WithDescription("Total number of successful license activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation success counter: %w", err)
	}

	m.ActivationFailures, err = meter.Int64Counter(
		"license_activation_failures_total",
		metric.WithDescription("Total number of failed license activations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation failures counter: %w", err)
	}

	m.DaysRemaining, err = meter.Int64Gauge(
		"license_days_remaining",
		metric.WithDescription("Days until the active license expires"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create days remaining gauge: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordValidation(ctx context.Context, duration time.Duration, rec *Record, err error, now time.Time) {
	if m == nil {
		return
	}

	m.ValidationAttempts.Add(ctx, 1)
	m.ValidationDuration.Record(ctx, duration.Seconds())

	if err != nil {
		m.ValidationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", KindOf(err).String())))
		return
	}
	m.ValidationSuccess.Add(ctx, 1)
	m.DaysRemaining.Record(ctx, int64(rec.DaysRemaining(now)))
}

func (m *Metrics) recordActivation(ctx context.Context, err error) {
	if m == nil {
		return
	}

	m.ActivationAttempts.Add(ctx, 1)
	if err != nil {
		m.ActivationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", KindOf(err).String())))
		return
	}
	m.ActivationSuccess.Add(ctx, 1)
}

func defaultTracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// endSpan records the outcome of a validation on span and ends it
func endSpan(span trace.Span, rec *Record, err error) {
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("license.error_type", KindOf(err).String()))
		return
	}

	span.SetAttributes(
		attribute.String("license.issued_to", rec.IssuedTo),
		attribute.String("license.expiry", rec.Expiry.Format(DateLayout)),
	)
	span.SetStatus(codes.Ok, "license valid")
}
