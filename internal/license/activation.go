package license

import (
	"bytes"
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Activate installs token as the license file at path. The token is validated
// first so a rejected license never replaces a working one.
func (v *Validator) Activate(ctx context.Context, path string, token []byte) (*Record, error) {
	ctx, span := v.tracer.Start(ctx, "license.activate",
		trace.WithAttributes(attribute.String("license.path", path)),
	)
	defer span.End()

	token = bytes.TrimSpace(token)

	rec, err := v.ValidateToken(ctx, token)
	if err != nil {
		v.metrics.recordActivation(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "activation rejected")
		return nil, err
	}

	if err := WriteLicenseFile(path, token); err != nil {
		lerr := &Error{Kind: KindIO, Path: path, Err: err}
		v.metrics.recordActivation(ctx, lerr)
		span.RecordError(lerr)
		span.SetStatus(codes.Error, "license write failed")
		v.logger.ErrorContext(ctx, "Failed to store license",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, lerr
	}

	v.metrics.recordActivation(ctx, nil)
	span.SetStatus(codes.Ok, "license activated")
	v.logger.InfoContext(ctx, "License activated",
		slog.String("path", path),
		slog.String("expiry", rec.Expiry.Format(DateLayout)),
	)
	return rec, nil
}
