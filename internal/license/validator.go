package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fernet/fernet-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"macrotool/internal/security"
)

// MachineIdentifier returns the identifier of the machine the process runs on
type MachineIdentifier interface {
	MachineID(ctx context.Context) (string, error)
}

// Validator decides whether a license file grants access on this machine
type Validator struct {
	codec      *security.TokenCodec
	signingKey []byte
	machine    MachineIdentifier
	now        func() time.Time
	location   *time.Location
	logger     *slog.Logger
	metrics    *Metrics
	tracer     trace.Tracer
	maxAge     time.Duration
	oldKeys    []*security.KeySet
}

// Option configures a Validator
type Option func(*Validator)

// WithMaxTokenAge rejects tokens sealed longer ago than d, measured with the
// validator's clock. Zero disables the check.
func WithMaxTokenAge(d time.Duration) Option {
	return func(v *Validator) { v.maxAge = d }
}

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithLocation sets the time zone whose calendar date is compared with the expiry
func WithLocation(loc *time.Location) Option {
	return func(v *Validator) { v.location = loc }
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

// WithMetrics records validation and activation outcomes on m
func WithMetrics(m *Metrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// WithTracer sets the tracer used for validation spans
func WithTracer(t trace.Tracer) Option {
	return func(v *Validator) { v.tracer = t }
}

// WithPreviousKeys accepts tokens encrypted with retired keys. Their records
// must still carry a signature made with the current signing key.
func WithPreviousKeys(keys ...*security.KeySet) Option {
	return func(v *Validator) { v.oldKeys = append(v.oldKeys, keys...) }
}

// NewValidator creates a validator for the given keys and machine
func NewValidator(keys *security.KeySet, machine MachineIdentifier, opts ...Option) (*Validator, error) {
	if keys == nil || keys.Encryption == nil || len(keys.Signing) == 0 {
		return nil, errors.New("license keys are required")
	}
	if machine == nil {
		return nil, errors.New("machine identifier is required")
	}

	v := &Validator{
		signingKey: keys.Signing,
		machine:    machine,
		now:        time.Now,
		location:   time.Local,
		logger:     slog.Default(),
		tracer:     defaultTracer(),
	}
	for _, opt := range opts {
		opt(v)
	}

	fernetKeys := []*fernet.Key{keys.Encryption}
	for _, old := range v.oldKeys {
		if old != nil && old.Encryption != nil {
			fernetKeys = append(fernetKeys, old.Encryption)
		}
	}

	codec, err := security.NewTokenCodec(v.maxAge, fernetKeys...)
	if err != nil {
		return nil, fmt.Errorf("failed to create token codec: %w", err)
	}
	v.codec = codec
	v.logger = v.logger.With(slog.String("component", "license_validator"))

	return v, nil
}

// Validate reads the license file at path and checks it. A nil error means
// the record decrypted, has not expired, carries a genuine signature and is
// bound to this machine.
func (v *Validator) Validate(ctx context.Context, path string) (*Record, error) {
	ctx, span := v.tracer.Start(ctx, "license.validate",
		trace.WithAttributes(attribute.String("license.path", path)),
	)
	start := time.Now()

	rec, err := v.validateFile(ctx, path)

	v.metrics.recordValidation(ctx, time.Since(start), rec, err, v.localNow())
	endSpan(span, rec, err)
	v.logResult(ctx, path, rec, err, time.Since(start))

	return rec, err
}

// ValidateToken checks a license token that has not been written to disk
func (v *Validator) ValidateToken(ctx context.Context, token []byte) (*Record, error) {
	ctx, span := v.tracer.Start(ctx, "license.validate_token")
	start := time.Now()

	rec, err := v.validateToken(ctx, token)

	v.metrics.recordValidation(ctx, time.Since(start), rec, err, v.localNow())
	endSpan(span, rec, err)
	v.logResult(ctx, "", rec, err, time.Since(start))

	return rec, err
}

// Check validates the license at path and returns the resulting entitlement.
// It never fails: a rejected license yields a denying entitlement.
func (v *Validator) Check(ctx context.Context, path string) *Entitlement {
	rec, err := v.Validate(ctx, path)
	return newEntitlement(rec, err, v.localNow())
}

func (v *Validator) validateFile(ctx context.Context, path string) (*Record, error) {
	token, err := ReadLicenseFile(path)
	if err != nil {
		return nil, err
	}

	rec, err := v.validateToken(ctx, token)
	if err != nil {
		var le *Error
		if errors.As(err, &le) && le.Path == "" {
			le.Path = path
		}
		return nil, err
	}
	return rec, nil
}

// validateToken runs the checks in a fixed order: decrypt, parse, expiry,
// signature, machine. An expired license is reported as expired whatever its
// signature.
func (v *Validator) validateToken(ctx context.Context, token []byte) (*Record, error) {
	plaintext, err := v.codec.OpenAt(token, v.now())
	if err != nil {
		return nil, newError(KindCorrupt, err)
	}

	rec, err := ParseRecord(plaintext)
	if err != nil {
		return nil, newError(KindCorrupt, err)
	}

	if rec.ExpiredOn(v.localNow()) {
		le := newError(KindExpired, fmt.Errorf("expired on %s", rec.Expiry.Format(DateLayout)))
		le.Record = rec
		return nil, le
	}

	if !rec.VerifySignature(v.signingKey) {
		return nil, newError(KindTampered, errors.New("signature mismatch"))
	}

	machineID, err := v.machine.MachineID(ctx)
	if err != nil {
		return nil, newError(KindIO, fmt.Errorf("failed to determine machine id: %w", err))
	}
	if !security.SecureCompare([]byte(rec.IssuedTo), []byte(machineID)) {
		le := newError(KindMachineMismatch, nil)
		le.Record = rec
		le.MachineID = machineID
		return nil, le
	}

	return rec, nil
}

func (v *Validator) localNow() time.Time {
	return v.now().In(v.location)
}

// logResult never logs the token or any key material
func (v *Validator) logResult(ctx context.Context, path string, rec *Record, err error, duration time.Duration) {
	attrs := []slog.Attr{
		slog.Duration("duration", duration),
	}
	if path != "" {
		attrs = append(attrs, slog.String("path", path))
	}

	if err != nil {
		kind := KindOf(err)
		attrs = append(attrs,
			slog.String("result", "rejected"),
			slog.String("error_type", kind.String()),
			slog.String("error", err.Error()),
		)
		level := slog.LevelWarn
		if kind == KindIO {
			level = slog.LevelInfo
		}
		v.logger.LogAttrs(ctx, level, "License rejected", attrs...)
		return
	}

	attrs = append(attrs,
		slog.String("result", "valid"),
		slog.String("expiry", rec.Expiry.Format(DateLayout)),
		slog.Int("days_remaining", rec.DaysRemaining(v.localNow())),
	)
	v.logger.LogAttrs(ctx, slog.LevelInfo, "License validated", attrs...)
}
