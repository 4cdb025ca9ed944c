package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"macrotool/internal/config"
	apperrors "macrotool/internal/errors"
	"macrotool/internal/license"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type stubHealth struct {
	status license.HealthStatus
}

func (s stubHealth) PerformHealthCheck(ctx context.Context) *license.HealthCheckResult {
	return &license.HealthCheckResult{
		OverallStatus: s.status,
		Message:       string(s.status),
		Timestamp:     testNow,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func validEntitlement(t *testing.T) *license.Entitlement {
	t.Helper()
	rec, err := license.NewRecord("0123456789abcdef", time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return license.Entitle(rec, testNow)
}

func expiredEntitlement() *license.Entitlement {
	return license.Deny(&license.Error{Kind: license.KindExpired, Path: "license.key", Err: apperrors.ErrLicenseExpired}, testNow)
}

func newTestRouter(t *testing.T, ent *license.Entitlement, mutate func(*RouterDeps)) http.Handler {
	t.Helper()
	deps := RouterDeps{
		Entitlement:  ent,
		Health:       stubHealth{status: license.HealthStatusHealthy},
		ErrorHandler: apperrors.NewErrorHandler(discardLogger(), false),
		Logger:       discardLogger(),
		Now:          func() time.Time { return testNow },
	}
	if mutate != nil {
		mutate(&deps)
	}
	r, err := NewRouter(deps)
	require.NoError(t, err)
	return r
}

func do(h http.Handler, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestLicenseStatus(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		w := do(newTestRouter(t, validEntitlement(t), nil), http.MethodGet, "/api/license")
		require.Equal(t, http.StatusOK, w.Code)

		body := decode(t, w)
		assert.Equal(t, true, body["valid"])
		assert.Equal(t, "active", body["state"])
		assert.Equal(t, "0123456789abcdef", body["issued_to"])
		assert.Equal(t, "2025-03-21", body["expiry"])
		assert.Equal(t, float64(20), body["days_remaining"])
		assert.Len(t, body["features"], len(license.AllFeatures))
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("expired", func(t *testing.T) {
		w := do(newTestRouter(t, expiredEntitlement(), nil), http.MethodGet, "/api/license")
		require.Equal(t, http.StatusOK, w.Code)

		body := decode(t, w)
		assert.Equal(t, false, body["valid"])
		assert.Equal(t, "expired", body["state"])
		assert.Equal(t, license.KindExpired.Message(), body["message"])
		assert.Empty(t, body["features"])
	})
}

func TestLicenseProblem(t *testing.T) {
	tests := []struct {
		name       string
		ent        *license.Entitlement
		wantStatus int
		wantType   string
	}{
		{"valid", nil, http.StatusNoContent, ""},
		{"expired", expiredEntitlement(), http.StatusForbidden, apperrors.TypeLicenseExpired},
		{"missing", license.Deny(&license.Error{Kind: license.KindIO, Err: apperrors.ErrLicenseIO}, testNow), http.StatusNotFound, apperrors.TypeLicenseNotFound},
		{"corrupt", license.Deny(&license.Error{Kind: license.KindCorrupt, Err: apperrors.ErrLicenseCorrupt}, testNow), http.StatusUnprocessableEntity, apperrors.TypeLicenseCorrupt},
		{"never activated", license.Deny(nil, testNow), http.StatusPreconditionRequired, apperrors.TypeLicenseRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ent := tt.ent
			if ent == nil {
				ent = validEntitlement(t)
			}
			w := do(newTestRouter(t, ent, nil), http.MethodGet, "/api/license/problem")
			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantType == "" {
				return
			}
			body := decode(t, w)
			assert.Equal(t, tt.wantType, body["type"])
			assert.Equal(t, "/api/license/problem", body["instance"])
			assert.NotEmpty(t, body["trace_id"])
		})
	}
}

func TestLicenseProblemDetails(t *testing.T) {
	rec, err := license.NewRecord("0123456789abcdef", time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		ent := license.Deny(&license.Error{Kind: license.KindExpired, Record: rec}, testNow)
		body := decode(t, do(newTestRouter(t, ent, nil), http.MethodGet, "/api/license/problem"))

		assert.Equal(t, "0123456789abcdef", body["issued_to"])
		assert.Equal(t, "2025-02-01", body["expiry_date"])
		assert.NotContains(t, body, "machine_id")
	})

	t.Run("machine mismatch", func(t *testing.T) {
		ent := license.Deny(&license.Error{Kind: license.KindMachineMismatch, Record: rec, MachineID: "fedcba9876543210"}, testNow)
		w := do(newTestRouter(t, ent, nil), http.MethodGet, "/api/license/problem")
		require.Equal(t, http.StatusForbidden, w.Code)

		body := decode(t, w)
		assert.Equal(t, "0123456789abcdef", body["issued_to"])
		assert.Equal(t, "fedcba9876543210", body["machine_id"])
		assert.NotContains(t, body, "expiry_date")
	})

	t.Run("corrupt carries no record", func(t *testing.T) {
		ent := license.Deny(&license.Error{Kind: license.KindCorrupt}, testNow)
		body := decode(t, do(newTestRouter(t, ent, nil), http.MethodGet, "/api/license/problem"))

		assert.NotContains(t, body, "issued_to")
		assert.NotContains(t, body, "machine_id")
	})
}

func TestAutomationFeatures(t *testing.T) {
	t.Run("licensed", func(t *testing.T) {
		r := newTestRouter(t, validEntitlement(t), nil)

		w := do(r, http.MethodGet, "/api/automation/features")
		require.Equal(t, http.StatusOK, w.Code)
		var resp FeaturesResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Licensed)
		require.Len(t, resp.Features, len(license.AllFeatures))
		for _, f := range resp.Features {
			assert.True(t, f.Enabled, f.Name)
		}

		for _, feature := range license.AllFeatures {
			w := do(r, http.MethodGet, "/api/automation/features/"+string(feature))
			assert.Equal(t, http.StatusOK, w.Code, feature)
		}
	})

	t.Run("unlicensed", func(t *testing.T) {
		r := newTestRouter(t, expiredEntitlement(), nil)

		w := do(r, http.MethodGet, "/api/automation/features")
		require.Equal(t, http.StatusOK, w.Code)
		var resp FeaturesResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Licensed)
		for _, f := range resp.Features {
			assert.False(t, f.Enabled, f.Name)
		}

		w = do(r, http.MethodGet, "/api/automation/features/auto_sell")
		require.Equal(t, http.StatusPreconditionRequired, w.Code)
		body := decode(t, w)
		assert.Equal(t, apperrors.TypeLicenseRequired, body["type"])
	})

	t.Run("unknown feature", func(t *testing.T) {
		w := do(newTestRouter(t, validEntitlement(t), nil), http.MethodGet, "/api/automation/features/teleport")
		require.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, apperrors.TypeNotFound, decode(t, w)["type"])
	})
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		status     license.HealthStatus
		wantStatus int
	}{
		{license.HealthStatusHealthy, http.StatusOK},
		{license.HealthStatusDegraded, http.StatusOK},
		{license.HealthStatusUnhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			r := newTestRouter(t, validEntitlement(t), func(d *RouterDeps) {
				d.Health = stubHealth{status: tt.status}
			})
			w := do(r, http.MethodGet, config.HealthEndpoint)
			require.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, string(tt.status), decode(t, w)["status"])
		})
	}

	w := do(newTestRouter(t, validEntitlement(t), nil), http.MethodGet, "/livez")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouterErrors(t *testing.T) {
	r := newTestRouter(t, validEntitlement(t), nil)

	w := do(r, http.MethodPost, config.HealthEndpoint)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, apperrors.TypeMethodNotAllowed, decode(t, w)["type"])

	w = do(r, http.MethodGet, "/nope")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestRouterRateLimit(t *testing.T) {
	r := newTestRouter(t, validEntitlement(t), func(d *RouterDeps) {
		d.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 1, Burst: 2}
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(r, http.MethodGet, "/api/license").Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRouterMetricsAndTracing(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	r := newTestRouter(t, validEntitlement(t), func(d *RouterDeps) {
		d.Metrics = metrics
		d.Tracer = sdktrace.NewTracerProvider().Tracer("test")
		d.Meter = sdkmetric.NewMeterProvider().Meter("test")
	})

	w := do(r, http.MethodGet, config.MetricsEndpoint)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# metrics", w.Body.String())

	w = do(newTestRouter(t, validEntitlement(t), nil), http.MethodGet, config.MetricsEndpoint)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
