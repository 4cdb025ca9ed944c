package errors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macrotool/internal/infrastructure"
)

func newTestHandler(buf *bytes.Buffer) *ErrorHandler {
	return NewErrorHandler(slog.New(slog.NewJSONHandler(buf, nil)), false)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestErrorHandler_HandleError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"license sentinel", fmt.Errorf("validate: %w", ErrLicenseTampered), http.StatusForbidden, TypeLicenseTampered},
		{"api error", ErrRateLimitExceeded, http.StatusTooManyRequests, TypeRateLimit},
		{"plain error", fmt.Errorf("disk on fire"), http.StatusInternalServerError, TypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			h := newTestHandler(&logs)
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/license", nil)

			h.HandleError(rec, req, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tt.typ, body["type"])
			assert.Contains(t, logs.String(), "request failed")
		})
	}
}

func TestErrorHandler_HandleErrorNil(t *testing.T) {
	var logs bytes.Buffer
	h := newTestHandler(&logs)
	rec := httptest.NewRecorder()

	h.HandleError(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil)

	assert.Equal(t, 0, rec.Body.Len())
	assert.Empty(t, logs.String())
}

func TestErrorHandler_NotFoundAndMethodNotAllowed(t *testing.T) {
	h := newTestHandler(&bytes.Buffer{})

	rec := httptest.NewRecorder()
	h.NotFound(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, TypeNotFound, decodeBody(t, rec)["type"])

	rec = httptest.NewRecorder()
	h.MethodNotAllowed(rec, httptest.NewRequest(http.MethodDelete, "/api/license", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["detail"], "DELETE")
}

func TestErrorHandler_Recoverer(t *testing.T) {
	var logs bytes.Buffer
	h := NewErrorHandler(slog.New(slog.NewJSONHandler(&logs, nil)), true)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	})

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		h.Recoverer(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "kaboom", decodeBody(t, rec)["panic"])
	assert.Contains(t, logs.String(), "panic recovered")
}

func TestErrorHandler_TraceID(t *testing.T) {
	h := newTestHandler(&bytes.Buffer{})

	tests := []struct {
		name string
		ctx  func(ctx context.Context) context.Context
		want string
	}{
		{"trace id from logging context", func(ctx context.Context) context.Context {
			ctx = context.WithValue(ctx, middleware.RequestIDKey, "host/req-000001")
			return infrastructure.WithTraceID(ctx, "4bf92f35-77b3-4da6-a3ce-929d0e0e4736")
		}, "4bf92f35-77b3-4da6-a3ce-929d0e0e4736"},
		{"request id fallback", func(ctx context.Context) context.Context {
			return context.WithValue(ctx, middleware.RequestIDKey, "host/req-000002")
		}, "host/req-000002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/license", nil)
			req = req.WithContext(tt.ctx(req.Context()))

			rec := httptest.NewRecorder()
			h.HandleError(rec, req, ErrLicenseExpired)
			assert.Equal(t, tt.want, decodeBody(t, rec)["trace_id"])

			rec = httptest.NewRecorder()
			h.NotFound(rec, req)
			assert.Equal(t, tt.want, decodeBody(t, rec)["trace_id"])
		})
	}
}
