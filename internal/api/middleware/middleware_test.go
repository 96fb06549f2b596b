// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subforge/internal/log"
)

func TestRecovererReturnsJSON500(t *testing.T) {
	r := NewRouter(StackConfig{})
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("kaboom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "internal", body["error"])
	assert.Equal(t, rec.Header().Get(HeaderRequestID), body["request_id"])
}

func TestRequestIDEchoedAndStoredOnContext(t *testing.T) {
	var seen string
	r := NewRouter(StackConfig{})
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		seen = log.RequestIDFromContext(req.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-7")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "req-7", rec.Header().Get(HeaderRequestID))
	assert.Equal(t, "req-7", seen)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get(HeaderRequestID), 36)
}

func TestRateLimitRejectsWithRetryAfter(t *testing.T) {
	r := NewRouter(StackConfig{RateLimitPerMinute: 2})
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.9:5000"
		last = httptest.NewRecorder()
		r.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "60", last.Header().Get("Retry-After"))
	var body errorBody
	require.NoError(t, json.Unmarshal(last.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit_exceeded", body.Error)
	assert.Equal(t, last.Header().Get(HeaderRequestID), body.RequestID)

	probe := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	probe.RemoteAddr = "10.0.0.9:5000"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, probe)
	assert.NotEqual(t, http.StatusTooManyRequests, rec.Code, "probes are not limited")
}

func TestSpanRoute(t *testing.T) {
	assert.Equal(t, "/api/tasks/{id}", spanRoute("/api/tasks/abc123"))
	assert.Equal(t, "/api/tasks/{id}/cancel", spanRoute("/api/tasks/abc123/cancel"))
	assert.Equal(t, "/api/tasks/", spanRoute("/api/tasks/"))
	assert.Equal(t, "/api/events", spanRoute("/api/events"))
}

func TestChainOrder(t *testing.T) {
	assert.Len(t, Chain(StackConfig{}), 2)
	assert.Len(t, Chain(StackConfig{EnableSecurityHeaders: true, EnableMetrics: true, TracingService: "x", EnableLogging: true, RateLimitPerMinute: 1}), 7)
}

func TestSecurityHeadersAndMetricsPassThrough(t *testing.T) {
	r := NewRouter(StackConfig{EnableSecurityHeaders: true, EnableMetrics: true, EnableLogging: true})
	r.Get("/x/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x/42", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
