// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// OTelHTTP opens a server span per API call. Probes and the long-lived
// event stream are not traced.
func OTelHTTP(service string) func(http.Handler) http.Handler {
	return otelhttp.NewMiddleware(service,
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !isProbe(r.URL.Path) && r.URL.Path != "/api/events"
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + spanRoute(r.URL.Path)
		}),
	)
}

// spanRoute collapses task ids so span names stay low-cardinality. Routing
// has not happened yet when the span starts.
func spanRoute(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/tasks/")
	if !ok || rest == "" {
		return path
	}
	if _, action, found := strings.Cut(rest, "/"); found {
		return "/api/tasks/{id}/" + action
	}
	return "/api/tasks/{id}"
}

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}
