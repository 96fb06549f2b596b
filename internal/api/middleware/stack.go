// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package middleware holds the HTTP ingress chain for the local control API.
package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// StackConfig selects the optional layers of the ingress chain.
type StackConfig struct {
	EnableSecurityHeaders bool
	EnableMetrics         bool
	TracingService        string // empty disables tracing
	EnableLogging         bool

	// RateLimitPerMinute <= 0 disables the per-IP limiter.
	RateLimitPerMinute int
}

// Chain returns the configured layers outermost first. Recoverer and
// RequestID are always present.
func Chain(cfg StackConfig) []func(http.Handler) http.Handler {
	chain := []func(http.Handler) http.Handler{Recoverer, RequestID}
	if cfg.EnableSecurityHeaders {
		chain = append(chain, SecurityHeaders)
	}
	if cfg.EnableMetrics {
		chain = append(chain, Metrics())
	}
	if cfg.TracingService != "" {
		chain = append(chain, OTelHTTP(cfg.TracingService))
	}
	if cfg.EnableLogging {
		chain = append(chain, AccessLog)
	}
	if cfg.RateLimitPerMinute > 0 {
		chain = append(chain, RateLimit(cfg.RateLimitPerMinute, time.Minute))
	}
	return chain
}

func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	r.Use(Chain(cfg)...)
	return r
}
