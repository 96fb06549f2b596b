// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the task manager over a localhost HTTP API with a
// server-sent event stream of bus events.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/subforge/internal/api/middleware"
	"github.com/ManuGH/subforge/internal/bus"
	"github.com/ManuGH/subforge/internal/domain"
	"github.com/ManuGH/subforge/internal/health"
	"github.com/ManuGH/subforge/internal/log"
)

// TaskService is the slice of the task manager the API drives.
type TaskService interface {
	CreateTask(ctx context.Context, kind domain.Kind, sourcePath string, opts domain.Options) (string, error)
	Submit(ctx context.Context, id string) error
	Cancel(id string) error
	Get(id string) (domain.Task, bool)
	List() []domain.Task
}

type Config struct {
	ListenAddr         string
	RateLimitPerMinute int
	TracingService     string
	Version            string
	// Heartbeat is the idle interval between event stream keepalives.
	Heartbeat time.Duration
}

type Server struct {
	cfg    Config
	tasks  TaskService
	bus    *bus.Bus
	health *health.Manager
	logger zerolog.Logger
}

// New builds the server. checks may be nil.
func New(cfg Config, tasks TaskService, b *bus.Bus, checks *health.Manager) *Server {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	if checks == nil {
		checks = health.NewManager(cfg.Version)
	}
	return &Server{cfg: cfg, tasks: tasks, bus: b, health: checks, logger: log.WithComponent("api")}
}

// Handler returns the routed handler with the full middleware chain.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        s.cfg.TracingService,
		EnableLogging:         true,
		RateLimitPerMinute:    s.cfg.RateLimitPerMinute,
	})
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Get("/tasks", s.handleListTasks)
		r.Post("/tasks", s.handleCreateTask)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Post("/tasks/{id}/cancel", s.handleCancelTask)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests for up to five seconds.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("control API listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.health.Live())
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	rep := s.health.Ready(r.Context())
	code := http.StatusOK
	if !rep.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}
