// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"context"

	"github.com/rs/zerolog"
)

// correlation is the set of ids carried through a request or a task run.
type correlation struct {
	requestID string
	taskID    string
}

type correlationKey struct{}

func correlationFrom(ctx context.Context) correlation {
	if ctx == nil {
		return correlation{}
	}
	c, _ := ctx.Value(correlationKey{}).(correlation)
	return c
}

func withCorrelation(ctx context.Context, update func(*correlation)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	c := correlationFrom(ctx)
	update(&c)
	return context.WithValue(ctx, correlationKey{}, c)
}

func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return withCorrelation(ctx, func(c *correlation) { c.requestID = id })
}

// ContextWithTaskID tags ctx with the task being executed.
func ContextWithTaskID(ctx context.Context, id string) context.Context {
	return withCorrelation(ctx, func(c *correlation) { c.taskID = id })
}

func RequestIDFromContext(ctx context.Context) string { return correlationFrom(ctx).requestID }

func TaskIDFromContext(ctx context.Context) string { return correlationFrom(ctx).taskID }

// WithContext adds the request and task ids found in ctx to logger.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	c := correlationFrom(ctx)
	if c == (correlation{}) {
		return logger
	}
	lc := logger.With()
	if c.requestID != "" {
		lc = lc.Str(FieldRequestID, c.requestID)
	}
	if c.taskID != "" {
		lc = lc.Str(FieldTaskID, c.taskID)
	}
	return lc.Logger()
}

// WithComponentFromContext is WithComponent plus the ids in ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	return WithContext(ctx, WithComponent(component))
}
