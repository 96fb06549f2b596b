// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package throttle caps outstanding cloud calls per provider across all
// workers.
package throttle

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/ManuGH/subforge/internal/metrics"
)

// DefaultLimit is the per-provider cap.
const DefaultLimit = 3

// Gate hands out per-provider slots. The zero value is not usable.
type Gate struct {
	limit int64

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewGate returns a gate allowing limit concurrent calls per provider.
func NewGate(limit int) *Gate {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Gate{limit: int64(limit), sems: make(map[string]*semaphore.Weighted)}
}

func (g *Gate) sem(provider string) *semaphore.Weighted {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sems[provider]
	if !ok {
		s = semaphore.NewWeighted(g.limit)
		g.sems[provider] = s
	}
	return s
}

// Acquire blocks until a slot for provider is free or ctx ends. The
// returned release func must be called exactly once.
func (g *Gate) Acquire(ctx context.Context, provider string) (func(), error) {
	s := g.sem(provider)
	if err := s.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	metrics.AddCloudInflight(provider, 1)
	var once sync.Once
	return func() {
		once.Do(func() {
			metrics.AddCloudInflight(provider, -1)
			s.Release(1)
		})
	}, nil
}

// Do runs fn while holding a slot.
func (g *Gate) Do(ctx context.Context, provider string, fn func(context.Context) error) error {
	release, err := g.Acquire(ctx, provider)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// Limit reports the per-provider cap.
func (g *Gate) Limit() int { return int(g.limit) }
