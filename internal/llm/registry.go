// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package llm

import (
	"net/http"
	"sort"
	"sync"

	"github.com/ManuGH/subforge/internal/config"
	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/throttle"
)

// Registry resolves a translate channel name to a client. Clients are
// created lazily so key changes from a reloaded config take effect.
type Registry struct {
	mu      sync.Mutex
	cfg     config.LLMConfig
	http    *http.Client
	gate    *throttle.Gate
	opts    Options
	clients map[string]*Client
}

func NewRegistry(cfg config.LLMConfig, httpClient *http.Client, gate *throttle.Gate, opts Options) *Registry {
	return &Registry{cfg: cfg, http: httpClient, gate: gate, opts: opts, clients: make(map[string]*Client)}
}

// Get returns the client for name.
func (r *Registry) Get(name string) (Chatter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[name]; ok {
		return c, nil
	}
	pc, ok := r.cfg.Providers[name]
	if !ok {
		return nil, fault.New(fault.KindInvalidInput, "llm.registry", "unknown translate channel "+name)
	}
	c := NewClient(Provider{
		Name:          name,
		BaseURL:       pc.BaseURL,
		APIKey:        pc.APIKey,
		Model:         pc.Model,
		Temperature:   pc.Temperature,
		Timeout:       pc.Timeout,
		RatePerSecond: pc.RatePerSecond,
	}, r.http, r.gate, r.opts)
	r.clients[name] = c
	return c, nil
}

// Update swaps provider settings; cached clients are dropped.
func (r *Registry) Update(cfg config.LLMConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	r.clients = make(map[string]*Client)
}

// Names lists configured channels.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.cfg.Providers))
	for name := range r.cfg.Providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
