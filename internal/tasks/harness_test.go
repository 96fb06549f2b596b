// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tasks

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subforge/internal/bus"
	"github.com/ManuGH/subforge/internal/dispatch"
	"github.com/ManuGH/subforge/internal/domain"
	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/ledger"
	"github.com/ManuGH/subforge/internal/pipeline"
)

type fakeLedger struct {
	mu          sync.Mutex
	precheckErr error
	consumeErrs []error
	prechecks   int
	calls       []ledger.ConsumeRequest
	balance     int64
}

func (l *fakeLedger) Precheck(context.Context, int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prechecks++
	return l.precheckErr
}

func (l *fakeLedger) Consume(_ context.Context, req ledger.ConsumeRequest) (domain.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, req)
	if len(l.consumeErrs) > 0 {
		err := l.consumeErrs[0]
		l.consumeErrs = l.consumeErrs[1:]
		if err != nil {
			return domain.Transaction{}, err
		}
	}
	l.balance -= req.Amount
	return domain.Transaction{OrderID: req.OrderID, Amount: -req.Amount, BalanceAfter: l.balance}, nil
}

func (l *fakeLedger) consumeCalls() []ledger.ConsumeRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.ConsumeRequest(nil), l.calls...)
}

type fakePipelines struct {
	mu       sync.Mutex
	estimate int64
	estErr   error
	build    func(kind domain.Kind) pipeline.Runner
	builds   int
}

func (p *fakePipelines) Build(kind domain.Kind) (pipeline.Runner, error) {
	p.mu.Lock()
	p.builds++
	build := p.build
	p.mu.Unlock()
	return build(kind), nil
}

func (p *fakePipelines) Estimate(context.Context, *domain.Task) (int64, error) {
	return p.estimate, p.estErr
}

func (p *fakePipelines) buildCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.builds
}

// quotedPipeline reports a little progress and quotes cost.
func quotedPipeline(cost int64) func(domain.Kind) pipeline.Runner {
	return func(kind domain.Kind) pipeline.Runner {
		return pipeline.New(kind,
			pipeline.Stage{Name: "work", Weight: 10, Run: func(_ context.Context, _ *domain.Task, progress func(float64)) error {
				progress(0.25)
				progress(0.5)
				progress(1)
				return nil
			}},
			pipeline.Stage{Name: "bill", Weight: 1, Run: func(_ context.Context, t *domain.Task, progress func(float64)) error {
				t.Quote = cost
				progress(1)
				return nil
			}},
		)
	}
}

func failingPipeline(err error) func(domain.Kind) pipeline.Runner {
	return func(kind domain.Kind) pipeline.Runner {
		return pipeline.New(kind, pipeline.Stage{Name: "work", Weight: 1, Run: func(context.Context, *domain.Task, func(float64)) error {
			return err
		}})
	}
}

type recorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func record(t *testing.T, b *bus.Bus) *recorder {
	t.Helper()
	r := &recorder{}
	sub := b.Subscribe(4096)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.C() {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		sub.Close()
		<-done
	})
	return r
}

func (r *recorder) find(topic bus.Topic, taskID string) (bus.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Topic == topic && ev.TaskID == taskID {
			return ev, true
		}
	}
	return bus.Event{}, false
}

func (r *recorder) wait(t *testing.T, topic bus.Topic, taskID string) bus.Event {
	t.Helper()
	var got bus.Event
	require.Eventually(t, func() bool {
		ev, ok := r.find(topic, taskID)
		got = ev
		return ok
	}, 5*time.Second, 5*time.Millisecond, "no %s event for %s", topic, taskID)
	return got
}

func (r *recorder) forTask(taskID string) []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bus.Event
	for _, ev := range r.events {
		if ev.TaskID == taskID {
			out = append(out, ev)
		}
	}
	return out
}

type sleepRecorder struct {
	mu sync.Mutex
	d  []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.d = append(s.d, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.d...)
}

type harness struct {
	m      *Manager
	d      *dispatch.Dispatcher
	led    *fakeLedger
	pipes  *fakePipelines
	rec    *recorder
	sleeps *sleepRecorder
	cfg    Config
}

func newHarness(t *testing.T, workers int) *harness {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		ScratchDir:   filepath.Join(root, "scratch"),
		ResultRoot:   filepath.Join(root, "results"),
		DefaultModel: "base",
		BillingBase:  time.Second,
	}
	return newHarnessWith(t, workers, cfg)
}

func newHarnessWith(t *testing.T, workers int, cfg Config) *harness {
	t.Helper()
	h := &harness{
		d:      dispatch.New(workers),
		led:    &fakeLedger{balance: 1000},
		pipes:  &fakePipelines{estimate: 42, build: quotedPipeline(42)},
		sleeps: &sleepRecorder{},
		cfg:    cfg,
	}
	b := bus.New()
	h.rec = record(t, b)
	h.m = New(cfg, Deps{Ledger: h.led, Queue: h.d, Bus: b, Pipelines: h.pipes})
	h.m.sleep = h.sleeps.sleep
	h.d.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, h.d.Stop(ctx))
		require.NoError(t, h.m.Close(ctx))
	})
	return h
}

func (h *harness) source(t *testing.T, name string) string {
	t.Helper()
	dir := filepath.Join(filepath.Dir(h.cfg.ResultRoot), "src")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("media"), 0o644))
	return path
}

func (h *harness) create(t *testing.T, kind domain.Kind, name string) string {
	t.Helper()
	id, err := h.m.CreateTask(context.Background(), kind, h.source(t, name), domain.Options{TargetLanguage: "zh"})
	require.NoError(t, err)
	return id
}

func (h *harness) status(id string) domain.Status {
	t, _ := h.m.Get(id)
	return t.Status
}

func (h *harness) waitStatus(t *testing.T, id string, want domain.Status) domain.Task {
	t.Helper()
	require.Eventually(t, func() bool { return h.status(id) == want }, 5*time.Second, 5*time.Millisecond,
		"task %s never reached %s (now %s)", id, want, h.status(id))
	task, _ := h.m.Get(id)
	return task
}

var errTransient = fault.New(fault.KindNetworkTransient, "ledger.use", "status 503")
