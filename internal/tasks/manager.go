// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package tasks owns the task table: creation, submission, cancellation,
// persistence, progress forwarding and billing after success.
package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/subforge/internal/bus"
	"github.com/ManuGH/subforge/internal/dispatch"
	"github.com/ManuGH/subforge/internal/domain"
	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/ledger"
	"github.com/ManuGH/subforge/internal/log"
	"github.com/ManuGH/subforge/internal/metrics"
	"github.com/ManuGH/subforge/internal/pipeline"
)

const (
	maxPathLen    = 250
	reservedChars = "&+:?|"

	// ReasonInterrupted marks tasks that were running when the process ended.
	ReasonInterrupted = "interrupted"
)

// Ledger is the slice of the credit ledger the manager needs: a balance
// precheck before submit and the idempotent debit after success.
type Ledger interface {
	Precheck(ctx context.Context, cost int64) error
	Consume(ctx context.Context, req ledger.ConsumeRequest) (domain.Transaction, error)
}

// Queue is the dispatcher surface tasks are handed to.
type Queue interface {
	Enqueue(job dispatch.Job) error
	Remove(id string) bool
	Reset() []string
}

// Pipelines builds the runner for a task kind and prices tasks up front.
type Pipelines interface {
	Build(kind domain.Kind) (pipeline.Runner, error)
	Estimate(ctx context.Context, task *domain.Task) (int64, error)
}

// Config holds the manager's paths and deferred billing retry policy.
type Config struct {
	ScratchDir      string
	ResultRoot      string
	DefaultModel    string
	BillingAttempts int
	BillingBase     time.Duration
}

// Deps are the collaborators a Manager drives. A nil Bus gets a private one.
type Deps struct {
	Ledger    Ledger
	Queue     Queue
	Bus       *bus.Bus
	Pipelines Pipelines
}

type entry struct {
	task      *domain.Task
	cancel    context.CancelFunc
	cancelled bool
	started   time.Time
}

// Manager owns every task record: creation, submission, cancellation,
// billing and persistence to the scratch directory.
type Manager struct {
	cfg       Config
	ledger    Ledger
	queue     Queue
	bus       *bus.Bus
	pipelines Pipelines
	store     *Store
	logger    zerolog.Logger

	mu    sync.Mutex
	tasks map[string]*entry
	order []string

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func New(cfg Config, deps Deps) *Manager {
	if cfg.BillingAttempts <= 0 {
		cfg.BillingAttempts = 3
	}
	if cfg.BillingBase <= 0 {
		cfg.BillingBase = 2 * time.Second
	}
	if deps.Bus == nil {
		deps.Bus = bus.New()
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg,
		ledger:    deps.Ledger,
		queue:     deps.Queue,
		bus:       deps.Bus,
		pipelines: deps.Pipelines,
		store:     NewStore(cfg.ScratchDir),
		logger:    log.WithComponent("tasks"),
		tasks:     make(map[string]*entry),
		bgCtx:     bgCtx,
		bgCancel:  bgCancel,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Bus returns the event bus tasks publish to.
func (m *Manager) Bus() *bus.Bus { return m.bus }

// CreateTask validates the source, quotes it and records a PENDING task.
func (m *Manager) CreateTask(ctx context.Context, kind domain.Kind, sourcePath string, opts domain.Options) (string, error) {
	const op = "tasks.create"
	if !kind.Valid() {
		return "", fault.New(fault.KindInvalidInput, op, fmt.Sprintf("unknown task kind %q", kind))
	}
	src, err := filepath.Abs(sourcePath)
	if err != nil {
		return "", fault.Wrap(fault.KindInvalidInput, op, err)
	}
	if err := checkReserved(src); err != nil {
		return "", err
	}
	info, err := os.Stat(src)
	if err != nil {
		return "", fault.Wrapf(fault.KindInvalidInput, op, "source not found", err)
	}
	if info.IsDir() {
		return "", fault.New(fault.KindInvalidInput, op, "source is a directory")
	}
	if kind.Translates() && strings.TrimSpace(opts.TargetLanguage) == "" {
		return "", fault.New(fault.KindInvalidInput, op, "target language is required")
	}
	if opts.ASRModel == "" && kind.NeedsMedia() {
		opts.ASRModel = m.cfg.DefaultModel
	}

	ext := filepath.Ext(src)
	task := &domain.Task{
		Kind:       kind,
		SourcePath: src,
		RawStem:    strings.TrimSuffix(filepath.Base(src), ext),
		RawExt:     ext,
		Options:    opts,
		Status:     domain.StatusPending,
	}

	est, err := m.pipelines.Estimate(ctx, task)
	if err != nil {
		switch fault.KindOf(err) {
		case fault.KindInvalidInput, fault.KindMediaDecode, fault.KindCancelled:
			return "", err
		}
		m.logger.Warn().Err(err).Str(log.FieldPath, src).Msg("cost estimate unavailable")
	}
	task.EstimatedCost = est

	m.mu.Lock()
	defer m.mu.Unlock()
	created := m.now()
	id := domain.Fingerprint(src, opts.ASRModel, created)
	for m.tasks[id] != nil {
		created = created.Add(time.Nanosecond)
		id = domain.Fingerprint(src, opts.ASRModel, created)
	}
	task.ID = id
	task.CreatedAt = created
	task.UpdatedAt = created
	task.WorkDir = filepath.Join(m.cfg.ResultRoot, task.RawStem+"-"+id[:8])
	if target := filepath.Join(task.WorkDir, task.RawStem+"_bilingual.srt"); len(target) > maxPathLen {
		return "", fault.New(fault.KindInvalidInput, op, fmt.Sprintf("output path exceeds %d characters", maxPathLen))
	}
	if err := os.MkdirAll(task.WorkDir, 0o755); err != nil {
		return "", fault.Wrap(fault.KindInternal, op, err)
	}

	m.tasks[id] = &entry{task: task}
	m.order = append(m.order, id)
	metrics.RecordTaskTransition(string(kind), string(domain.StatusPending))
	m.persistLocked()
	m.logger.Info().
		Str(log.FieldEvent, "task.created").
		Str(log.FieldTaskID, id).
		Str(log.FieldKind, string(kind)).
		Int64("estimated_cost", est).
		Msg("task created")
	return id, nil
}

func checkReserved(path string) error {
	rest := path[len(filepath.VolumeName(path)):]
	if i := strings.IndexAny(rest, reservedChars); i >= 0 {
		return fault.New(fault.KindInvalidInput, "tasks.create",
			fmt.Sprintf("path contains reserved character %q", rest[i]))
	}
	return nil
}

// Submit prechecks the balance and queues a PENDING task. Queued and
// running tasks are left alone.
func (m *Manager) Submit(ctx context.Context, id string) error {
	const op = "tasks.submit"
	m.mu.Lock()
	e, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return fault.New(fault.KindInvalidInput, op, "unknown task "+id)
	}
	switch e.task.Status {
	case domain.StatusQueued, domain.StatusRunning:
		m.mu.Unlock()
		return nil
	case domain.StatusPending:
	default:
		status := e.task.Status
		m.mu.Unlock()
		return fault.New(fault.KindInvalidInput, op, fmt.Sprintf("task is %s", status))
	}
	cost := e.task.EstimatedCost
	m.mu.Unlock()

	if err := m.ledger.Precheck(ctx, cost); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e.task.Status != domain.StatusPending {
		return nil
	}
	e.cancelled = false
	m.transitionLocked(e, domain.StatusQueued)
	job := dispatch.Job{
		ID:   id,
		Run:  func(ctx context.Context) error { return m.execute(ctx, id) },
		Fail: func(err error) { m.panicked(id, err) },
	}
	if err := m.queue.Enqueue(job); err != nil {
		e.task.Status = domain.StatusPending
		m.persistLocked()
		return fault.Wrap(fault.KindInternal, op, err)
	}
	m.persistLocked()
	return nil
}

// Cancel stops a task. Pending and queued tasks are cancelled at once; a
// running task is cancelled at its next stage boundary. No progress is
// published for the task once Cancel returns.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[id]
	if !ok {
		return fault.New(fault.KindInvalidInput, "tasks.cancel", "unknown task "+id)
	}
	switch e.task.Status {
	case domain.StatusPending, domain.StatusQueued:
		m.queue.Remove(id)
		e.cancelled = true
		m.transitionLocked(e, domain.StatusCancelled)
		m.persistLocked()
		m.publishLocked(bus.Event{Topic: bus.TopicCancelled, TaskID: id, Task: e.task.Clone()})
	case domain.StatusRunning:
		e.cancelled = true
		if e.cancel != nil {
			e.cancel()
		}
		m.logger.Info().Str(log.FieldTaskID, id).Msg("cancel requested")
	}
	return nil
}

// Get returns a copy of the task.
func (m *Manager) Get(id string) (domain.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, false
	}
	return *e.task.Clone(), true
}

// List returns copies of every task in creation order.
func (m *Manager) List() []domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Task, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.tasks[id].task.Clone())
	}
	return out
}

// Reset is used on sign-out: the queue is drained, queued tasks become
// CANCELLED, and running tasks are asked to stop.
func (m *Manager) Reset() {
	drained := m.queue.Reset()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		e := m.tasks[id]
		switch e.task.Status {
		case domain.StatusQueued:
			e.cancelled = true
			m.transitionLocked(e, domain.StatusCancelled)
			m.publishLocked(bus.Event{Topic: bus.TopicCancelled, TaskID: e.task.ID, Task: e.task.Clone()})
		case domain.StatusRunning:
			e.cancelled = true
			if e.cancel != nil {
				e.cancel()
			}
		}
	}
	m.persistLocked()
	m.logger.Info().Int("drained", len(drained)).Msg("tasks reset")
}

// Restore loads persisted tasks. Running tasks become FAILED, queued ones
// go back to PENDING, and deferred debits are retried.
func (m *Manager) Restore(ctx context.Context) error {
	loaded, err := m.store.Load()
	if err != nil {
		return fault.Wrap(fault.KindInternal, "tasks.restore", err)
	}
	var rearm []string
	m.mu.Lock()
	for _, t := range loaded {
		if t.ID == "" || m.tasks[t.ID] != nil {
			continue
		}
		switch t.Status {
		case domain.StatusRunning:
			t.Status = domain.StatusFailed
			t.Error = ReasonInterrupted
			t.ErrorCode = ReasonInterrupted
			t.UpdatedAt = m.now()
		case domain.StatusQueued:
			t.Status = domain.StatusPending
			t.UpdatedAt = m.now()
		case domain.StatusSucceeded:
			if t.Billing == domain.BillingDeferred {
				rearm = append(rearm, t.ID)
			}
		}
		m.tasks[t.ID] = &entry{task: t}
		m.order = append(m.order, t.ID)
	}
	m.persistLocked()
	m.mu.Unlock()

	for _, id := range rearm {
		m.bg.Add(1)
		go m.retryBilling(id)
	}
	m.logger.Info().Int("tasks", len(loaded)).Int("deferred_billing", len(rearm)).Msg("tasks restored")
	return nil
}

// Close stops background billing retries and waits for them.
func (m *Manager) Close(ctx context.Context) error {
	m.bgCancel()
	done := make(chan struct{})
	go func() {
		m.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) execute(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.tasks[id]
	if !ok || e.task.Status != domain.StatusQueued || e.cancelled {
		m.mu.Unlock()
		return nil
	}
	tctx, cancel := context.WithCancel(log.ContextWithTaskID(ctx, id))
	defer cancel()
	e.cancel = cancel
	e.started = m.now()
	m.transitionLocked(e, domain.StatusRunning)
	m.persistLocked()
	work := e.task.Clone()
	m.mu.Unlock()

	runner, err := m.pipelines.Build(work.Kind)
	if err == nil {
		err = runner.Run(tctx, work, pipeline.Hooks{
			Progress:   func(pct float64) { m.progress(id, pct) },
			Checkpoint: func(t *domain.Task) { m.checkpoint(id, t) },
			Cancelled:  func() bool { return m.isCancelled(id) },
		})
	}
	m.finish(id, work, err)
	return err
}

func (m *Manager) isCancelled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[id]
	return !ok || e.cancelled
}

func (m *Manager) progress(id string, pct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[id]
	if !ok || e.cancelled || e.task.Status != domain.StatusRunning {
		return
	}
	pct = min(max(pct, 0), 100)
	if pct <= e.task.Progress {
		return
	}
	e.task.Progress = pct
	m.publishLocked(bus.Event{Topic: bus.TopicProgress, TaskID: id, Progress: pct})
}

func (m *Manager) checkpoint(id string, work *domain.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.tasks[id]; ok {
		mergeWork(e.task, work)
		e.task.UpdatedAt = m.now()
		m.persistLocked()
	}
}

// mergeWork copies what stages produce. Status and progress stay with the
// manager.
func mergeWork(dst, src *domain.Task) {
	dst.WavPath = src.WavPath
	dst.SRTPath = src.SRTPath
	dst.OutputPath = src.OutputPath
	dst.DurationMS = src.DurationMS
	dst.CharCount = src.CharCount
	dst.AudioURL = src.AudioURL
	dst.Quote = src.Quote
	dst.SourceLanguage = src.SourceLanguage
}

func (m *Manager) finish(id string, work *domain.Task, runErr error) {
	m.mu.Lock()
	e, ok := m.tasks[id]
	if !ok || e.task.Status != domain.StatusRunning {
		m.mu.Unlock()
		return
	}
	e.cancel = nil
	mergeWork(e.task, work)
	t := e.task

	var bill bool
	switch {
	case e.cancelled || (runErr != nil && fault.KindOf(runErr) == fault.KindCancelled):
		m.transitionLocked(e, domain.StatusCancelled)
		m.publishLocked(bus.Event{Topic: bus.TopicCancelled, TaskID: id, Task: t.Clone()})
	case runErr != nil:
		t.Error = runErr.Error()
		t.ErrorCode = fault.UserCode(runErr)
		m.transitionLocked(e, domain.StatusFailed)
		m.publishLocked(bus.Event{Topic: bus.TopicFailed, TaskID: id, Task: t.Clone(), Error: t.Error, Code: t.ErrorCode})
	default:
		actual := t.Quote
		t.ActualCost = &actual
		t.Progress = 100
		if actual > 0 {
			t.OrderID = ledger.NewOrderID(m.now())
			bill = true
		} else {
			t.Billing = domain.BillingFree
		}
		m.transitionLocked(e, domain.StatusSucceeded)
		m.publishLocked(bus.Event{Topic: bus.TopicCompleted, TaskID: id, Task: t.Clone()})
	}
	metrics.ObserveTaskDuration(string(t.Kind), string(t.Status), m.now().Sub(e.started))
	m.persistLocked()
	m.mu.Unlock()

	if bill {
		m.settle(id)
	}
}

func (m *Manager) panicked(id string, err error) {
	m.mu.Lock()
	e, ok := m.tasks[id]
	var work *domain.Task
	if ok {
		work = e.task.Clone()
	}
	m.mu.Unlock()
	if ok {
		m.finish(id, work, err)
	}
}

func (m *Manager) transitionLocked(e *entry, to domain.Status) {
	from := e.task.Status
	if from == to {
		return
	}
	if !domain.CanTransition(from, to) {
		m.logger.Error().
			Str(log.FieldTaskID, e.task.ID).
			Str(log.FieldOldState, string(from)).
			Str(log.FieldNewState, string(to)).
			Msg("illegal task transition ignored")
		return
	}
	e.task.Status = to
	e.task.UpdatedAt = m.now()
	metrics.RecordTaskTransition(string(e.task.Kind), string(to))
	m.logger.Info().
		Str(log.FieldEvent, "task.transition").
		Str(log.FieldTaskID, e.task.ID).
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Msg("task state changed")
}

// publishLocked runs under m.mu so that event order matches table order.
func (m *Manager) publishLocked(ev bus.Event) {
	m.bus.Publish(ev)
}

func (m *Manager) persistLocked() {
	snapshot := make([]*domain.Task, 0, len(m.order))
	for _, id := range m.order {
		snapshot = append(snapshot, m.tasks[id].task)
	}
	if err := m.store.Save(snapshot); err != nil {
		m.logger.Error().Err(err).Str(log.FieldPath, m.cfg.ScratchDir).Msg("failed to persist tasks")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
