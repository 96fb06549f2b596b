// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package dispatch runs queued jobs on a fixed pool of workers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/log"
	"github.com/ManuGH/subforge/internal/metrics"
)

const DefaultWorkers = 2

// ErrStopped is returned by Enqueue once Stop has been called.
var ErrStopped = errors.New("dispatcher stopped")

// Job is one unit of work. Run receives a context that is cancelled by
// Reset or Stop. Fail, when set, is told about a panic inside Run.
type Job struct {
	ID   string
	Run  func(ctx context.Context) error
	Fail func(err error)
}

// Dispatcher drains an unbounded FIFO with a fixed number of workers.
type Dispatcher struct {
	workers int
	logger  zerolog.Logger

	mu      sync.Mutex
	queue   []Job
	running map[string]context.CancelFunc
	busy    int
	started bool
	stopped bool
	cancel  context.CancelFunc

	wake chan struct{}
	wg   sync.WaitGroup
}

func New(workers int) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Dispatcher{
		workers: workers,
		logger:  log.WithComponent("dispatch"),
		running: make(map[string]context.CancelFunc),
		wake:    make(chan struct{}, 1),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	ctx, d.cancel = context.WithCancel(ctx)
	for i := range d.workers {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	d.logger.Info().Int("workers", d.workers).Msg("dispatcher started")
}

// Stop cancels running jobs and waits for the workers to exit or for ctx
// to end. Queued jobs are left unrun.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	cancel := d.cancel
	left := len(d.queue)
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.logger.Info().Int("queued", left).Msg("dispatcher stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher stop: %w", ctx.Err())
	}
}

// Enqueue appends job to the FIFO.
func (d *Dispatcher) Enqueue(job Job) error {
	if job.Run == nil {
		return fault.New(fault.KindInvalidInput, "dispatch.enqueue", "job has no run function")
	}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrStopped
	}
	d.queue = append(d.queue, job)
	metrics.SetQueueDepth(len(d.queue))
	d.mu.Unlock()
	d.signal()
	return nil
}

// Remove drops a job that has not started yet.
func (d *Dispatcher) Remove(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, j := range d.queue {
		if j.ID == id {
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			metrics.SetQueueDepth(len(d.queue))
			return true
		}
	}
	return false
}

// Reset empties the queue, cancels every running job and returns the ids
// of the jobs that were still queued.
func (d *Dispatcher) Reset() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.queue))
	for _, j := range d.queue {
		ids = append(ids, j.ID)
	}
	d.queue = nil
	metrics.SetQueueDepth(0)
	for _, cancel := range d.running {
		cancel()
	}
	d.logger.Info().Int("drained", len(ids)).Int("cancelled", len(d.running)).Msg("dispatcher reset")
	return ids
}

func (d *Dispatcher) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Busy is the number of workers currently running a job.
func (d *Dispatcher) Busy() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) next(ctx context.Context) (Job, bool) {
	for {
		d.mu.Lock()
		if len(d.queue) > 0 {
			job := d.queue[0]
			d.queue[0] = Job{}
			d.queue = d.queue[1:]
			more := len(d.queue) > 0
			metrics.SetQueueDepth(len(d.queue))
			d.mu.Unlock()
			if more {
				d.signal()
			}
			return job, true
		}
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return Job{}, false
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context, n int) {
	defer d.wg.Done()
	for {
		job, ok := d.next(ctx)
		if !ok {
			return
		}
		d.run(ctx, n, job)
	}
}

func (d *Dispatcher) run(ctx context.Context, n int, job Job) {
	jctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.running[job.ID] = cancel
	d.busy++
	metrics.SetWorkersBusy(d.busy)
	d.mu.Unlock()

	defer func() {
		cancel()
		d.mu.Lock()
		delete(d.running, job.ID)
		d.busy--
		metrics.SetWorkersBusy(d.busy)
		d.mu.Unlock()
	}()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		metrics.IncWorkerPanic()
		d.logger.Error().
			Str(log.FieldTaskID, job.ID).
			Int(log.FieldWorker, n).
			Interface("panic", r).
			Bytes("stack", debug.Stack()).
			Msg("job panicked")
		if job.Fail != nil {
			job.Fail(fault.New(fault.KindInternal, "dispatch.run", fmt.Sprintf("panic: %v", r)))
		}
	}()

	if err := job.Run(jctx); err != nil {
		d.logger.Debug().Err(err).Str(log.FieldTaskID, job.ID).Int(log.FieldWorker, n).Msg("job finished with error")
	}
}
