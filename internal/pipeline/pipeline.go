// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pipeline composes the ordered stages a task runs through. A
// pipeline mutates the task it is given and reports weighted progress.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/subforge/internal/domain"
	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/log"
	"github.com/ManuGH/subforge/internal/metrics"
	"github.com/ManuGH/subforge/internal/telemetry"
)

// Stage names. They double as metric and span labels.
const (
	StageProbe             = "probe"
	StageUpload            = "upload"
	StageLocalASR          = "local_asr"
	StageCloudASR          = "cloud_asr"
	StageEstimateTranslate = "estimate_translate"
	StageTranslate         = "translate"
	StageBillASR           = "bill_asr"
	StageBillCloudASR      = "bill_cloud_asr"
	StageBillTranslate     = "bill_translate"
	StageBillASRTrans      = "bill_asr_trans"
	StageBillCloudASRTrans = "bill_cloud_asr_trans"
)

// Relative stage weights used to scale progress.
const (
	weightProbe             = 5
	weightUpload            = 10
	weightLocalASR          = 60
	weightCloudASR          = 50
	weightEstimateTranslate = 5
	weightTranslate         = 60
	weightBill              = 1
)

// StageFunc does the work of one stage. progress takes values in [0,1].
type StageFunc func(ctx context.Context, task *domain.Task, progress func(float64)) error

type Stage struct {
	Name   string
	Weight float64
	Run    StageFunc
}

// Hooks connect a run to its owner. Every field is optional.
type Hooks struct {
	// Progress receives the overall percentage, never decreasing.
	Progress func(percent float64)
	// Checkpoint is called after each completed stage.
	Checkpoint func(task *domain.Task)
	// Cancelled is polled at every stage boundary.
	Cancelled func() bool
}

type Pipeline struct {
	kind   domain.Kind
	stages []Stage
}

// New builds a pipeline from explicit stages.
func New(kind domain.Kind, stages ...Stage) *Pipeline {
	return &Pipeline{kind: kind, stages: stages}
}

func (p *Pipeline) Kind() domain.Kind { return p.kind }

// StageNames lists the stages in execution order.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Run executes every stage in order. It returns a kinded error; a
// cancelled context or a raised cancel flag yields ErrCancelled.
func (p *Pipeline) Run(ctx context.Context, task *domain.Task, hooks Hooks) error {
	logger := log.WithComponentFromContext(ctx, "pipeline")

	var total float64
	for _, s := range p.stages {
		total += s.Weight
	}
	if total <= 0 {
		total = 1
	}

	var done, last float64
	emit := func(pct float64) {
		pct = min(max(pct, 0), 100)
		if pct <= last {
			return
		}
		last = pct
		if hooks.Progress != nil {
			hooks.Progress(pct)
		}
	}

	for _, s := range p.stages {
		if err := p.boundary(ctx, s.Name, hooks); err != nil {
			return err
		}

		weight := s.Weight
		report := func(f float64) {
			f = min(max(f, 0), 1)
			emit((done + weight*f) / total * 100)
		}

		logger.Debug().Str(log.FieldStage, s.Name).Str(log.FieldTaskID, task.ID).Msg("stage started")
		start := time.Now()
		sctx, span := telemetry.StartSpan(ctx, "pipeline."+s.Name,
			trace.WithAttributes(telemetry.TaskAttributes(task.ID, string(task.Kind))...))
		err := s.Run(sctx, task, report)
		telemetry.EndSpan(span, err)

		if err != nil {
			err = classify(ctx, s.Name, err)
			metrics.ObserveStage(s.Name, string(fault.KindOf(err)), time.Since(start))
			return err
		}
		metrics.ObserveStage(s.Name, "ok", time.Since(start))

		done += s.Weight
		emit(done / total * 100)
		if hooks.Checkpoint != nil {
			hooks.Checkpoint(task)
		}
	}
	return nil
}

func (p *Pipeline) boundary(ctx context.Context, stage string, hooks Hooks) error {
	if err := ctx.Err(); err != nil {
		return fault.Wrap(fault.KindCancelled, "pipeline."+stage, err)
	}
	if hooks.Cancelled != nil && hooks.Cancelled() {
		return fault.New(fault.KindCancelled, "pipeline."+stage, "cancel requested")
	}
	return nil
}

// classify makes sure every stage error carries a kind. Failures caused by
// the run's own cancellation are reported as cancelled.
func classify(ctx context.Context, stage string, err error) error {
	op := "pipeline." + stage
	if ctx.Err() != nil && fault.KindOf(err) != fault.KindCancelled {
		return fault.Wrap(fault.KindCancelled, op, err)
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return fault.Wrap(fault.KindCancelled, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.KindNetworkTransient, op, err)
	}
	if fault.KindOf(err) != fault.KindInternal {
		return err
	}
	return fault.Wrap(fault.KindInternal, op, err)
}
