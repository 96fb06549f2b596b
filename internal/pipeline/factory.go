// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ManuGH/subforge/internal/asr/local"
	"github.com/ManuGH/subforge/internal/cost"
	"github.com/ManuGH/subforge/internal/domain"
	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/log"
	"github.com/ManuGH/subforge/internal/media"
	"github.com/ManuGH/subforge/internal/subtitle"
	"github.com/ManuGH/subforge/internal/translate"
)

type Prober interface {
	Probe(ctx context.Context, path string) (media.Info, error)
	ToWAV(ctx context.Context, src, dst string) error
}

type LocalASR interface {
	Transcribe(ctx context.Context, req local.Request, progress func(float64)) (local.Result, error)
}

type CloudASR interface {
	Upload(ctx context.Context, taskID, wavPath string) (string, error)
	Transcribe(ctx context.Context, audioURL, language, dst string, progress func(float64)) error
}

type Translator interface {
	TranslateDocument(ctx context.Context, req translate.Request, progress func(float64)) (translate.Result, error)
}

// Pricing supplies the ledger's current coefficients.
type Pricing interface {
	Coefficients(ctx context.Context) (domain.Coefficients, error)
}

// Deps are the collaborators stages call into. A kind whose collaborator
// is nil cannot be built.
type Deps struct {
	Prober         Prober
	LocalASR       LocalASR
	CloudASR       CloudASR
	Translator     Translator
	Pricing        Pricing
	CharsPerSecond float64
}

// Factory builds pipelines per task kind.
type Factory struct {
	deps Deps
}

func NewFactory(deps Deps) *Factory {
	return &Factory{deps: deps}
}

// Runner is what the task manager drives.
type Runner interface {
	Run(ctx context.Context, task *domain.Task, hooks Hooks) error
}

// Build is For behind the Runner interface.
func (f *Factory) Build(kind domain.Kind) (Runner, error) {
	p, err := f.For(kind)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// For returns the pipeline for kind.
func (f *Factory) For(kind domain.Kind) (*Pipeline, error) {
	const op = "pipeline.build"
	missing := func(what string) error {
		return fault.New(fault.KindInvalidInput, op, fmt.Sprintf("%s is not configured for %s tasks", what, kind))
	}
	if kind.NeedsMedia() && f.deps.Prober == nil {
		return nil, missing("media probe")
	}
	if kind.Translates() && f.deps.Translator == nil {
		return nil, missing("translator")
	}
	if f.deps.Pricing == nil {
		return nil, missing("pricing")
	}
	switch kind {
	case domain.KindASR, domain.KindASRTrans:
		if f.deps.LocalASR == nil {
			return nil, missing("local recognition")
		}
	case domain.KindCloudASR, domain.KindCloudASRTrans:
		if f.deps.CloudASR == nil {
			return nil, missing("cloud recognition")
		}
	}

	probe := Stage{StageProbe, weightProbe, f.probe}
	upload := Stage{StageUpload, weightUpload, f.upload}
	localASR := Stage{StageLocalASR, weightLocalASR, f.localASR}
	cloudASR := Stage{StageCloudASR, weightCloudASR, f.cloudASR}
	estimate := Stage{StageEstimateTranslate, weightEstimateTranslate, f.estimateTranslate}
	trans := Stage{StageTranslate, weightTranslate, f.translate}
	bill := func(name string) Stage { return Stage{name, weightBill, f.bill} }

	switch kind {
	case domain.KindASR:
		return New(kind, probe, localASR, bill(StageBillASR)), nil
	case domain.KindCloudASR:
		return New(kind, probe, upload, cloudASR, bill(StageBillCloudASR)), nil
	case domain.KindTrans:
		return New(kind, estimate, trans, bill(StageBillTranslate)), nil
	case domain.KindASRTrans:
		return New(kind, probe, localASR, trans, bill(StageBillASRTrans)), nil
	case domain.KindCloudASRTrans:
		return New(kind, probe, upload, cloudASR, trans, bill(StageBillCloudASRTrans)), nil
	default:
		return nil, fault.New(fault.KindInvalidInput, op, fmt.Sprintf("unknown task kind %q", kind))
	}
}

// Estimate quotes task before it runs: media kinds are probed for their
// duration, subtitle sources are counted. It records DurationMS or
// CharCount on task.
func (f *Factory) Estimate(ctx context.Context, task *domain.Task) (int64, error) {
	const op = "pipeline.estimate"
	if task.Kind.NeedsMedia() {
		if f.deps.Prober == nil {
			return 0, fault.New(fault.KindInvalidInput, op, "media probe is not configured")
		}
		info, err := f.deps.Prober.Probe(ctx, task.SourcePath)
		if err != nil {
			return 0, err
		}
		task.DurationMS = info.DurationMS
	} else {
		cues, err := subtitle.ReadFile(task.SourcePath)
		if err != nil {
			return 0, fault.Wrap(fault.KindInvalidInput, op, err)
		}
		task.CharCount = subtitle.SourceChars(cues)
	}
	est, err := f.estimator(ctx)
	if err != nil {
		return 0, err
	}
	return est.Estimate(task.Kind, task.DurationSeconds(), task.CharCount), nil
}

func (f *Factory) estimator(ctx context.Context) (cost.Estimator, error) {
	coef, err := f.deps.Pricing.Coefficients(ctx)
	if err != nil {
		return cost.Estimator{}, err
	}
	return cost.New(coef, f.deps.CharsPerSecond), nil
}

func (f *Factory) probe(ctx context.Context, task *domain.Task, progress func(float64)) error {
	info, err := f.deps.Prober.Probe(ctx, task.SourcePath)
	if err != nil {
		return err
	}
	task.DurationMS = info.DurationMS
	progress(0.3)

	if task.WavPath == "" {
		task.WavPath = filepath.Join(task.WorkDir, task.RawStem+".wav")
	}
	if err := os.MkdirAll(task.WorkDir, 0o755); err != nil {
		return fault.Wrap(fault.KindInternal, "pipeline.probe", err)
	}
	if err := f.deps.Prober.ToWAV(ctx, task.SourcePath, task.WavPath); err != nil {
		return err
	}
	progress(1)
	return nil
}

func (f *Factory) upload(ctx context.Context, task *domain.Task, progress func(float64)) error {
	url, err := f.deps.CloudASR.Upload(ctx, task.ID, task.WavPath)
	if err != nil {
		return err
	}
	task.AudioURL = url
	progress(1)
	return nil
}

func (f *Factory) localASR(ctx context.Context, task *domain.Task, progress func(float64)) error {
	task.SRTPath = srtPath(task)
	res, err := f.deps.LocalASR.Transcribe(ctx, local.Request{
		WavPath: task.WavPath,
		SRTPath: task.SRTPath,
		Options: local.Options{
			Language: autoToEmpty(task.SourceLanguage),
			Model:    task.ASRModel,
			UseCUDA:  task.UseCUDA,
		},
	}, progress)
	if err != nil {
		return err
	}
	if autoToEmpty(task.SourceLanguage) == "" && res.Language != "" {
		task.SourceLanguage = res.Language
	}
	task.OutputPath = task.SRTPath
	return nil
}

func (f *Factory) cloudASR(ctx context.Context, task *domain.Task, progress func(float64)) error {
	task.SRTPath = srtPath(task)
	if err := f.deps.CloudASR.Transcribe(ctx, task.AudioURL, autoToEmpty(task.SourceLanguage), task.SRTPath, progress); err != nil {
		return err
	}
	task.OutputPath = task.SRTPath
	return nil
}

func (f *Factory) estimateTranslate(ctx context.Context, task *domain.Task, progress func(float64)) error {
	cues, err := subtitle.ReadFile(task.SourcePath)
	if err != nil {
		return fault.Wrap(fault.KindInvalidInput, "pipeline.estimate_translate", err)
	}
	task.SRTPath = task.SourcePath
	task.CharCount = subtitle.SourceChars(cues)
	progress(1)
	return nil
}

func (f *Factory) translate(ctx context.Context, task *domain.Task, progress func(float64)) error {
	res, err := f.deps.Translator.TranslateDocument(ctx, translate.Request{
		SRTPath:        task.SRTPath,
		OutputPath:     filepath.Join(task.WorkDir, task.RawStem+"_bilingual.srt"),
		WorkDir:        task.WorkDir,
		SourceLanguage: task.SourceLanguage,
		TargetLanguage: task.TargetLanguage,
		Channel:        task.TranslateChannel,
	}, progress)
	if err != nil {
		return err
	}
	task.OutputPath = res.OutputPath
	task.CharCount = subtitle.SourceChars(res.Cues)
	if len(res.Warnings) > 0 {
		logger := log.WithComponentFromContext(ctx, "pipeline")
		logger.Warn().Str(log.FieldTaskID, task.ID).Strs("warnings", res.Warnings).Msg("translation finished with warnings")
	}
	return nil
}

// bill prices the finished work. The debit itself is made by the task
// owner once the task is marked succeeded. Without fresh coefficients the
// creation-time estimate stands.
func (f *Factory) bill(ctx context.Context, task *domain.Task, progress func(float64)) error {
	est, err := f.estimator(ctx)
	switch {
	case err == nil:
		task.Quote = est.Settle(task.Kind, task.DurationSeconds(), task.CharCount)
	case fault.KindOf(err) == fault.KindCancelled:
		return err
	default:
		logger := log.WithComponentFromContext(ctx, "pipeline")
		logger.Warn().Err(err).Str(log.FieldTaskID, task.ID).Msg("pricing unavailable, billing the estimate")
		task.Quote = task.EstimatedCost
	}
	progress(1)
	return nil
}

func srtPath(task *domain.Task) string {
	if task.SRTPath != "" {
		return task.SRTPath
	}
	return filepath.Join(task.WorkDir, task.RawStem+".srt")
}

func autoToEmpty(lang string) string {
	if lang == "auto" {
		return ""
	}
	return lang
}
