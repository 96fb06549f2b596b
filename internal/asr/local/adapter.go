// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package local transcribes a WAV on this machine: voice activity
// detection, per-span recognition, punctuation, alignment and cue building.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/subforge/internal/config"
	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/log"
	"github.com/ManuGH/subforge/internal/metrics"
	"github.com/ManuGH/subforge/internal/segment"
	"github.com/ManuGH/subforge/internal/subtitle"
)

// SpanProgressCeiling is the progress reached once every span is recognised.
const SpanProgressCeiling = 0.93

type Request struct {
	WavPath string
	SRTPath string
	Options
}

type Result struct {
	Cues         []subtitle.Cue
	Language     string
	SegmentsPath string
	MetadataPath string
}

// SegmentRecord is one recognised span as stored in the segments file.
// Word times are absolute.
type SegmentRecord struct {
	StartMS int64          `json:"start_ms"`
	EndMS   int64          `json:"end_ms"`
	Text    string         `json:"text"`
	Words   []segment.Word `json:"words"`
}

// Metadata is the companion file next to the WAV.
type Metadata struct {
	SegmentDataPath string    `json:"segment_data_path"`
	CreatedTime     time.Time `json:"created_time"`
	AudioFile       string    `json:"audio_file"`
	Language        string    `json:"language"`
}

type Adapter struct {
	engine    Engine
	builder   *segment.Builder
	maxSpanMS int64
	now       func() time.Time
}

func New(engine Engine, builder *segment.Builder, cfg config.ASRConfig) *Adapter {
	if builder == nil {
		builder = segment.NewBuilder(segment.DefaultOptions(), nil)
	}
	maxSpan := cfg.MaxSpanMS
	if maxSpan <= 0 || maxSpan > 30_000 {
		maxSpan = 30_000
	}
	return &Adapter{engine: engine, builder: builder, maxSpanMS: maxSpan, now: time.Now}
}

// Transcribe writes req.SRTPath plus the segments and metadata files.
func (a *Adapter) Transcribe(ctx context.Context, req Request, progress func(float64)) (Result, error) {
	const op = "asr.local"
	logger := log.WithComponentFromContext(ctx, "asr.local")
	report := func(p float64) {
		if progress != nil {
			progress(p)
		}
	}

	spans, err := a.engine.Detect(ctx, req.WavPath)
	if err != nil {
		return Result{}, err
	}
	spans = splitLong(spans, a.maxSpanMS)
	logger.Info().Str(log.FieldEvent, "asr.spans_detected").Int("spans", len(spans)).Msg("voice activity detected")

	punct, _ := a.engine.(Punctuator)
	aligner, _ := a.engine.(Aligner)
	language := req.Language

	var cues []subtitle.Cue
	records := make([]SegmentRecord, 0, len(spans))
	for i, sp := range spans {
		if ctx.Err() != nil {
			return Result{}, fault.Wrap(fault.KindCancelled, op, ctx.Err())
		}
		start := time.Now()
		rec, err := a.engine.Recognize(ctx, req.WavPath, sp, Options{Language: language, Model: req.Model, UseCUDA: req.UseCUDA})
		if err != nil {
			metrics.ObserveStage("asr_span", "error", time.Since(start))
			return Result{}, err
		}
		if language == "" && rec.Language != "" {
			language = rec.Language
		}

		text := strings.TrimSpace(rec.Text)
		if text != "" {
			if punct != nil {
				if p, err := punct.Punctuate(ctx, text, language); err != nil {
					logger.Warn().Err(err).Msg("punctuation restore failed, keeping raw text")
				} else if p = strings.TrimSpace(p); p != "" {
					text = p
				}
			}
			words := rec.Words
			if len(words) == 0 && aligner != nil {
				if words, err = aligner.Align(ctx, req.WavPath, sp, text, language); err != nil {
					logger.Warn().Err(err).Msg("forced alignment failed, using span as one cue")
					words = nil
				}
			}

			spanCues := a.builder.Build(ctx, text, language, words, sp.StartMS)
			if len(spanCues) == 0 {
				spanCues = []subtitle.Cue{{StartMS: sp.StartMS, EndMS: sp.EndMS, Source: text}}
			}
			cues = append(cues, spanCues...)
			records = append(records, SegmentRecord{
				StartMS: sp.StartMS,
				EndMS:   sp.EndMS,
				Text:    text,
				Words:   absolute(words, sp.StartMS),
			})
		}
		metrics.ObserveStage("asr_span", "ok", time.Since(start))
		report(SpanProgressCeiling * float64(i+1) / float64(len(spans)))
	}
	if ctx.Err() != nil {
		return Result{}, fault.Wrap(fault.KindCancelled, op, ctx.Err())
	}

	cues = normalize(cues)
	if err := subtitle.WriteFile(req.SRTPath, cues, false); err != nil {
		return Result{}, err
	}

	res := Result{Cues: cues, Language: language}
	res.SegmentsPath, res.MetadataPath, err = a.writeCompanions(req.WavPath, language, records)
	if err != nil {
		return Result{}, err
	}
	report(1)

	logger.Info().
		Str(log.FieldEvent, "asr.done").
		Str(log.FieldPath, req.SRTPath).
		Int("cues", len(cues)).
		Str("language", language).
		Msg("local transcription finished")
	return res, nil
}

func (a *Adapter) writeCompanions(wavPath, language string, records []SegmentRecord) (string, string, error) {
	stem := strings.TrimSuffix(wavPath, filepath.Ext(wavPath))
	segPath := stem + "_segments.json"
	metaPath := stem + "_metadata.json"

	if err := writeJSON(segPath, records); err != nil {
		return "", "", err
	}
	meta := Metadata{
		SegmentDataPath: segPath,
		CreatedTime:     a.now().UTC(),
		AudioFile:       wavPath,
		Language:        language,
	}
	if err := writeJSON(metaPath, meta); err != nil {
		return "", "", err
	}
	return segPath, metaPath, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return renameio.WriteFile(path, data, 0o644)
}

func absolute(words []segment.Word, offset int64) []segment.Word {
	out := make([]segment.Word, len(words))
	for i, w := range words {
		out[i] = segment.Word{Text: w.Text, StartMS: w.StartMS + offset, EndMS: w.EndMS + offset}
	}
	return out
}

// normalize clamps overlaps across spans, drops empty cues and renumbers.
func normalize(cues []subtitle.Cue) []subtitle.Cue {
	out := cues[:0]
	for _, c := range cues {
		if n := len(out); n > 0 && c.StartMS < out[n-1].EndMS {
			c.StartMS = out[n-1].EndMS
		}
		if c.EndMS <= c.StartMS || strings.TrimSpace(c.Source) == "" {
			continue
		}
		out = append(out, c)
	}
	subtitle.Renumber(out)
	return out
}
