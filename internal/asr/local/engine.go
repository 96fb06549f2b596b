// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package local

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/media"
	"github.com/ManuGH/subforge/internal/segment"
)

// Span is a voiced region of the WAV in milliseconds.
type Span struct {
	StartMS int64 `json:"start_ms"`
	EndMS   int64 `json:"end_ms"`
}

// Options select the recognition model.
type Options struct {
	Language string // empty requests detection
	Model    string
	UseCUDA  bool
}

// Recognition is the engine output for one span. Word times are relative to
// the span start.
type Recognition struct {
	Text     string         `json:"text"`
	Language string         `json:"language"`
	Words    []segment.Word `json:"words"`
}

// Engine is the speech recogniser.
type Engine interface {
	Detect(ctx context.Context, wavPath string) ([]Span, error)
	Recognize(ctx context.Context, wavPath string, span Span, opts Options) (Recognition, error)
}

// Punctuator restores punctuation in raw recogniser text.
type Punctuator interface {
	Punctuate(ctx context.Context, text, language string) (string, error)
}

// Aligner produces word timings for text the engine returned without them.
type Aligner interface {
	Align(ctx context.Context, wavPath string, span Span, text, language string) ([]segment.Word, error)
}

// CommandEngine drives an external engine binary through its vad,
// transcribe, punctuate and align sub-commands. Each prints one JSON object
// on stdout.
type CommandEngine struct {
	Bin      string
	ModelDir string
	Runner   media.Runner
}

func (e *CommandEngine) run(ctx context.Context, op string, out any, args ...string) error {
	if e.ModelDir != "" {
		args = append(args, "--model-dir", e.ModelDir)
	}
	runner := e.Runner
	if runner == nil {
		runner = media.ExecRunner{}
	}
	res, err := runner.Run(ctx, e.Bin, args...)
	if err != nil {
		if ctx.Err() != nil {
			return fault.Wrap(fault.KindCancelled, op, ctx.Err())
		}
		return fault.Wrapf(fault.KindInternal, op, fmt.Sprintf("engine exit %d: %s", res.ExitCode, strings.TrimSpace(string(res.Stderr))), err)
	}
	if err := json.Unmarshal(res.Stdout, out); err != nil {
		return fault.Wrapf(fault.KindInternal, op, "unparsable engine output", err)
	}
	return nil
}

func (e *CommandEngine) Detect(ctx context.Context, wavPath string) ([]Span, error) {
	var out struct {
		Spans []Span `json:"spans"`
	}
	if err := e.run(ctx, "asr.vad", &out, "vad", "--input", wavPath); err != nil {
		return nil, err
	}
	return out.Spans, nil
}

func (e *CommandEngine) Recognize(ctx context.Context, wavPath string, span Span, opts Options) (Recognition, error) {
	args := []string{
		"transcribe",
		"--input", wavPath,
		"--start-ms", strconv.FormatInt(span.StartMS, 10),
		"--end-ms", strconv.FormatInt(span.EndMS, 10),
	}
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.UseCUDA {
		args = append(args, "--cuda")
	}
	var rec Recognition
	err := e.run(ctx, "asr.transcribe", &rec, args...)
	return rec, err
}

func (e *CommandEngine) Punctuate(ctx context.Context, text, language string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	if err := e.run(ctx, "asr.punctuate", &out, "punctuate", "--language", language, "--text", text); err != nil {
		return "", err
	}
	return out.Text, nil
}

func (e *CommandEngine) Align(ctx context.Context, wavPath string, span Span, text, language string) ([]segment.Word, error) {
	var out struct {
		Words []segment.Word `json:"words"`
	}
	err := e.run(ctx, "asr.align", &out,
		"align",
		"--input", wavPath,
		"--start-ms", strconv.FormatInt(span.StartMS, 10),
		"--end-ms", strconv.FormatInt(span.EndMS, 10),
		"--language", language,
		"--text", text,
	)
	return out.Words, err
}

// splitLong cuts spans longer than limit into consecutive pieces.
func splitLong(spans []Span, limit int64) []Span {
	if limit <= 0 {
		return spans
	}
	out := make([]Span, 0, len(spans))
	for _, s := range spans {
		for start := s.StartMS; start < s.EndMS; start += limit {
			out = append(out, Span{StartMS: start, EndMS: min(start+limit, s.EndMS)})
		}
	}
	return out
}
