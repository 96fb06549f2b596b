// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package local

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/media"
)

type recordingRunner struct {
	args   [][]string
	stdout string
	err    error
}

func (r *recordingRunner) Run(_ context.Context, _ string, args ...string) (media.Output, error) {
	r.args = append(r.args, args)
	out := media.Output{Stdout: []byte(r.stdout)}
	if r.err != nil {
		out.ExitCode = 2
		out.Stderr = []byte("model not found")
	}
	return out, r.err
}

func TestCommandEngineRecognize(t *testing.T) {
	r := &recordingRunner{stdout: `{"text": "hi there", "language": "en", "words": [{"text": "hi", "start_ms": 0, "end_ms": 200}]}`}
	e := &CommandEngine{Bin: "subforge-asr", ModelDir: "/models", Runner: r}

	rec, err := e.Recognize(context.Background(), "a.wav", Span{1000, 2000}, Options{Language: "en", Model: "base", UseCUDA: true})
	require.NoError(t, err)
	assert.Equal(t, "hi there", rec.Text)
	require.Len(t, rec.Words, 1)
	assert.Equal(t, []string{
		"transcribe", "--input", "a.wav", "--start-ms", "1000", "--end-ms", "2000",
		"--language", "en", "--model", "base", "--cuda", "--model-dir", "/models",
	}, r.args[0])
}

func TestCommandEngineDetect(t *testing.T) {
	r := &recordingRunner{stdout: `{"spans": [{"start_ms": 0, "end_ms": 1500}]}`}
	spans, err := (&CommandEngine{Bin: "x", Runner: r}).Detect(context.Background(), "a.wav")
	require.NoError(t, err)
	assert.Equal(t, []Span{{0, 1500}}, spans)
}

func TestCommandEngineFailure(t *testing.T) {
	r := &recordingRunner{err: errors.New("exit status 2")}
	_, err := (&CommandEngine{Bin: "x", Runner: r}).Punctuate(context.Background(), "text", "en")
	require.Error(t, err)
	assert.Equal(t, fault.KindInternal, fault.KindOf(err))
	assert.Contains(t, err.Error(), "model not found")
}

func TestCommandEngineBadJSON(t *testing.T) {
	r := &recordingRunner{stdout: "loading model..."}
	_, err := (&CommandEngine{Bin: "x", Runner: r}).Align(context.Background(), "a.wav", Span{0, 10}, "a", "en")
	assert.ErrorContains(t, err, "unparsable engine output")
}
