// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package local

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subforge/internal/config"
	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/segment"
)

type scriptedSpan struct {
	span Span
	rec  Recognition
}

type stubEngine struct {
	spans   []scriptedSpan
	onSpan  func(i int)
	seen    []Options
	detectE error
}

func (e *stubEngine) Detect(context.Context, string) ([]Span, error) {
	if e.detectE != nil {
		return nil, e.detectE
	}
	out := make([]Span, len(e.spans))
	for i, s := range e.spans {
		out[i] = s.span
	}
	return out, nil
}

func (e *stubEngine) Recognize(_ context.Context, _ string, span Span, opts Options) (Recognition, error) {
	e.seen = append(e.seen, opts)
	for i, s := range e.spans {
		if s.span == span {
			if e.onSpan != nil {
				e.onSpan(i)
			}
			return s.rec, nil
		}
	}
	return Recognition{}, errors.New("unexpected span")
}

type punctEngine struct {
	*stubEngine
	aligned int
}

func (p *punctEngine) Punctuate(_ context.Context, text, _ string) (string, error) {
	return strings.ToUpper(text[:1]) + text[1:] + ".", nil
}

func (p *punctEngine) Align(_ context.Context, _ string, span Span, text, _ string) ([]segment.Word, error) {
	p.aligned++
	fields := strings.Fields(text)
	step := (span.EndMS - span.StartMS) / int64(len(fields))
	words := make([]segment.Word, len(fields))
	for i, f := range fields {
		words[i] = segment.Word{Text: f, StartMS: int64(i) * step, EndMS: int64(i+1) * step}
	}
	return words, nil
}

func newAdapter(e Engine) *Adapter {
	a := New(e, nil, config.ASRConfig{MaxSpanMS: 30_000})
	a.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return a
}

func paths(t *testing.T) (string, string) {
	dir := t.TempDir()
	return filepath.Join(dir, "talk.wav"), filepath.Join(dir, "talk.srt")
}

func TestTranscribeTwoSegments(t *testing.T) {
	e := &stubEngine{spans: []scriptedSpan{
		{Span{0, 1200}, Recognition{Text: "Hello world.", Language: "en"}},
		{Span{1300, 2900}, Recognition{Text: "How are you?", Language: "en"}},
	}}
	wav, srt := paths(t)

	var progress []float64
	res, err := newAdapter(e).Transcribe(context.Background(), Request{WavPath: wav, SRTPath: srt, Options: Options{Model: "base"}}, func(p float64) {
		progress = append(progress, p)
	})
	require.NoError(t, err)

	want := "1\n00:00:00,000 --> 00:00:01,200\nHello world.\n\n2\n00:00:01,300 --> 00:00:02,900\nHow are you?\n"
	got, err := os.ReadFile(srt)
	require.NoError(t, err)
	assert.Equal(t, want, string(got))

	assert.Equal(t, []float64{0.465, SpanProgressCeiling, 1}, progress)
	assert.Equal(t, "en", res.Language)
	assert.Equal(t, "", e.seen[0].Language, "first span detects language")
	assert.Equal(t, "en", e.seen[1].Language)

	var meta Metadata
	data, err := os.ReadFile(res.MetadataPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &meta))
	assert.Equal(t, filepath.Join(filepath.Dir(wav), "talk_segments.json"), meta.SegmentDataPath)
	assert.Equal(t, wav, meta.AudioFile)
	assert.Equal(t, "en", meta.Language)
	assert.Equal(t, 2025, meta.CreatedTime.Year())

	var segs []SegmentRecord
	data, err = os.ReadFile(res.SegmentsPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &segs))
	require.Len(t, segs, 2)
	assert.Equal(t, "How are you?", segs[1].Text)
}

func TestTranscribeUsesWordTimingsAndOffsets(t *testing.T) {
	text := "one two three four five six, seven eight nine ten eleven twelve."
	fields := strings.Fields(text)
	words := make([]segment.Word, len(fields))
	for i, f := range fields {
		words[i] = segment.Word{Text: f, StartMS: int64(i) * 500, EndMS: int64(i)*500 + 400}
	}
	e := &stubEngine{spans: []scriptedSpan{{Span{10_000, 16_000}, Recognition{Text: text, Words: words}}}}
	wav, srt := paths(t)

	res, err := newAdapter(e).Transcribe(context.Background(), Request{WavPath: wav, SRTPath: srt, Options: Options{Language: "en"}}, nil)
	require.NoError(t, err)
	require.Len(t, res.Cues, 2)
	assert.Equal(t, int64(10_000), res.Cues[0].StartMS)
	assert.Equal(t, int64(12_900), res.Cues[0].EndMS)
	assert.Equal(t, int64(13_000), res.Cues[1].StartMS)
	assert.Equal(t, 1, res.Cues[0].Index)
	assert.Equal(t, 2, res.Cues[1].Index)
}

func TestTranscribePunctuatesAndAligns(t *testing.T) {
	e := &punctEngine{stubEngine: &stubEngine{spans: []scriptedSpan{
		{Span{0, 4000}, Recognition{Text: "good morning everyone"}},
	}}}
	wav, srt := paths(t)

	res, err := newAdapter(e).Transcribe(context.Background(), Request{WavPath: wav, SRTPath: srt, Options: Options{Language: "en"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, e.aligned)
	require.Len(t, res.Cues, 1)
	assert.Equal(t, "Good morning everyone.", res.Cues[0].Source)

	data, err := os.ReadFile(res.SegmentsPath)
	require.NoError(t, err)
	var segs []SegmentRecord
	require.NoError(t, json.Unmarshal(data, &segs))
	require.Len(t, segs[0].Words, 3)
}

func TestTranscribeSkipsSilentSpans(t *testing.T) {
	e := &stubEngine{spans: []scriptedSpan{
		{Span{0, 1000}, Recognition{Text: "  "}},
		{Span{1000, 3000}, Recognition{Text: "Only this."}},
	}}
	wav, srt := paths(t)

	res, err := newAdapter(e).Transcribe(context.Background(), Request{WavPath: wav, SRTPath: srt}, nil)
	require.NoError(t, err)
	require.Len(t, res.Cues, 1)
	assert.Equal(t, 1, res.Cues[0].Index)
}

func TestTranscribeCancelledBetweenSpans(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var spans []scriptedSpan
	for i := int64(0); i < 10; i++ {
		spans = append(spans, scriptedSpan{Span{i * 1000, i*1000 + 900}, Recognition{Text: "word"}})
	}
	e := &stubEngine{spans: spans, onSpan: func(i int) {
		if i == 2 {
			cancel()
		}
	}}
	wav, srt := paths(t)

	var last float64
	_, err := newAdapter(e).Transcribe(ctx, Request{WavPath: wav, SRTPath: srt}, func(p float64) { last = p })
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrCancelled)
	assert.Len(t, e.seen, 3)
	assert.LessOrEqual(t, last, 0.3)
	assert.NoFileExists(t, srt)
}

func TestTranscribeDetectFailure(t *testing.T) {
	e := &stubEngine{detectE: fault.New(fault.KindMediaDecode, "asr.vad", "bad wav")}
	wav, srt := paths(t)
	_, err := newAdapter(e).Transcribe(context.Background(), Request{WavPath: wav, SRTPath: srt}, nil)
	assert.ErrorIs(t, err, fault.ErrMediaDecode)
}

func TestSplitLong(t *testing.T) {
	got := splitLong([]Span{{0, 65_000}, {70_000, 71_000}}, 30_000)
	assert.Equal(t, []Span{{0, 30_000}, {30_000, 60_000}, {60_000, 65_000}, {70_000, 71_000}}, got)
}
