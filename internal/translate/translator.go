// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package translate turns a monolingual SRT into a bilingual one using an
// LLM, chunk by chunk, with a shared terminology book.
package translate

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/subforge/internal/config"
	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/llm"
	"github.com/ManuGH/subforge/internal/log"
	"github.com/ManuGH/subforge/internal/subtitle"
	"github.com/ManuGH/subforge/internal/telemetry"
)

// ChatterSource resolves a translation channel to a chat client.
type ChatterSource interface {
	Get(name string) (llm.Chatter, error)
}

type Request struct {
	SRTPath        string
	OutputPath     string // defaults to <stem>_bilingual.srt next to SRTPath
	WorkDir        string // terminology.json goes here; empty skips persistence
	SourceLanguage string
	TargetLanguage string
	Channel        string // empty selects the configured default
}

type Result struct {
	OutputPath string
	Cues       []subtitle.Cue
	Book       TerminologyBook
	Chunks     int
	MemoHits   int
	Warnings   []string
}

type settings struct {
	chunkCharLimit int
	maxEntries     int
	summaryLimit   int
	reflect        bool
	workerCap      int
	maxAttempts    int
	retryDelay     time.Duration
	threshold      float64
	lineCap        int
	defaultChannel string
}

func settingsFrom(c config.TranslateConfig) settings {
	s := settings{
		chunkCharLimit: c.ChunkCharLimit,
		maxEntries:     c.MaxEntriesPerChunk,
		summaryLimit:   c.SummaryCharLimit,
		reflect:        c.Reflect,
		workerCap:      c.WorkerCap,
		maxAttempts:    c.MaxAttempts,
		retryDelay:     c.RetryDelay,
		threshold:      c.SimilarityThreshold,
		lineCap:        c.LineCharCap,
		defaultChannel: c.DefaultChannel,
	}
	if s.workerCap <= 0 {
		s.workerCap = 3
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = 5
	}
	if s.summaryLimit <= 0 {
		s.summaryLimit = 8000
	}
	return s
}

type Translator struct {
	mu       sync.RWMutex
	cfg      settings
	chatters ChatterSource
	memo     *Memo

	sleep func(context.Context, time.Duration) error
}

// New builds a translator. memo may be nil.
func New(cfg config.TranslateConfig, chatters ChatterSource, memo *Memo) *Translator {
	return &Translator{
		cfg:      settingsFrom(cfg),
		chatters: chatters,
		memo:     memo,
		sleep:    sleepCtx,
	}
}

// SetConfig swaps tuning for documents started afterwards.
func (t *Translator) SetConfig(cfg config.TranslateConfig) {
	t.mu.Lock()
	t.cfg = settingsFrom(cfg)
	t.mu.Unlock()
}

func (t *Translator) settings() settings {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg
}

// TranslateDocument translates every cue of req.SRTPath and writes the
// bilingual result. progress receives completed/total chunk fractions in
// non-decreasing order.
func (t *Translator) TranslateDocument(ctx context.Context, req Request, progress func(float64)) (res Result, err error) {
	const op = "translate.document"
	ctx, span := telemetry.StartSpan(ctx, op)
	defer func() { telemetry.EndSpan(span, err) }()

	s := t.settings()
	logger := log.WithComponentFromContext(ctx, "translate")

	if strings.TrimSpace(req.TargetLanguage) == "" {
		return res, fault.New(fault.KindInvalidInput, op, "target language is required")
	}
	cues, err := subtitle.ReadFile(req.SRTPath)
	if err != nil {
		return res, fault.Wrap(fault.KindInvalidInput, op, err)
	}
	res.OutputPath = req.OutputPath
	if res.OutputPath == "" {
		res.OutputPath = strings.TrimSuffix(req.SRTPath, filepath.Ext(req.SRTPath)) + "_bilingual.srt"
	}
	if len(cues) == 0 {
		if err := subtitle.WriteFile(res.OutputPath, nil, true); err != nil {
			return res, fmt.Errorf("write bilingual srt: %w", err)
		}
		if progress != nil {
			progress(1)
		}
		return res, nil
	}

	channel := req.Channel
	if channel == "" {
		channel = s.defaultChannel
	}
	chat, err := t.chatters.Get(channel)
	if err != nil {
		return res, err
	}

	chunks := Split(cues, s.chunkCharLimit, s.maxEntries)
	res.Chunks = len(chunks)
	logger.Info().
		Str(log.FieldEvent, "translate.start").
		Str(log.FieldProvider, chat.Name()).
		Int("cues", len(cues)).
		Int("chunks", len(chunks)).
		Msg("translating document")

	book, err := t.extractTerminology(ctx, chat, summaryText(cues, s.summaryLimit), req.SourceLanguage, req.TargetLanguage, s)
	if err != nil {
		if ctx.Err() != nil {
			return res, fault.Wrap(fault.KindCancelled, op, ctx.Err())
		}
		logger.Warn().Err(err).Str(log.FieldEvent, "translate.terminology_fallback").Msg("terminology extraction failed, using empty book")
		book = fallbackBook()
	}
	res.Book = book
	if err := SaveBook(req.WorkDir, book); err != nil {
		logger.Warn().Err(err).Str(log.FieldWorkDir, req.WorkDir).Msg("failed to persist terminology")
	}

	run := &documentRun{
		t:      t,
		chat:   chat,
		book:   book,
		target: req.TargetLanguage,
		s:      s,
		scope: memoScope{
			provider: chat.Name(),
			model:    chat.Model(),
			target:   req.TargetLanguage,
			theme:    book.Theme,
			reflect:  s.reflect,
		},
		results:  make([][]string, len(chunks)),
		total:    len(chunks),
		progress: progress,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workerCap)
	for _, c := range chunks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return fault.Wrap(fault.KindCancelled, "translate.chunk", err)
			}
			if err := run.chunk(gctx, c); err != nil {
				return fmt.Errorf("chunk %d: %w", c.Index, err)
			}
			return nil
		})
	}
	werr := g.Wait()
	if ctx.Err() != nil {
		return res, fault.Wrap(fault.KindCancelled, op, ctx.Err())
	}
	if werr != nil {
		return res, werr
	}

	out := make([]subtitle.Cue, 0, len(cues))
	for i, c := range chunks {
		for j, cue := range c.Cues {
			cue.Source = flatten(cue.Source)
			cue.Target = run.results[i][j]
			out = append(out, cue)
		}
	}
	if err := subtitle.WriteFile(res.OutputPath, out, true); err != nil {
		return res, fmt.Errorf("write bilingual srt: %w", err)
	}
	res.Cues = out
	res.MemoHits = run.memoHits
	res.Warnings = run.warnings
	logger.Info().
		Str(log.FieldEvent, "translate.done").
		Str(log.FieldPath, res.OutputPath).
		Int("memo_hits", run.memoHits).
		Int("warnings", len(run.warnings)).
		Msg("document translated")
	return res, nil
}

type documentRun struct {
	t      *Translator
	chat   llm.Chatter
	book   TerminologyBook
	target string
	s      settings
	scope  memoScope

	mu       sync.Mutex
	results  [][]string
	done     int
	total    int
	memoHits int
	warnings []string
	progress func(float64)
}

func (r *documentRun) chunk(ctx context.Context, c Chunk) (err error) {
	key := r.scope.key(c)
	if r.t.memo != nil {
		if lines, ok := r.t.memo.Get(key); ok && len(lines) == len(c.Cues) {
			r.finish(c.Index, r.wrap(lines), true)
			return nil
		}
	}

	ctx, span := telemetry.StartSpan(ctx, "translate.chunk",
		trace.WithAttributes(telemetry.ChunkAttributes(c.Index, len(c.Cues), passFaithful)...))
	defer func() { telemetry.EndSpan(span, err) }()

	n := len(c.Cues)
	faithful, err := r.t.runPass(ctx, r.chat, passFaithful, faithfulPrompt(c, r.book, r.target), n, r.s)
	if err != nil {
		return err
	}
	mismatch := faithful.mismatch
	direct := fitCount(texts(faithful.lines, passFaithful), n)
	final := direct

	if r.s.reflect {
		refl, err := r.t.runPass(ctx, r.chat, passReflective, reflectivePrompt(c, r.book, r.target, direct), n, r.s)
		if err != nil {
			return err
		}
		mismatch = mismatch || refl.mismatch
		final = fitCount(texts(refl.lines, passReflective), n)
	}
	if mismatch {
		r.warn(c.Index, "line count mismatch, padded or truncated to match the source")
	}

	if r.s.threshold > 0 {
		origins := make([]string, 0, len(faithful.lines))
		for _, l := range faithful.lines {
			origins = append(origins, flatten(l.Origin))
		}
		sources := make([]string, 0, n)
		for _, cue := range c.Cues {
			sources = append(sources, flatten(cue.Source))
		}
		if ratio := similarity(strings.Join(origins, " "), strings.Join(sources, " ")); ratio < r.s.threshold {
			r.warn(c.Index, fmt.Sprintf("echoed source similarity %.2f below %.2f", ratio, r.s.threshold))
		}
	}

	for i := range final {
		final[i] = flatten(final[i])
	}
	if r.t.memo != nil && !mismatch {
		if err := r.t.memo.Put(key, final); err != nil {
			logger := log.WithComponentFromContext(ctx, "translate")
			logger.Warn().Err(err).Int(log.FieldChunk, c.Index).Msg("memo write failed")
		}
	}
	r.finish(c.Index, r.wrap(final), false)
	return nil
}

func (r *documentRun) wrap(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = wrapLine(l, r.s.lineCap, r.target)
	}
	return out
}

func (r *documentRun) finish(index int, lines []string, memoHit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[index] = lines
	r.done++
	if memoHit {
		r.memoHits++
	}
	if r.progress != nil {
		r.progress(float64(r.done) / float64(r.total))
	}
}

func (r *documentRun) warn(index int, msg string) {
	r.mu.Lock()
	r.warnings = append(r.warnings, fmt.Sprintf("chunk %d: %s", index, msg))
	r.mu.Unlock()
	logger := log.WithComponent("translate")
	logger.Warn().Int(log.FieldChunk, index).Str(log.FieldEvent, "translate.chunk_warning").Msg(msg)
}

func texts(lines []line, pass string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.text(pass)
	}
	return out
}

