// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package segment turns a punctuated transcript with word timings into
// subtitle cues.
package segment

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ManuGH/subforge/internal/log"
	"github.com/ManuGH/subforge/internal/subtitle"
)

// Word is one recognised word with times relative to the segment origin.
type Word struct {
	Text    string `json:"text"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
}

// Options tune the rule set.
type Options struct {
	MinWordsPerSide int   // both sides of an accepted split carry at least this many words
	MinDurationMS   int64 // shorter cues merge forward
	MaxWordsPerCue  int   // run-on text is force split above this; 0 disables
}

// DefaultOptions returns the standard rule set.
func DefaultOptions() Options {
	return Options{MinWordsPerSide: 5, MinDurationMS: 2500, MaxWordsPerCue: 40}
}

// Builder builds cues, optionally consulting a sentence splitter first.
type Builder struct {
	opts     Options
	splitter Splitter
	logger   zerolog.Logger
}

// NewBuilder returns a Builder. splitter may be nil.
func NewBuilder(opts Options, splitter Splitter) *Builder {
	if opts.MinWordsPerSide <= 0 {
		opts.MinWordsPerSide = DefaultOptions().MinWordsPerSide
	}
	if opts.MinDurationMS <= 0 {
		opts.MinDurationMS = DefaultOptions().MinDurationMS
	}
	return &Builder{opts: opts, splitter: splitter, logger: log.WithComponent("segment")}
}

// Build segments with the rule set only.
func Build(text string, words []Word, offsetMS int64, opts Options) []subtitle.Cue {
	return NewBuilder(opts, nil).Build(context.Background(), text, "", words, offsetMS)
}

// Build returns cues numbered from 1. An empty transcript or no word timings
// yield no cues.
func (b *Builder) Build(ctx context.Context, text, language string, words []Word, offsetMS int64) []subtitle.Cue {
	tokens := tokenize(text)
	timed := 0
	for _, t := range tokens {
		if t.timed {
			timed++
		}
	}
	if timed == 0 || len(words) == 0 {
		return nil
	}

	times := b.align(tokens, timed, words)

	var bounds []int
	if b.splitter != nil {
		sentences, err := b.splitter.Split(ctx, text, language)
		if err != nil {
			b.logger.Warn().Err(err).Msg("sentence splitter unavailable, using rules")
		} else if !sameText(text, sentences) {
			b.logger.Warn().Int("sentences", len(sentences)).Msg("splitter changed the transcript, using rules")
		} else if bounds = boundsFromSentences(tokens, sentences); bounds == nil {
			b.logger.Warn().Int("sentences", len(sentences)).Msg("splitter output does not match transcript, using rules")
		}
	}
	if bounds == nil {
		bounds = b.ruleBounds(tokens, timed)
	}
	bounds = b.forceSplits(tokens, bounds)

	segs := b.segments(tokens, bounds, times, offsetMS)
	segs = b.mergeShort(segs)

	cues := make([]subtitle.Cue, 0, len(segs))
	for _, s := range segs {
		cues = append(cues, subtitle.Cue{
			StartMS: s.startMS,
			EndMS:   s.endMS,
			Source:  cueText(text, tokens, s.first, s.last),
		})
	}
	subtitle.Renumber(cues)
	return cues
}

type span struct{ start, end int64 }

// align maps one time span to every timed token.
func (b *Builder) align(tokens []token, timed int, words []Word) []span {
	ws := words
	for len(ws) > timed && isSilence(ws[len(ws)-1]) {
		ws = ws[:len(ws)-1]
	}

	out := make([]span, len(tokens))
	if len(ws) == timed {
		k := 0
		for i, t := range tokens {
			if t.timed {
				out[i] = span{ws[k].StartMS, ws[k].EndMS}
				k++
			}
		}
		return out
	}

	b.logger.Warn().Int("words", len(words)).Int("tokens", timed).Msg("word count mismatch, distributing timestamps proportionally")
	first, last := ws[0].StartMS, ws[len(ws)-1].EndMS
	if last <= first {
		last = first + int64(timed)
	}
	total := 0
	for _, t := range tokens {
		if t.timed {
			total += utf8.RuneCountInString(t.text)
		}
	}
	acc := 0
	for i, t := range tokens {
		if !t.timed {
			continue
		}
		s := first + (last-first)*int64(acc)/int64(total)
		acc += utf8.RuneCountInString(t.text)
		e := first + (last-first)*int64(acc)/int64(total)
		out[i] = span{s, e}
	}
	return out
}

func isSilence(w Word) bool {
	return w.EndMS <= w.StartMS || strings.TrimSpace(w.Text) == ""
}

// ruleBounds returns token indices after which a cue ends.
func (b *Builder) ruleBounds(tokens []token, timed int) []int {
	var bounds []int
	left, seen := 0, 0
	for i, t := range tokens {
		if t.timed {
			left++
			seen++
		}
		if !t.split {
			continue
		}
		if left >= b.opts.MinWordsPerSide && timed-seen >= b.opts.MinWordsPerSide {
			bounds = append(bounds, i)
			left = 0
		}
	}
	return bounds
}

// forceSplits breaks cues carrying more than MaxWordsPerCue words, preferring a
// discourse marker near the middle.
func (b *Builder) forceSplits(tokens []token, bounds []int) []int {
	if b.opts.MaxWordsPerCue <= 0 {
		return bounds
	}
	var out []int
	first := 0
	ends := append(append([]int(nil), bounds...), len(tokens)-1)
	for _, last := range ends {
		out = append(out, b.splitRange(tokens, first, last)...)
		if last != len(tokens)-1 {
			out = append(out, last)
		}
		first = last + 1
	}
	return out
}

func (b *Builder) splitRange(tokens []token, first, last int) []int {
	words := countTimed(tokens, first, last)
	if words <= b.opts.MaxWordsPerCue {
		return nil
	}
	minSide := b.opts.MinWordsPerSide
	mid := words / 2

	best, bestDist := -1, words
	seen := 0
	for i := first; i <= last; i++ {
		if !tokens[i].timed {
			continue
		}
		// split before a marker: the cut is after token i-1
		if seen >= minSide && words-seen >= minSide && markerAt(tokens, i) {
			if d := abs(seen - mid); d < bestDist {
				best, bestDist = i-1, d
			}
		}
		seen++
	}
	if best < 0 {
		seen = 0
		for i := first; i <= last; i++ {
			if tokens[i].timed {
				seen++
				if seen == mid {
					best = i
					break
				}
			}
		}
	}
	if best < first || best >= last {
		return nil
	}
	res := b.splitRange(tokens, first, best)
	res = append(res, best)
	return append(res, b.splitRange(tokens, best+1, last)...)
}

func markerAt(tokens []token, i int) bool {
	if discourseMarkers[bare(tokens[i].text)] {
		return true
	}
	if i+1 < len(tokens) && tokens[i+1].timed {
		if r, _ := utf8.DecodeRuneInString(tokens[i].text); isIdeographic(r) {
			return discourseMarkers[tokens[i].text+tokens[i+1].text]
		}
	}
	return false
}

type seg struct {
	first, last    int // token range, inclusive
	startMS, endMS int64
}

func (b *Builder) segments(tokens []token, bounds []int, times []span, offsetMS int64) []seg {
	var segs []seg
	first := 0
	ends := append(append([]int(nil), bounds...), len(tokens)-1)
	for _, last := range ends {
		if last < first {
			continue
		}
		ft, lt := -1, -1
		for i := first; i <= last; i++ {
			if tokens[i].timed {
				if ft < 0 {
					ft = i
				}
				lt = i
			}
		}
		if ft < 0 {
			// punctuation only, fold into the previous cue
			if n := len(segs); n > 0 {
				segs[n-1].last = last
			}
			first = last + 1
			continue
		}
		segs = append(segs, seg{
			first:   first,
			last:    last,
			startMS: offsetMS + times[ft].start,
			endMS:   offsetMS + times[lt].end,
		})
		first = last + 1
	}
	return segs
}

// mergeShort enforces the minimum duration and non-overlap.
func (b *Builder) mergeShort(segs []seg) []seg {
	merge := func(a, c seg) seg {
		out := seg{first: a.first, last: c.last, startMS: a.startMS, endMS: c.endMS}
		if a.endMS > out.endMS {
			out.endMS = a.endMS
		}
		return out
	}

	out := make([]seg, 0, len(segs))
	for i := 0; i < len(segs); i++ {
		cur := segs[i]
		for cur.endMS-cur.startMS < b.opts.MinDurationMS && i+1 < len(segs) {
			i++
			cur = merge(cur, segs[i])
		}
		if n := len(out); n > 0 {
			prev := out[n-1]
			if cur.startMS < prev.endMS {
				cur.startMS = prev.endMS
			}
			if cur.endMS-cur.startMS < b.opts.MinDurationMS || cur.endMS <= cur.startMS {
				out[n-1] = merge(prev, cur)
				continue
			}
		}
		out = append(out, cur)
	}
	for i := range out {
		if out[i].endMS <= out[i].startMS {
			out[i].endMS = out[i].startMS + 1
		}
	}
	return out
}

func cueText(text string, tokens []token, first, last int) string {
	s := text[tokens[first].start:tokens[last].end]
	return strings.Join(strings.Fields(s), " ")
}

func countTimed(tokens []token, first, last int) int {
	n := 0
	for i := first; i <= last; i++ {
		if tokens[i].timed {
			n++
		}
	}
	return n
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
