// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/llm"
	"github.com/ManuGH/subforge/internal/log"
	"github.com/ManuGH/subforge/internal/subtitle"
)

// FallbackTheme is used when the terminology call fails.
const FallbackTheme = "general content"

// TerminologyFile is the book's file name inside the task work dir.
const TerminologyFile = "terminology.json"

// Term is one glossary entry.
type Term struct {
	Src  string `json:"src"`
	Tgt  string `json:"tgt"`
	Note string `json:"note"`
}

// TerminologyBook is shared read-only by every chunk of a document.
type TerminologyBook struct {
	Theme string `json:"theme"`
	Terms []Term `json:"terms"`
}

func fallbackBook() TerminologyBook {
	return TerminologyBook{Theme: FallbackTheme, Terms: []Term{}}
}

// summaryText joins cue sources and truncates to limit runes.
func summaryText(cues []subtitle.Cue, limit int) string {
	var b strings.Builder
	for i, c := range cues {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(flatten(c.Source))
	}
	r := []rune(b.String())
	if limit > 0 && len(r) > limit {
		r = r[:limit]
	}
	return string(r)
}

// extractTerminology asks for the theme and glossary. Transient failures back
// off exponentially like the chunk passes; anything else is returned at once.
func (t *Translator) extractTerminology(ctx context.Context, chat llm.Chatter, text, src, tgt string, s settings) (TerminologyBook, error) {
	const op = "translate.terminology"
	msgs := terminologyPrompt(text, src, tgt)
	var (
		reply string
		err   error
	)
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			if serr := t.sleep(ctx, s.retryDelay<<(attempt-2)); serr != nil {
				return TerminologyBook{}, fault.Wrap(fault.KindCancelled, op, serr)
			}
		}
		reply, err = chat.Chat(ctx, msgs)
		if err == nil || ctx.Err() != nil || fault.KindOf(err) != fault.KindNetworkTransient {
			break
		}
		logger := log.WithComponentFromContext(ctx, "translate")
		logger.Warn().Err(err).
			Str(log.FieldEvent, "translate.terminology_retry").
			Int(log.FieldAttempt, attempt).
			Msg("terminology request failed")
	}
	if err != nil {
		return TerminologyBook{}, err
	}
	var book TerminologyBook
	if err := llm.DecodeJSON(reply, &book); err != nil {
		return TerminologyBook{}, err
	}
	if err := book.validate(); err != nil {
		return TerminologyBook{}, err
	}
	return book, nil
}

func (b *TerminologyBook) validate() error {
	b.Theme = strings.TrimSpace(b.Theme)
	if b.Theme == "" {
		return fault.New(fault.KindLLMMalformed, "translate.terminology", "empty theme")
	}
	kept := b.Terms[:0]
	for _, term := range b.Terms {
		term.Src = strings.TrimSpace(term.Src)
		term.Tgt = strings.TrimSpace(term.Tgt)
		if term.Src == "" || term.Tgt == "" {
			continue
		}
		kept = append(kept, term)
	}
	if kept == nil {
		kept = []Term{}
	}
	b.Terms = kept
	return nil
}

// SaveBook writes the book into dir.
func SaveBook(dir string, book TerminologyBook) error {
	if dir == "" {
		return nil
	}
	data, err := json.MarshalIndent(book, "", "  ")
	if err != nil {
		return fmt.Errorf("encode terminology: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	return renameio.WriteFile(filepath.Join(dir, TerminologyFile), data, 0o644)
}

// LoadBook reads a previously saved book.
func LoadBook(dir string) (TerminologyBook, error) {
	var book TerminologyBook
	data, err := os.ReadFile(filepath.Join(dir, TerminologyFile))
	if err != nil {
		return book, err
	}
	if err := json.Unmarshal(data, &book); err != nil {
		return book, fmt.Errorf("decode terminology: %w", err)
	}
	return book, nil
}
