// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package translate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ManuGH/subforge/internal/llm"
	"github.com/ManuGH/subforge/internal/subtitle"
)

const terminologySystem = `You are a subtitle localisation expert. Read the transcript and
produce a short theme description and a glossary of names, jargon and recurring phrases that must be
translated consistently.
Reply with JSON only:
{"theme": "<one or two sentences>", "terms": [{"src": "<source term>", "tgt": "<translation>", "note": "<optional>"}]}`

const faithfulSystem = `You are a professional subtitle translator. Translate each numbered line
faithfully into %s. Keep the numbering. Do not merge or split lines.
Reply with JSON only, one object per input line:
{"1": {"origin": "<source line copied verbatim>", "direct": "<translation>"}, ...}`

const reflectiveSystem = `You are a senior subtitle editor. For each numbered line you get the
source and a literal %s translation. Critique the literal translation, then write a fluent,
idiomatic version suitable for on-screen subtitles.
Reply with JSON only, one object per input line:
{"1": {"origin": "<source>", "direct": "<literal>", "reflect": "<critique>", "free": "<final subtitle>"}, ...}`

func terminologyPrompt(text, src, tgt string) []llm.Message {
	user := fmt.Sprintf("Source language: %s\nTarget language: %s\n\nTranscript:\n%s", orAuto(src), tgt, text)
	return []llm.Message{
		{Role: llm.RoleSystem, Content: terminologySystem},
		{Role: llm.RoleUser, Content: user},
	}
}

func faithfulPrompt(c Chunk, book TerminologyBook, tgt string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(faithfulSystem, tgt)},
		{Role: llm.RoleUser, Content: chunkBody(c, book, nil)},
	}
}

func reflectivePrompt(c Chunk, book TerminologyBook, tgt string, direct []string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(reflectiveSystem, tgt)},
		{Role: llm.RoleUser, Content: chunkBody(c, book, direct)},
	}
}

type numbered struct {
	Origin string `json:"origin"`
	Direct string `json:"direct,omitempty"`
}

func chunkBody(c Chunk, book TerminologyBook, direct []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Theme: %s\n", book.Theme)
	if len(book.Terms) > 0 {
		b.WriteString("Glossary:\n")
		for _, t := range book.Terms {
			fmt.Fprintf(&b, "- %s => %s", t.Src, t.Tgt)
			if t.Note != "" {
				fmt.Fprintf(&b, " (%s)", t.Note)
			}
			b.WriteByte('\n')
		}
	}
	if len(c.Prev) > 0 {
		b.WriteString("Previous lines (context only, do not translate):\n")
		writeContext(&b, c.Prev)
	}
	if len(c.Next) > 0 {
		b.WriteString("Following lines (context only, do not translate):\n")
		writeContext(&b, c.Next)
	}

	lines := make(map[string]numbered, len(c.Cues))
	for i, cue := range c.Cues {
		n := numbered{Origin: flatten(cue.Source)}
		if direct != nil {
			n.Direct = direct[i]
		}
		lines[strconv.Itoa(i+1)] = n
	}
	payload, _ := json.MarshalIndent(lines, "", "  ")
	b.WriteString("Lines to translate:\n")
	b.Write(payload)
	return b.String()
}

func writeContext(b *strings.Builder, cues []subtitle.Cue) {
	for _, c := range cues {
		b.WriteString("  ")
		b.WriteString(flatten(c.Source))
		b.WriteByte('\n')
	}
}

func orAuto(lang string) string {
	if lang == "" {
		return "auto-detect"
	}
	return lang
}
