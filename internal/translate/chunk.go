// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package translate

import (
	"unicode/utf8"

	"github.com/ManuGH/subforge/internal/subtitle"
)

const (
	prevContext = 3
	nextContext = 2
)

// Chunk is a run of consecutive cues translated in one LLM call, with
// read-only neighbour context.
type Chunk struct {
	Index int
	Cues  []subtitle.Cue
	Prev  []subtitle.Cue
	Next  []subtitle.Cue
}

// Split partitions cues greedily. A chunk closes when adding the next cue
// would push its source runes over charLimit or its size over maxEntries.
// A single cue longer than charLimit forms its own chunk.
func Split(cues []subtitle.Cue, charLimit, maxEntries int) []Chunk {
	if charLimit <= 0 {
		charLimit = 600
	}
	if maxEntries <= 0 {
		maxEntries = 10
	}

	var chunks []Chunk
	start, chars := 0, 0
	for i, c := range cues {
		n := utf8.RuneCountInString(c.Source)
		if i > start && (chars+n > charLimit || i-start >= maxEntries) {
			chunks = append(chunks, Chunk{Index: len(chunks), Cues: cues[start:i]})
			start, chars = i, 0
		}
		chars += n
	}
	if start < len(cues) {
		chunks = append(chunks, Chunk{Index: len(chunks), Cues: cues[start:]})
	}

	for i := range chunks {
		if i > 0 {
			prev := chunks[i-1].Cues
			chunks[i].Prev = prev[max(0, len(prev)-prevContext):]
		}
		if i+1 < len(chunks) {
			next := chunks[i+1].Cues
			chunks[i].Next = next[:min(nextContext, len(next))]
		}
	}
	return chunks
}
