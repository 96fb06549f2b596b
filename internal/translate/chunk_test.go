// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package translate

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subforge/internal/subtitle"
)

func cuesOf(texts ...string) []subtitle.Cue {
	out := make([]subtitle.Cue, len(texts))
	for i, s := range texts {
		out[i] = subtitle.Cue{Index: i + 1, StartMS: int64(i) * 1000, EndMS: int64(i)*1000 + 900, Source: s}
	}
	return out
}

func TestSplitPartitionsInput(t *testing.T) {
	texts := make([]string, 37)
	for i := range texts {
		texts[i] = strings.Repeat("x", 10+(i*7)%90)
	}
	cues := cuesOf(texts...)

	for _, tc := range []struct{ limit, entries int }{{600, 10}, {100, 3}, {50, 1}, {1000, 50}} {
		chunks := Split(cues, tc.limit, tc.entries)
		var joined []subtitle.Cue
		for i, c := range chunks {
			assert.Equal(t, i, c.Index)
			assert.LessOrEqual(t, len(c.Cues), tc.entries)
			if len(c.Cues) > 1 {
				assert.LessOrEqual(t, subtitle.SourceChars(c.Cues), tc.limit)
			}
			joined = append(joined, c.Cues...)
		}
		if diff := cmp.Diff(cues, joined); diff != "" {
			t.Fatalf("limit=%d entries=%d: partition mismatch (-want +got):\n%s", tc.limit, tc.entries, diff)
		}
	}
}

func TestSplitOversizeCueStandsAlone(t *testing.T) {
	cues := cuesOf("short", strings.Repeat("y", 700), "tail")
	chunks := Split(cues, 600, 10)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[1].Cues, 1)
	assert.Equal(t, 700, len(chunks[1].Cues[0].Source))
}

func TestSplitContextWindows(t *testing.T) {
	cues := cuesOf("a", "b", "c", "d", "e", "f", "g", "h", "i", "j")
	chunks := Split(cues, 600, 4)
	require.Len(t, chunks, 3)

	assert.Empty(t, chunks[0].Prev)
	assert.Equal(t, []string{"e", "f"}, sources(chunks[0].Next))
	assert.Equal(t, []string{"b", "c", "d"}, sources(chunks[1].Prev))
	assert.Equal(t, []string{"i", "j"}, sources(chunks[1].Next))
	assert.Equal(t, []string{"f", "g", "h"}, sources(chunks[2].Prev))
	assert.Empty(t, chunks[2].Next)
}

func TestSplitEmpty(t *testing.T) {
	assert.Empty(t, Split(nil, 600, 10))
}

func sources(cues []subtitle.Cue) []string {
	out := make([]string, len(cues))
	for i, c := range cues {
		out[i] = c.Source
	}
	return out
}
