// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package subtitle models SRT cues and reads and writes the SRT format.
package subtitle

import (
	"fmt"
	"unicode/utf8"

	"github.com/ManuGH/subforge/internal/fault"
)

// Cue is one timed subtitle entry. Times are inclusive start, exclusive end.
type Cue struct {
	Index   int    `json:"index"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
	Source  string `json:"source"`
	Target  string `json:"target,omitempty"`
}

// Duration returns the cue length in milliseconds.
func (c Cue) Duration() int64 { return c.EndMS - c.StartMS }

// Renumber assigns dense indices starting at 1.
func Renumber(cues []Cue) {
	for i := range cues {
		cues[i].Index = i + 1
	}
}

// Validate checks ordering and index density.
func Validate(cues []Cue) error {
	for i, c := range cues {
		if c.Index != i+1 {
			return fault.New(fault.KindInvalidInput, "subtitle.validate",
				fmt.Sprintf("cue %d has index %d", i+1, c.Index))
		}
		if c.StartMS < 0 || c.StartMS >= c.EndMS {
			return fault.New(fault.KindInvalidInput, "subtitle.validate",
				fmt.Sprintf("cue %d has empty or negative span %d-%d", c.Index, c.StartMS, c.EndMS))
		}
		if i > 0 && cues[i-1].EndMS > c.StartMS {
			return fault.New(fault.KindInvalidInput, "subtitle.validate",
				fmt.Sprintf("cue %d overlaps cue %d", c.Index, cues[i-1].Index))
		}
	}
	return nil
}

// SourceChars counts source characters, the unit translation is billed in.
func SourceChars(cues []Cue) int {
	n := 0
	for _, c := range cues {
		n += utf8.RuneCountInString(c.Source)
	}
	return n
}
