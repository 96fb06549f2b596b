// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package subtitle

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/subforge/internal/fault"
)

var (
	blockRe     = regexp.MustCompile(`^(\d+)\n(\d{2}:\d{2}:\d{2}[,.]\d{3}) --> (\d{2}:\d{2}:\d{2}[,.]\d{3})(?:\n([\s\S]*))?$`)
	separatorRe = regexp.MustCompile(`\n[ \t]*\n`)
)

// Parse reads SRT text. Blocks that do not match the cue header are skipped.
// Multi-line text is kept with embedded newlines in Source.
func Parse(data string) ([]Cue, error) {
	data = strings.TrimPrefix(data, "\ufeff")
	data = strings.ReplaceAll(data, "\r\n", "\n")
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, nil
	}

	var cues []Cue
	for _, block := range separatorRe.Split(data, -1) {
		block = strings.Trim(block, "\n")
		m := blockRe.FindStringSubmatch(block)
		if m == nil {
			continue
		}
		idx, _ := strconv.Atoi(m[1])
		start, err := ParseTimestamp(m[2])
		if err != nil {
			return nil, err
		}
		end, err := ParseTimestamp(m[3])
		if err != nil {
			return nil, err
		}
		cues = append(cues, Cue{
			Index:   idx,
			StartMS: start,
			EndMS:   end,
			Source:  strings.TrimSpace(m[4]),
		})
	}
	if len(cues) == 0 {
		return nil, fault.New(fault.KindInvalidInput, "subtitle.parse", "no cues found")
	}
	return cues, nil
}

// ParseBilingual reads a file written by FormatBilingual: the first text line
// of each block is the source and the remainder the target.
func ParseBilingual(data string) ([]Cue, error) {
	cues, err := Parse(data)
	if err != nil {
		return nil, err
	}
	for i := range cues {
		src, tgt, _ := strings.Cut(cues[i].Source, "\n")
		cues[i].Source = src
		cues[i].Target = strings.TrimSpace(tgt)
	}
	return cues, nil
}

// Format renders source-only SRT.
func Format(cues []Cue) string {
	return format(cues, false)
}

// FormatBilingual renders source and target stacked per cue. A multi-line
// source is joined onto one line so the first text line stays the source. An
// empty target renders as a blank line.
func FormatBilingual(cues []Cue) string {
	return format(cues, true)
}

func format(cues []Cue, bilingual bool) string {
	var b strings.Builder
	for i, c := range cues {
		if i > 0 {
			b.WriteString("\n")
		}
		src := c.Source
		if bilingual {
			src = JoinLines(src)
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n", c.Index, FormatTimestamp(c.StartMS), FormatTimestamp(c.EndMS), src)
		if bilingual {
			b.WriteString(c.Target)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// JoinLines collapses a multi-line cue text onto one line, separating the
// trimmed lines with single spaces.
func JoinLines(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' })
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

// FormatTimestamp renders milliseconds as hh:mm:ss,mmm.
func FormatTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	h := ms / 3_600_000
	m := (ms / 60_000) % 60
	s := (ms / 1000) % 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}

// ParseTimestamp parses hh:mm:ss,mmm (a '.' separator is accepted).
func ParseTimestamp(ts string) (int64, error) {
	ts = strings.Replace(strings.TrimSpace(ts), ".", ",", 1)
	var h, m, s, ms int64
	if _, err := fmt.Sscanf(ts, "%d:%d:%d,%d", &h, &m, &s, &ms); err != nil {
		return 0, fault.Wrapf(fault.KindInvalidInput, "subtitle.timestamp", ts, err)
	}
	if m > 59 || s > 59 || ms > 999 {
		return 0, fault.New(fault.KindInvalidInput, "subtitle.timestamp", "out of range: "+ts)
	}
	return ((h*60+m)*60+s)*1000 + ms, nil
}

// ReadFile parses an SRT file from disk.
func ReadFile(path string) ([]Cue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrapf(fault.KindInvalidInput, "subtitle.read", path, err)
	}
	return Parse(string(data))
}

// WriteFile atomically replaces path with the rendered cues.
func WriteFile(path string, cues []Cue, bilingual bool) error {
	body := format(cues, bilingual)
	if err := renameio.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write srt %s: %w", path, err)
	}
	return nil
}
