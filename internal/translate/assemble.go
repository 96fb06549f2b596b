// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package translate

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/ManuGH/subforge/internal/subtitle"
)

// wrapSlack is how far a break may drift from the line cap.
const wrapSlack = 5

// flatten joins a multi-line text into one line.
func flatten(s string) string { return subtitle.JoinLines(s) }

// fitCount pads with empty strings or truncates so len == n.
func fitCount(lines []string, n int) []string {
	if len(lines) >= n {
		return lines[:n]
	}
	out := make([]string, n)
	copy(out, lines)
	return out
}

// similarity is the difflib ratio between two texts compared rune by rune.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	m := difflib.NewMatcherWithJunk(runes(a), runes(b), false, nil)
	return m.Ratio()
}

func runes(s string) []string {
	out := make([]string, 0, utf8.RuneCountInString(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// isCJKLanguage reports whether lines in lang break at any codepoint.
func isCJKLanguage(lang string) bool {
	l := strings.ToLower(strings.TrimSpace(lang))
	for _, p := range []string{"zh", "ja", "ko", "chinese", "japanese", "korean", "中文", "日语", "日本語", "韩语", "한국어"} {
		if strings.HasPrefix(l, p) {
			return true
		}
	}
	return false
}

func isCJKRune(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// wrapLine inserts newlines so no line exceeds limit runes.
func wrapLine(s string, limit int, lang string) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	rs := []rune(s)
	cjk := isCJKLanguage(lang) || isCJKRune(rs[0])

	var lines []string
	for len(rs) > limit {
		cut := limit
		if !cjk {
			cut = breakPoint(rs, limit)
		}
		lines = append(lines, strings.TrimRightFunc(string(rs[:cut]), unicode.IsSpace))
		rs = []rune(strings.TrimLeftFunc(string(rs[cut:]), unicode.IsSpace))
	}
	if len(rs) > 0 {
		lines = append(lines, string(rs))
	}
	return strings.Join(lines, "\n")
}

// breakPoint finds the cut nearest limit that follows whitespace or
// punctuation, searching wrapSlack runes either side.
func breakPoint(rs []rune, limit int) int {
	for d := 0; d <= wrapSlack; d++ {
		for _, i := range []int{limit - d, limit + d} {
			if i <= 0 || i >= len(rs) {
				continue
			}
			prev := rs[i-1]
			if unicode.IsSpace(prev) || unicode.IsPunct(prev) {
				return i
			}
		}
	}
	return limit
}
