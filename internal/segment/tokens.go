// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/width"
)

// token is a word of the punctuated transcript. start/end are byte offsets
// into the original text so cue text keeps the original spacing.
type token struct {
	start, end int
	text       string
	timed      bool // consumes one word timestamp
	split      bool // ends with a clause punctuation mark
}

// splitMarks are the clause marks after width folding. Ideographic marks fold
// to their halfwidth forms.
const splitMarks = ",.!?:;｡､。、"

func isIdeographic(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana)
}

func isSplitMark(r rune) bool {
	narrow, _ := utf8.DecodeRuneInString(width.Narrow.String(string(r)))
	return strings.ContainsRune(splitMarks, narrow) || strings.ContainsRune(splitMarks, r)
}

// tokenize splits text into ideographs, whitespace-separated words and bare
// punctuation runs. Punctuation glued to a word stays part of that word.
func tokenize(text string) []token {
	var (
		tokens []token
		cur    = -1 // start offset of the open word, -1 when none
	)
	flush := func(end int) {
		if cur >= 0 {
			tokens = append(tokens, token{start: cur, end: end, text: text[cur:end], timed: true})
			cur = -1
		}
	}
	for i, r := range text {
		size := utf8.RuneLen(r)
		switch {
		case unicode.IsSpace(r):
			flush(i)
		case isIdeographic(r):
			flush(i)
			tokens = append(tokens, token{start: i, end: i + size, text: string(r), timed: true})
		case unicode.IsPunct(r) && cur < 0:
			// Bare punctuation; extend a preceding bare run if adjacent.
			if n := len(tokens); n > 0 && !tokens[n-1].timed && tokens[n-1].end == i {
				tokens[n-1].end = i + size
				tokens[n-1].text = text[tokens[n-1].start:tokens[n-1].end]
				continue
			}
			tokens = append(tokens, token{start: i, end: i + size, text: string(r)})
		default:
			if cur < 0 {
				cur = i
			}
		}
	}
	flush(len(text))

	for i := range tokens {
		last, _ := utf8.DecodeLastRuneInString(tokens[i].text)
		tokens[i].split = isSplitMark(last)
		if tokens[i].timed && !hasWordRune(tokens[i].text) {
			// "..." or "--" written with spaces around it.
			tokens[i].timed = false
		}
	}
	return tokens
}

func hasWordRune(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return true
		}
	}
	return false
}

// bare strips surrounding punctuation and lowercases, for marker lookup.
func bare(s string) string {
	return strings.ToLower(strings.TrimFunc(s, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) }))
}

var discourseMarkers = map[string]bool{
	"and": true, "but": true, "so": true, "because": true, "which": true, "that": true,
	"when": true, "while": true, "although": true, "however": true, "then": true, "or": true,
	"但是": true, "所以": true, "因为": true, "然后": true, "而且": true,
	"但": true, "而": true,
}
