// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package segment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/ManuGH/subforge/internal/fault"
)

// Splitter breaks a transcript into sentences. Implementations are optional
// and best effort.
type Splitter interface {
	Split(ctx context.Context, text, language string) ([]string, error)
}

// RemoteSplitter calls an NLP service: POST {text, language} -> {sentences}.
type RemoteSplitter struct {
	URL    string
	Client *http.Client
}

// NewRemoteSplitter returns a splitter for url using client (or a 10s default).
func NewRemoteSplitter(url string, client *http.Client) *RemoteSplitter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteSplitter{URL: url, Client: client}
}

func (r *RemoteSplitter) Split(ctx context.Context, text, language string) ([]string, error) {
	body, err := json.Marshal(map[string]string{"text": text, "language": language})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindNetworkTransient, "segment.split", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fault.New(fault.KindNetworkTransient, "segment.split", fmt.Sprintf("status %d", resp.StatusCode))
	}
	var out struct {
		Sentences []string `json:"sentences"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode splitter response: %w", err)
	}
	return out.Sentences, nil
}

// boundsFromSentences maps sentence ends onto token ends by counting
// non-space runes. It returns nil when the sentences do not reproduce the
// transcript.
func boundsFromSentences(tokens []token, sentences []string) []int {
	if len(sentences) == 0 || len(tokens) == 0 {
		return nil
	}
	var ends []int
	total := 0
	for _, s := range sentences {
		if n := visible(s); n > 0 {
			total += n
			ends = append(ends, total)
		}
	}

	bounds := []int{}
	acc, k := 0, 0
	for i, t := range tokens {
		acc += visible(t.text)
		if k < len(ends) && ends[k] < acc {
			return nil // sentence boundary inside a token
		}
		if k < len(ends) && ends[k] == acc {
			if i != len(tokens)-1 {
				bounds = append(bounds, i)
			}
			k++
		}
	}
	if acc != total || k != len(ends) {
		return nil
	}
	return bounds
}

func visible(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// sameText compares transcript and sentences ignoring whitespace.
func sameText(a string, b []string) bool {
	strip := func(s string) string {
		return strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, s)
	}
	return strip(a) == strip(strings.Join(b, ""))
}
