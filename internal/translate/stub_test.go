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
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subforge/internal/config"
	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/llm"
)

// stubChat answers terminology, faithful and reflective prompts using tr.
// hook, when set, may replace any reply; returning handled=false falls
// through to the default answer.
type stubChat struct {
	tr   func(string) string
	hook func(call int, kind string, msgs []llm.Message) (reply string, err error, handled bool)

	mu    sync.Mutex
	calls map[string]int
	total int
}

func newStub(tr func(string) string) *stubChat {
	return &stubChat{tr: tr, calls: map[string]int{}}
}

func (s *stubChat) Name() string  { return "stub" }
func (s *stubChat) Model() string { return "stub-model" }

func (s *stubChat) Get(string) (llm.Chatter, error) { return s, nil }

func (s *stubChat) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[kind]
}

func promptKind(msgs []llm.Message) string {
	sys := msgs[0].Content
	switch {
	case strings.HasPrefix(sys, "You are a subtitle localisation expert"):
		return "terminology"
	case strings.Contains(sys, "senior subtitle editor"):
		return passReflective
	default:
		return passFaithful
	}
}

func (s *stubChat) Chat(ctx context.Context, msgs []llm.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	kind := promptKind(msgs)
	s.mu.Lock()
	s.calls[kind]++
	s.total++
	call := s.total
	s.mu.Unlock()

	if s.hook != nil {
		if reply, err, handled := s.hook(call, kind, msgs); handled {
			return reply, err
		}
	}
	return s.answer(kind, msgs), nil
}

func (s *stubChat) answer(kind string, msgs []llm.Message) string {
	if kind == "terminology" {
		return "```json\n{\"theme\": \"small talk\", \"terms\": [{\"src\": \"world\", \"tgt\": \"世界\", \"note\": \"\"}]}\n```"
	}
	lines := requestLines(msgs)
	out := map[string]map[string]string{}
	for k, n := range lines {
		entry := map[string]string{"origin": n.Origin, "direct": s.tr(n.Origin)}
		if kind == passReflective {
			entry["reflect"] = "fine"
			entry["free"] = s.tr(n.Origin)
		}
		out[k] = entry
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func requestLines(msgs []llm.Message) map[string]numbered {
	body := msgs[len(msgs)-1].Content
	_, payload, _ := strings.Cut(body, "Lines to translate:\n")
	var lines map[string]numbered
	_ = json.Unmarshal([]byte(payload), &lines)
	return lines
}

func replyFor(lines map[string]numbered, n int, tr func(string) string) string {
	keys := make([]int, 0, len(lines))
	for k := range lines {
		i, _ := strconv.Atoi(k)
		keys = append(keys, i)
	}
	sort.Ints(keys)
	out := map[string]map[string]string{}
	for i := 0; i < n && i < len(keys); i++ {
		o := lines[strconv.Itoa(keys[i])].Origin
		out[strconv.Itoa(i+1)] = map[string]string{"origin": o, "direct": tr(o), "free": tr(o)}
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func testConfig() config.TranslateConfig {
	return config.TranslateConfig{
		ChunkCharLimit:      600,
		MaxEntriesPerChunk:  10,
		SummaryCharLimit:    8000,
		Reflect:             true,
		WorkerCap:           3,
		MaxAttempts:         5,
		RetryDelay:          time.Second,
		SimilarityThreshold: 0.8,
		DefaultChannel:      "stub",
	}
}

func newTestTranslator(t *testing.T, cfg config.TranslateConfig, chat *stubChat, memo *Memo) (*Translator, *[]time.Duration) {
	t.Helper()
	tr := New(cfg, chat, memo)
	var mu sync.Mutex
	var sleeps []time.Duration
	tr.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		sleeps = append(sleeps, d)
		mu.Unlock()
		return ctx.Err()
	}
	return tr, &sleeps
}

func writeSRT(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.srt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func manyCues(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d\n00:00:%02d,000 --> 00:00:%02d,500\nline number %d\n", i+1, i, i, i+1)
	}
	return b.String()
}

func identity(s string) string { return s }

var errTransient = fault.New(fault.KindNetworkTransient, "llm.chat", "upstream 503")
