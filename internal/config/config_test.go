// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "subforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvScratchDir, t.TempDir())

	cfg, err := NewLoader("", "v1.2.3").Load()
	require.NoError(t, err)

	assert.Equal(t, "v1.2.3", cfg.Version)
	assert.Equal(t, 2, cfg.Dispatcher.Workers)
	assert.Equal(t, 3, cfg.Dispatcher.CloudConcurrency)
	assert.Equal(t, 600, cfg.Translate.ChunkCharLimit)
	assert.Equal(t, 10, cfg.Translate.MaxEntriesPerChunk)
	assert.Equal(t, 8000, cfg.Translate.SummaryCharLimit)
	assert.True(t, cfg.Translate.Reflect)
	assert.Equal(t, 300*time.Second, cfg.Ledger.RefreshWindow)
	assert.Equal(t, 5*time.Second, cfg.CloudASR.PollInterval)
	assert.Equal(t, filepath.Join(cfg.ScratchDir, "results"), cfg.ResultRoot)
	assert.Equal(t, filepath.Join(cfg.ScratchDir, "memo"), cfg.Translate.MemoDir)
}

func TestLoadFileThenEnv(t *testing.T) {
	scratch := t.TempDir()
	path := writeConfig(t, `
scratch_dir: `+scratch+`
dispatcher:
  workers: 4
translate:
  chunk_char_limit: 300
  retry_delay: 250ms
llm:
  providers:
    deepseek:
      base_url: https://api.deepseek.com/v1
      model: deepseek-chat
      temperature: 0.3
`)
	t.Setenv(EnvWorkers, "6")
	t.Setenv(EnvTranslateChannel, "deepseek")
	t.Setenv(EnvLLMAPIKey, "sk-test")

	cfg, err := NewLoader(path, "dev").Load()
	require.NoError(t, err)

	assert.Equal(t, scratch, cfg.ScratchDir)
	assert.Equal(t, filepath.Join(scratch, "results"), cfg.ResultRoot)
	assert.Equal(t, filepath.Join(scratch, "ledger.db"), cfg.Ledger.HistoryDB)
	assert.Equal(t, 6, cfg.Dispatcher.Workers, "env wins over file")
	assert.Equal(t, 300, cfg.Translate.ChunkCharLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.Translate.RetryDelay)
	assert.Equal(t, 10, cfg.Translate.MaxEntriesPerChunk, "defaults survive partial files")
	require.Contains(t, cfg.LLM.Providers, "deepseek")
	require.Contains(t, cfg.LLM.Providers, "openai")
	assert.Equal(t, "sk-test", cfg.LLM.Providers["deepseek"].APIKey)
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeConfig(t, "scratch_dir: /tmp\nworkers: 3\n")
	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownConfigField)
}

func TestLoadRejectsMultiDocument(t *testing.T) {
	path := writeConfig(t, "log_level: info\n---\nlog_level: debug\n")
	_, err := NewLoader(path, "").Load()
	assert.ErrorContains(t, err, "multiple documents")
}

func TestLoadRejectsNonYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	_, err := NewLoader(path, "").Load()
	assert.ErrorContains(t, err, "only YAML")
}

func TestValidateCatchesBadValues(t *testing.T) {
	cfg := Default()
	cfg.ScratchDir = t.TempDir()
	cfg.Dispatcher.Workers = 0
	cfg.ProxyURL = "ftp://proxy"
	cfg.Translate.SimilarityThreshold = 1.2
	cfg.ASR.MaxSpanMS = 60_000

	err := Validate(cfg)
	require.Error(t, err)
	for _, field := range []string{"dispatcher.workers", "proxy_url", "translate.similarity_threshold", "asr.max_span_ms"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestHolderReloadNotifiesListeners(t *testing.T) {
	scratch := t.TempDir()
	path := writeConfig(t, "scratch_dir: "+scratch+"\ntranslate:\n  worker_cap: 2\n")
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)

	h := NewHolder(initial, loader)
	ch := make(chan CoreConfig, 1)
	h.RegisterListener(ch)

	require.NoError(t, os.WriteFile(path, []byte("scratch_dir: "+scratch+"\ntranslate:\n  worker_cap: 5\n"), 0o600))
	require.NoError(t, h.Reload(context.Background()))

	assert.Equal(t, 5, h.Get().Translate.WorkerCap)
	select {
	case got := <-ch:
		assert.Equal(t, 5, got.Translate.WorkerCap)
	default:
		t.Fatal("listener not notified")
	}
}

func TestHolderReloadKeepsOldConfigOnError(t *testing.T) {
	scratch := t.TempDir()
	path := writeConfig(t, "scratch_dir: "+scratch+"\n")
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)
	h := NewHolder(initial, loader)

	require.NoError(t, os.WriteFile(path, []byte("scratch_dir: "+scratch+"\ndispatcher:\n  workers: -1\n"), 0o600))
	require.Error(t, h.Reload(context.Background()))
	assert.Equal(t, 2, h.Get().Dispatcher.Workers)
}

func TestHolderWatcherPicksUpChanges(t *testing.T) {
	scratch := t.TempDir()
	path := writeConfig(t, "scratch_dir: "+scratch+"\nlog_level: info\n")
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)

	h := NewHolder(initial, loader)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.StartWatcher(ctx))

	require.NoError(t, os.WriteFile(path, []byte("scratch_dir: "+scratch+"\ntranslate:\n  max_attempts: 7\n"), 0o600))
	require.Eventually(t, func() bool {
		return h.Get().Translate.MaxAttempts == 7
	}, 5*time.Second, 50*time.Millisecond)
}
