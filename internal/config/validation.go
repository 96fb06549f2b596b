// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"

	"github.com/ManuGH/subforge/internal/validate"
)

// ErrUnknownConfigField is returned when the YAML file carries a key the
// schema does not know.
var ErrUnknownConfigField = errors.New("unknown config field")

// Validate checks a fully merged configuration.
func Validate(cfg CoreConfig) error {
	v := validate.New()

	v.Dir("scratch_dir", cfg.ScratchDir, true)
	v.NotEmpty("result_root", cfg.ResultRoot)
	if cfg.ModelDir != "" {
		v.Dir("model_dir", cfg.ModelDir, false)
	}
	v.OptionalURL("proxy_url", cfg.ProxyURL, "http", "https", "socks5")
	if cfg.LogLevel != "" {
		v.OneOf("log_level", cfg.LogLevel, "trace", "debug", "info", "warn", "error")
	}

	validate.Positive(v, "dispatcher.workers", cfg.Dispatcher.Workers)
	validate.Positive(v, "dispatcher.cloud_concurrency", cfg.Dispatcher.CloudConcurrency)

	v.OptionalURL("ledger.base_url", cfg.Ledger.BaseURL, "http", "https")
	validate.NonNegative(v, "ledger.refresh_window", cfg.Ledger.RefreshWindow)
	validate.Positive(v, "ledger.refresh_timeout", cfg.Ledger.RefreshTimeout)

	t := cfg.Translate
	validate.Positive(v, "translate.chunk_char_limit", t.ChunkCharLimit)
	validate.Positive(v, "translate.max_entries_per_chunk", t.MaxEntriesPerChunk)
	validate.Positive(v, "translate.summary_char_limit", t.SummaryCharLimit)
	validate.Positive(v, "translate.worker_cap", t.WorkerCap)
	validate.Positive(v, "translate.max_attempts", t.MaxAttempts)
	validate.NonNegative(v, "translate.line_char_cap", t.LineCharCap)
	validate.InRange(v, "translate.similarity_threshold", t.SimilarityThreshold, 0, 1)
	validate.NonNegative(v, "translate.retry_delay", t.RetryDelay)

	for name, p := range cfg.LLM.Providers {
		field := fmt.Sprintf("llm.providers.%s", name)
		v.URL(field+".base_url", p.BaseURL, "http", "https")
		v.NotEmpty(field+".model", p.Model)
		validate.InRange(v, field+".temperature", p.Temperature, 0, 2)
	}

	validate.InRange(v, "asr.max_span_ms", cfg.ASR.MaxSpanMS, 1, 30_000)
	v.OptionalURL("cloud_asr.base_url", cfg.CloudASR.BaseURL, "http", "https")
	v.Check(cfg.CloudASR.PollInterval > 0 && cfg.CloudASR.PollTimeout >= cfg.CloudASR.PollInterval,
		"cloud_asr.poll_interval", "must be > 0 and not exceed poll_timeout", cfg.CloudASR.PollInterval)

	validate.NonNegative(v, "billing.retry_attempts", cfg.Billing.RetryAttempts)
	v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, "grpc", "http")
	validate.InRange(v, "telemetry.sampling_rate", cfg.Telemetry.SamplingRate, 0, 1)
	v.OptionalURL("nlp.splitter_url", cfg.NLP.SplitterURL, "http", "https")

	return v.Err()
}
