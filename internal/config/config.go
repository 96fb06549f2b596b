// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the construction-time CoreConfig record.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// CoreConfig is passed explicitly into every component at construction.
type CoreConfig struct {
	Version string `yaml:"-"`

	ScratchDir      string `yaml:"scratch_dir"`
	ResultRoot      string `yaml:"result_root"`
	ModelDir        string `yaml:"model_dir"`
	ProxyURL        string `yaml:"proxy_url"`
	CredentialsFile string `yaml:"credentials_file"`
	LogLevel        string `yaml:"log_level"`

	// CredentialsPassphrase is read from the environment only.
	CredentialsPassphrase string `yaml:"-"`

	Dispatcher  DispatcherConfig  `yaml:"dispatcher"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Translate   TranslateConfig   `yaml:"translate"`
	LLM         LLMConfig         `yaml:"llm"`
	ASR         ASRConfig         `yaml:"asr"`
	CloudASR    CloudASRConfig    `yaml:"cloud_asr"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Media       MediaConfig       `yaml:"media"`
	Billing     BillingConfig     `yaml:"billing"`
	Cost        CostConfig        `yaml:"cost"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	API         APIConfig         `yaml:"api"`
	NLP         NLPConfig         `yaml:"nlp"`
}

type DispatcherConfig struct {
	Workers          int `yaml:"workers"`
	CloudConcurrency int `yaml:"cloud_concurrency"`
}

type LedgerConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Secret          string        `yaml:"secret"`
	RefreshWindow   time.Duration `yaml:"refresh_window"`
	RefreshTimeout  time.Duration `yaml:"refresh_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	CoefficientsTTL time.Duration `yaml:"coefficients_ttl"`
	RedisAddr       string        `yaml:"redis_addr"`
	RedisPassword   string        `yaml:"redis_password"`
	RedisDB         int           `yaml:"redis_db"`
	HistoryDB       string        `yaml:"history_db"`
}

// TranslateConfig fields are hot reloadable; new documents pick them up.
type TranslateConfig struct {
	ChunkCharLimit      int           `yaml:"chunk_char_limit"`
	MaxEntriesPerChunk  int           `yaml:"max_entries_per_chunk"`
	SummaryCharLimit    int           `yaml:"summary_char_limit"`
	Reflect             bool          `yaml:"reflect"`
	WorkerCap           int           `yaml:"worker_cap"`
	MaxAttempts         int           `yaml:"max_attempts"`
	RetryDelay          time.Duration `yaml:"retry_delay"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	LineCharCap         int           `yaml:"line_char_cap"`
	MemoDir             string        `yaml:"memo_dir"`
	DefaultChannel      string        `yaml:"default_channel"`
}

type LLMConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	Temperature   float64       `yaml:"temperature"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second"`
}

type ASRConfig struct {
	EngineBin     string `yaml:"engine_bin"`
	DefaultModel  string `yaml:"default_model"`
	MaxSpanMS     int64  `yaml:"max_span_ms"`
	MinDurationMS int64  `yaml:"min_duration_ms"`
	MinWords      int    `yaml:"min_words_per_side"`
	MaxWordsCue   int    `yaml:"max_words_per_cue"`
}

type CloudASRConfig struct {
	BaseURL      string        `yaml:"base_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
}

type ObjectStoreConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	UseSSL          bool          `yaml:"use_ssl"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	PresignExpiry   time.Duration `yaml:"presign_expiry"`
}

type MediaConfig struct {
	FFmpegBin  string `yaml:"ffmpeg_bin"`
	FFprobeBin string `yaml:"ffprobe_bin"`
}

type BillingConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBase     time.Duration `yaml:"retry_base"`
}

type CostConfig struct {
	CharsPerSecond float64 `yaml:"chars_per_second_estimate"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Environment  string  `yaml:"environment"`
}

type APIConfig struct {
	ListenAddr         string `yaml:"listen_addr"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

type NLPConfig struct {
	SplitterURL string `yaml:"splitter_url"`
}

// Default returns the built-in configuration.
func Default() CoreConfig {
	scratch := filepath.Join(os.TempDir(), "subforge")
	if dir, err := os.UserCacheDir(); err == nil {
		scratch = filepath.Join(dir, "subforge")
	}
	return CoreConfig{
		ScratchDir: scratch,
		ResultRoot: filepath.Join(scratch, "results"),
		LogLevel:   "info",
		Dispatcher: DispatcherConfig{Workers: 2, CloudConcurrency: 3},
		Ledger: LedgerConfig{
			RefreshWindow:   300 * time.Second,
			RefreshTimeout:  15 * time.Second,
			RequestTimeout:  30 * time.Second,
			CoefficientsTTL: 10 * time.Minute,
			HistoryDB:       filepath.Join(scratch, "ledger.db"),
		},
		Translate: TranslateConfig{
			ChunkCharLimit:      600,
			MaxEntriesPerChunk:  10,
			SummaryCharLimit:    8000,
			Reflect:             true,
			WorkerCap:           3,
			MaxAttempts:         5,
			RetryDelay:          time.Second,
			SimilarityThreshold: 0.8,
			DefaultChannel:      "openai",
		},
		LLM: LLMConfig{Providers: map[string]ProviderConfig{
			"openai": {
				BaseURL:     "https://api.openai.com/v1",
				Model:       "gpt-4o-mini",
				Temperature: 0.3,
				Timeout:     300 * time.Second,
			},
		}},
		ASR: ASRConfig{
			EngineBin:     "subforge-asr",
			DefaultModel:  "base",
			MaxSpanMS:     30_000,
			MinDurationMS: 2500,
			MinWords:      5,
			MaxWordsCue:   40,
		},
		CloudASR: CloudASRConfig{PollInterval: 5 * time.Second, PollTimeout: 300 * time.Second},
		ObjectStore: ObjectStoreConfig{
			Bucket:        "subforge-audio",
			Region:        "us-east-1",
			UseSSL:        true,
			PresignExpiry: time.Hour,
		},
		Media:     MediaConfig{FFmpegBin: "ffmpeg", FFprobeBin: "ffprobe"},
		Billing:   BillingConfig{RetryAttempts: 3, RetryBase: 2 * time.Second},
		Cost:      CostConfig{CharsPerSecond: 15},
		Telemetry: TelemetryConfig{Exporter: "grpc", SamplingRate: 1.0, Environment: "desktop"},
		API:       APIConfig{ListenAddr: "127.0.0.1:8765", RateLimitPerMinute: 120},
	}
}

// TaskFile returns the persistence file path for the given store name.
func (c CoreConfig) TaskFile(name string) string {
	return filepath.Join(c.ScratchDir, name)
}
