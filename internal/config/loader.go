// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvScratchDir        = "SUBFORGE_SCRATCH_DIR"
	EnvResultRoot        = "SUBFORGE_RESULT_ROOT"
	EnvModelDir          = "SUBFORGE_MODEL_DIR"
	EnvProxyURL          = "SUBFORGE_PROXY_URL"
	EnvLogLevel          = "SUBFORGE_LOG_LEVEL"
	EnvCredentialsFile   = "SUBFORGE_CREDENTIALS_FILE"
	EnvCredentialsSecret = "SUBFORGE_CREDENTIALS_PASSPHRASE"
	EnvWorkers           = "SUBFORGE_WORKERS"
	EnvCloudConcurrency  = "SUBFORGE_CLOUD_CONCURRENCY"
	EnvLedgerURL         = "SUBFORGE_LEDGER_URL"
	EnvLedgerSecret      = "SUBFORGE_LEDGER_SECRET"
	EnvRedisAddr         = "SUBFORGE_REDIS_ADDR"
	EnvTranslateChannel  = "SUBFORGE_TRANSLATE_CHANNEL"
	EnvLLMAPIKey         = "SUBFORGE_LLM_API_KEY"
	EnvReflect           = "SUBFORGE_REFLECT_TRANSLATE"
	EnvMemoDir           = "SUBFORGE_MEMO_DIR"
	EnvFFmpegBin         = "SUBFORGE_FFMPEG_BIN"
	EnvFFprobeBin        = "SUBFORGE_FFPROBE_BIN"
	EnvASREngineBin      = "SUBFORGE_ASR_ENGINE_BIN"
	EnvCloudASRURL       = "SUBFORGE_CLOUD_ASR_URL"
	EnvSplitterURL       = "SUBFORGE_NLP_SPLITTER_URL"
	EnvAPIListen         = "SUBFORGE_API_LISTEN"
	EnvTelemetryEnabled  = "SUBFORGE_TELEMETRY_ENABLED"
	EnvOTLPEndpoint      = "SUBFORGE_OTLP_ENDPOINT"
	EnvBillingRetryBase  = "SUBFORGE_BILLING_RETRY_BASE"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

// Path returns the config file path, empty when running from defaults and env.
func (l *Loader) Path() string { return l.configPath }

// Load loads configuration with precedence: ENV > File > Defaults, then validates.
func (l *Loader) Load() (CoreConfig, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	cfg.Version = l.version

	if abs, err := filepath.Abs(cfg.ScratchDir); err == nil {
		cfg.ScratchDir = abs
	}
	// Paths left at their defaults follow a relocated scratch dir.
	def := Default()
	if cfg.ResultRoot == "" || cfg.ResultRoot == def.ResultRoot {
		cfg.ResultRoot = filepath.Join(cfg.ScratchDir, "results")
	}
	if cfg.Ledger.HistoryDB == "" || cfg.Ledger.HistoryDB == def.Ledger.HistoryDB {
		cfg.Ledger.HistoryDB = filepath.Join(cfg.ScratchDir, "ledger.db")
	}
	if cfg.Translate.MemoDir == "" {
		cfg.Translate.MemoDir = filepath.Join(cfg.ScratchDir, "memo")
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file over cfg with strict parsing. Unknown fields
// are fatal.
func (l *Loader) loadFile(path string, cfg *CoreConfig) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "not found in type") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *CoreConfig) {
	cfg.ScratchDir = l.envString(EnvScratchDir, cfg.ScratchDir)
	cfg.ResultRoot = l.envString(EnvResultRoot, cfg.ResultRoot)
	cfg.ModelDir = l.envString(EnvModelDir, cfg.ModelDir)
	cfg.ProxyURL = l.envString(EnvProxyURL, cfg.ProxyURL)
	cfg.LogLevel = l.envString(EnvLogLevel, cfg.LogLevel)
	cfg.CredentialsFile = l.envString(EnvCredentialsFile, cfg.CredentialsFile)
	cfg.CredentialsPassphrase = l.envString(EnvCredentialsSecret, cfg.CredentialsPassphrase)

	cfg.Dispatcher.Workers = l.envInt(EnvWorkers, cfg.Dispatcher.Workers)
	cfg.Dispatcher.CloudConcurrency = l.envInt(EnvCloudConcurrency, cfg.Dispatcher.CloudConcurrency)

	cfg.Ledger.BaseURL = l.envString(EnvLedgerURL, cfg.Ledger.BaseURL)
	cfg.Ledger.Secret = l.envString(EnvLedgerSecret, cfg.Ledger.Secret)
	cfg.Ledger.RedisAddr = l.envString(EnvRedisAddr, cfg.Ledger.RedisAddr)

	cfg.Translate.DefaultChannel = l.envString(EnvTranslateChannel, cfg.Translate.DefaultChannel)
	cfg.Translate.Reflect = l.envBool(EnvReflect, cfg.Translate.Reflect)
	cfg.Translate.MemoDir = l.envString(EnvMemoDir, cfg.Translate.MemoDir)
	if key := l.envString(EnvLLMAPIKey, ""); key != "" {
		if cfg.LLM.Providers == nil {
			cfg.LLM.Providers = map[string]ProviderConfig{}
		}
		p := cfg.LLM.Providers[cfg.Translate.DefaultChannel]
		p.APIKey = key
		cfg.LLM.Providers[cfg.Translate.DefaultChannel] = p
	}

	cfg.Media.FFmpegBin = l.envString(EnvFFmpegBin, cfg.Media.FFmpegBin)
	cfg.Media.FFprobeBin = l.envString(EnvFFprobeBin, cfg.Media.FFprobeBin)
	cfg.ASR.EngineBin = l.envString(EnvASREngineBin, cfg.ASR.EngineBin)
	cfg.CloudASR.BaseURL = l.envString(EnvCloudASRURL, cfg.CloudASR.BaseURL)
	cfg.NLP.SplitterURL = l.envString(EnvSplitterURL, cfg.NLP.SplitterURL)
	cfg.API.ListenAddr = l.envString(EnvAPIListen, cfg.API.ListenAddr)
	cfg.Telemetry.Enabled = l.envBool(EnvTelemetryEnabled, cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = l.envString(EnvOTLPEndpoint, cfg.Telemetry.Endpoint)
	cfg.Billing.RetryBase = l.envDuration(EnvBillingRetryBase, cfg.Billing.RetryBase)
}
