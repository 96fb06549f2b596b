// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package app is the composition root: it builds every component from a
// CoreConfig and runs the long-lived pieces together.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/subforge/internal/api"
	"github.com/ManuGH/subforge/internal/asr/cloud"
	"github.com/ManuGH/subforge/internal/asr/local"
	"github.com/ManuGH/subforge/internal/bus"
	"github.com/ManuGH/subforge/internal/cache"
	"github.com/ManuGH/subforge/internal/config"
	"github.com/ManuGH/subforge/internal/credentials"
	"github.com/ManuGH/subforge/internal/dispatch"
	"github.com/ManuGH/subforge/internal/health"
	"github.com/ManuGH/subforge/internal/ledger"
	"github.com/ManuGH/subforge/internal/llm"
	"github.com/ManuGH/subforge/internal/log"
	"github.com/ManuGH/subforge/internal/media"
	"github.com/ManuGH/subforge/internal/netutil"
	"github.com/ManuGH/subforge/internal/objstore"
	"github.com/ManuGH/subforge/internal/pipeline"
	"github.com/ManuGH/subforge/internal/segment"
	"github.com/ManuGH/subforge/internal/tasks"
	"github.com/ManuGH/subforge/internal/telemetry"
	"github.com/ManuGH/subforge/internal/throttle"
	"github.com/ManuGH/subforge/internal/translate"
)

const serviceName = "subforge"

// Options select where configuration comes from.
type Options struct {
	ConfigPath string
	Version    string
}

// Container holds the wired graph. Close releases what Wire opened.
type Container struct {
	Config     config.CoreConfig
	Holder     *config.Holder
	Ledger     *ledger.Client
	Tasks      *tasks.Manager
	Bus        *bus.Bus
	Dispatcher *dispatch.Dispatcher
	Translator *translate.Translator
	LLM        *llm.Registry
	Health     *health.Manager

	version   string
	logger    zerolog.Logger
	telemetry *telemetry.Provider
	cache     cache.Cache
	history   *ledger.History
	memo      *translate.Memo
}

// Wire loads configuration and builds every component. Nothing is started.
func Wire(ctx context.Context, opts Options) (*Container, error) {
	loader := config.NewLoader(opts.ConfigPath, opts.Version)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if cfg.CredentialsFile != "" {
		creds, err := credentials.Load(cfg.CredentialsFile, cfg.CredentialsPassphrase)
		if err != nil {
			return nil, fmt.Errorf("load credentials: %w", err)
		}
		creds.Apply(&cfg)
	}

	log.Reconfigure(log.Config{Level: cfg.LogLevel, Service: serviceName, Version: opts.Version})
	logger := log.WithComponent("app")
	logger.Info().
		Str(log.FieldEvent, "config.loaded").
		Str(log.FieldPath, loader.Path()).
		Str("scratch_dir", cfg.ScratchDir).
		Msg("configuration loaded")

	c := &Container{Config: cfg, version: opts.Version, logger: logger}
	if err := c.wire(ctx, loader); err != nil {
		_ = c.Close(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *Container) wire(ctx context.Context, loader *config.Loader) error {
	cfg := c.Config
	for _, dir := range []string{cfg.ScratchDir, cfg.ResultRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: c.version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	c.telemetry = tp

	c.cache = c.openCache(ctx)
	c.history, err = ledger.OpenHistory(ctx, cfg.Ledger.HistoryDB)
	if err != nil {
		return fmt.Errorf("open ledger history: %w", err)
	}
	ledgerHTTP, err := c.httpClient("ledger", cfg.Ledger.RequestTimeout)
	if err != nil {
		return err
	}
	c.Ledger, err = ledger.New(ledger.Options{
		Config:      cfg.Ledger,
		HTTP:        ledgerHTTP,
		Cache:       c.cache,
		History:     c.history,
		SessionPath: filepath.Join(cfg.ScratchDir, "session.json"),
	})
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}

	gate := throttle.NewGate(cfg.Dispatcher.CloudConcurrency)

	// Provider clients carry their own per-request timeout.
	llmHTTP, err := c.httpClient("llm", -1)
	if err != nil {
		return err
	}
	// The translator owns chunk retries, so the client makes one attempt.
	c.LLM = llm.NewRegistry(cfg.LLM, llmHTTP, gate, llm.Options{MaxAttempts: 1})

	memoDir := cfg.Translate.MemoDir
	if memoDir == "" {
		memoDir = filepath.Join(cfg.ScratchDir, "memo")
	}
	if c.memo, err = translate.OpenMemo(memoDir); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldPath, memoDir).Msg("translation memo unavailable")
		c.memo = nil
	}
	c.Translator = translate.New(cfg.Translate, c.LLM, c.memo)

	runner := media.ExecRunner{Grace: 3 * time.Second}
	prober := media.New(cfg.Media, runner)

	var splitter segment.Splitter
	if cfg.NLP.SplitterURL != "" {
		nlpHTTP, err := c.httpClient("nlp", 0)
		if err != nil {
			return err
		}
		splitter = segment.NewRemoteSplitter(cfg.NLP.SplitterURL, nlpHTTP)
	}
	builder := segment.NewBuilder(segment.Options{
		MinWordsPerSide: cfg.ASR.MinWords,
		MinDurationMS:   cfg.ASR.MinDurationMS,
		MaxWordsPerCue:  cfg.ASR.MaxWordsCue,
	}, splitter)
	localASR := local.New(&local.CommandEngine{Bin: cfg.ASR.EngineBin, ModelDir: cfg.ModelDir, Runner: runner}, builder, cfg.ASR)

	cloudHTTP, err := c.httpClient("cloud_asr", 0)
	if err != nil {
		return err
	}
	var uploader cloud.Uploader
	if cfg.ObjectStore.Endpoint != "" {
		store, err := objstore.New(objstore.Config{
			Endpoint:        cfg.ObjectStore.Endpoint,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UseSSL:          cfg.ObjectStore.UseSSL,
			Bucket:          cfg.ObjectStore.Bucket,
			Region:          cfg.ObjectStore.Region,
			PresignExpiry:   cfg.ObjectStore.PresignExpiry,
		})
		if err != nil {
			return fmt.Errorf("object store: %w", err)
		}
		uploader = store
	}
	cloudASR := cloud.New(cfg.CloudASR, cloudHTTP, c.Ledger, uploader, gate)

	factory := pipeline.NewFactory(pipeline.Deps{
		Prober:         prober,
		LocalASR:       localASR,
		CloudASR:       cloudASR,
		Translator:     c.Translator,
		Pricing:        c.Ledger,
		CharsPerSecond: cfg.Cost.CharsPerSecond,
	})

	c.Bus = bus.New()
	c.Dispatcher = dispatch.New(cfg.Dispatcher.Workers)
	c.Tasks = tasks.New(tasks.Config{
		ScratchDir:      cfg.ScratchDir,
		ResultRoot:      cfg.ResultRoot,
		DefaultModel:    cfg.ASR.DefaultModel,
		BillingAttempts: cfg.Billing.RetryAttempts,
		BillingBase:     cfg.Billing.RetryBase,
	}, tasks.Deps{Ledger: c.Ledger, Queue: c.Dispatcher, Bus: c.Bus, Pipelines: factory})

	c.Holder = config.NewHolder(cfg, loader)
	c.Health = health.NewManager(c.version)
	c.Health.Register(health.NewDirChecker("scratch_dir", cfg.ScratchDir))
	c.Health.Register(health.NewDirChecker("result_root", cfg.ResultRoot))
	if rc, ok := c.cache.(*cache.RedisCache); ok {
		c.Health.Register(health.NewFuncChecker("redis", health.StatusDegraded, rc.HealthCheck))
	}
	c.Health.Register(health.NewFuncChecker("session", health.StatusDegraded, func(context.Context) error {
		if _, ok := c.Ledger.Session(); !ok {
			return errors.New("not signed in")
		}
		return nil
	}))
	return nil
}

func (c *Container) openCache(ctx context.Context) cache.Cache {
	lc := c.Config.Ledger
	if lc.RedisAddr == "" {
		return cache.NewMemoryCache(time.Minute)
	}
	rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{Addr: lc.RedisAddr, Password: lc.RedisPassword, DB: lc.RedisDB}, c.logger)
	if err != nil {
		c.logger.Warn().Err(err).Str("addr", lc.RedisAddr).Msg("redis unavailable, using in-memory cache")
		return cache.NewMemoryCache(time.Minute)
	}
	return rc
}

func (c *Container) httpClient(span string, timeout time.Duration) (*http.Client, error) {
	client, err := netutil.NewClient(netutil.ClientOptions{Timeout: timeout, ProxyURL: c.Config.ProxyURL, SpanName: span})
	if err != nil {
		return nil, fmt.Errorf("%s http client: %w", span, err)
	}
	return client, nil
}

// Start restores persisted tasks and starts the workers. Used by one-shot
// CLI commands that do not serve the API.
func (c *Container) Start(ctx context.Context) error {
	c.Dispatcher.Start(ctx)
	return c.Tasks.Restore(ctx)
}

// Serve runs the workers, the config watcher and the control API until ctx
// is cancelled or one of them fails.
func (c *Container) Serve(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)

	if c.Holder != nil {
		updates := make(chan config.CoreConfig, 1)
		c.Holder.RegisterListener(updates)
		if err := c.Holder.StartWatcher(gctx); err != nil {
			c.logger.Warn().Err(err).Msg("config watcher disabled")
		}
		g.Go(func() error {
			c.applyReloads(gctx, updates)
			return nil
		})
	}

	srv := api.New(api.Config{
		ListenAddr:         c.Config.API.ListenAddr,
		RateLimitPerMinute: c.Config.API.RateLimitPerMinute,
		TracingService:     tracingService(c.Config.Telemetry.Enabled),
		Version:            c.version,
	}, c.Tasks, c.Bus, c.Health)
	g.Go(func() error { return srv.ListenAndServe(gctx) })

	return g.Wait()
}

func tracingService(enabled bool) string {
	if enabled {
		return serviceName
	}
	return ""
}

// applyReloads pushes hot-reloadable settings to running components. Jobs
// already in flight keep the settings they started with.
func (c *Container) applyReloads(ctx context.Context, updates <-chan config.CoreConfig) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-updates:
			c.Translator.SetConfig(cfg.Translate)
			c.LLM.Update(cfg.LLM)
			if !log.SetLevel(cfg.LogLevel) {
				c.logger.Warn().Str("level", cfg.LogLevel).Msg("ignoring invalid log level")
			}
			c.logger.Info().Str(log.FieldEvent, "config.applied").Msg("reloaded settings applied")
		}
	}
}

// Close stops workers and background billing, then releases storage and
// exporters. It is safe on a partially wired container.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.Dispatcher != nil {
		errs = append(errs, c.Dispatcher.Stop(ctx))
	}
	if c.Tasks != nil {
		errs = append(errs, c.Tasks.Close(ctx))
	}
	if c.Bus != nil {
		c.Bus.Close()
	}
	if c.memo != nil {
		errs = append(errs, c.memo.Close())
	}
	if c.history != nil {
		errs = append(errs, c.history.Close())
	}
	if c.cache != nil {
		errs = append(errs, c.cache.Close())
	}
	if c.telemetry != nil {
		errs = append(errs, c.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
