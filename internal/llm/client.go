// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package llm is a provider-agnostic chat-completion client.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/log"
	"github.com/ManuGH/subforge/internal/metrics"
	"github.com/ManuGH/subforge/internal/netutil"
	"github.com/ManuGH/subforge/internal/resilience"
	"github.com/ManuGH/subforge/internal/telemetry"
	"github.com/ManuGH/subforge/internal/throttle"
)

const (
	RoleSystem = "system"
	RoleUser   = "user"

	DefaultTemperature = 0.3
	DefaultTimeout     = 300 * time.Second
	maxErrorBody       = 512
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider describes one configured endpoint.
type Provider struct {
	Name          string
	BaseURL       string
	APIKey        string
	Model         string
	Temperature   float64
	Timeout       time.Duration
	RatePerSecond float64
}

// Options tune retry behaviour. MaxAttempts 1 leaves retrying to the caller.
type Options struct {
	MaxAttempts int
	RetryBase   time.Duration
}

// Chatter is the surface the translator depends on.
type Chatter interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	Name() string
	Model() string
}

// Client talks to one provider. Safe for concurrent use.
type Client struct {
	p       Provider
	http    *http.Client
	gate    *throttle.Gate
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	opts    Options
	logger  zerolog.Logger
	sleep   func(context.Context, time.Duration) error
}

// NewClient wires a provider client. gate may be nil in tests.
func NewClient(p Provider, httpClient *http.Client, gate *throttle.Gate, opts Options) *Client {
	if p.Temperature == 0 {
		p.Temperature = DefaultTemperature
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Second
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		p:       p,
		http:    httpClient,
		gate:    gate,
		opts:    opts,
		breaker: resilience.NewCircuitBreaker("llm."+p.Name, 5, 30*time.Second),
		logger:  log.WithComponent("llm").With().Str(log.FieldProvider, p.Name).Logger(),
		sleep:   sleepCtx,
	}
	if p.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(p.RatePerSecond), 1)
	}
	return c
}

func (c *Client) Name() string  { return c.p.Name }
func (c *Client) Model() string { return c.p.Model }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Chat sends messages and returns the first choice's content. Transient
// failures are retried with exponential backoff up to MaxAttempts.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, error) {
	if strings.TrimSpace(c.p.APIKey) == "" {
		return "", fault.New(fault.KindAPIKeyMissing, "llm.chat", c.p.Name)
	}

	ctx, span := telemetry.StartSpan(ctx, "llm.chat")
	span.SetAttributes(telemetry.LLMAttributes(c.p.Name, c.p.Model)...)

	var (
		out string
		err error
	)
	delay := c.opts.RetryBase
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		out, err = c.attempt(ctx, messages)
		if err == nil || !fault.Retriable(err) || attempt == c.opts.MaxAttempts {
			break
		}
		c.logger.Warn().Err(err).Int(log.FieldAttempt, attempt).Dur("backoff", delay).Msg("llm call failed, retrying")
		if serr := c.sleep(ctx, delay); serr != nil {
			err = serr
			break
		}
		delay *= 2
	}
	telemetry.EndSpan(span, err)
	return out, err
}

func (c *Client) attempt(ctx context.Context, messages []Message) (string, error) {
	if c.gate != nil {
		release, err := c.gate.Acquire(ctx, c.p.Name)
		if err != nil {
			return "", err
		}
		defer release()
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	var out string
	start := time.Now()
	err := c.breaker.Execute(func() error {
		var err error
		out, err = c.do(ctx, messages)
		return err
	})
	metrics.RecordLLMRequest(c.p.Name, outcome(err), time.Since(start))
	return out, err
}

func (c *Client) do(ctx context.Context, messages []Message) (string, error) {
	endpoint, err := netutil.JoinURL(c.p.BaseURL, "chat", "completions")
	if err != nil {
		return "", fault.Wrap(fault.KindInvalidInput, "llm.chat", err)
	}
	body, err := json.Marshal(chatRequest{Model: c.p.Model, Messages: messages, Temperature: c.p.Temperature})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.p.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.p.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return "", err
		}
		return "", fault.Wrap(fault.KindNetworkTransient, "llm.chat", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fault.Wrap(fault.KindNetworkTransient, "llm.chat", err)
	}
	if err := statusError(resp.StatusCode, raw); err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fault.Wrapf(fault.KindLLMMalformed, "llm.chat", "response is not a chat completion", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fault.New(fault.KindLLMMalformed, "llm.chat", "no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func statusError(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	detail := fmt.Sprintf("status %d: %s", code, truncate(string(body), maxErrorBody))
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fault.New(fault.KindAPIKeyMissing, "llm.chat", detail)
	case code == http.StatusTooManyRequests || code >= 500:
		return fault.New(fault.KindNetworkTransient, "llm.chat", detail)
	default:
		return fault.New(fault.KindInvalidInput, "llm.chat", detail)
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(fault.KindOf(err))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
