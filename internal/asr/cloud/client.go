// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cloud submits uploaded audio to the remote recognition service
// and polls the job to completion.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/subforge/internal/config"
	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/log"
	"github.com/ManuGH/subforge/internal/metrics"
	"github.com/ManuGH/subforge/internal/netutil"
	"github.com/ManuGH/subforge/internal/objstore"
	"github.com/ManuGH/subforge/internal/subtitle"
	"github.com/ManuGH/subforge/internal/throttle"
)

// Provider is the gate key for cloud recognition calls.
const Provider = "cloud_asr"

const (
	maxBody      = 8 << 20
	callAttempts = 3
	callBackoff  = 500 * time.Millisecond
)

// Auth hands out bearer tokens for the service.
type Auth interface {
	AccessToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) (string, error)
}

// Uploader stores a local file and returns a URL the service can fetch.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
}

// Job statuses reported by the service.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

type jobStatus struct {
	Status    string  `json:"status"`
	Progress  float64 `json:"progress"`
	ResultURL string  `json:"result_url"`
	Error     string  `json:"error"`
}

// Client runs cloud recognition jobs.
type Client struct {
	baseURL      string
	http         *http.Client
	auth         Auth
	store        Uploader
	gate         *throttle.Gate
	pollInterval time.Duration
	pollTimeout  time.Duration
	logger       zerolog.Logger

	sleep func(context.Context, time.Duration) error
}

// New wires the client. gate may be nil in tests.
func New(cfg config.CloudASRConfig, httpClient *http.Client, auth Auth, store Uploader, gate *throttle.Gate) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		baseURL:      cfg.BaseURL,
		http:         httpClient,
		auth:         auth,
		store:        store,
		gate:         gate,
		pollInterval: cfg.PollInterval,
		pollTimeout:  cfg.PollTimeout,
		logger:       log.WithComponent("asr.cloud"),
		sleep:        sleepCtx,
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 5 * time.Second
	}
	if c.pollTimeout <= 0 {
		c.pollTimeout = 300 * time.Second
	}
	return c
}

// Upload stores the WAV under a task scoped key and returns its URL.
func (c *Client) Upload(ctx context.Context, taskID, wavPath string) (string, error) {
	if c.store == nil {
		return "", fault.New(fault.KindInvalidInput, "asr.upload", "object store is not configured")
	}
	url, err := c.store.Upload(ctx, wavPath, objstore.ObjectKey(taskID, wavPath))
	if err != nil {
		if ctx.Err() != nil {
			return "", fault.Wrap(fault.KindCancelled, "asr.upload", ctx.Err())
		}
		return "", fault.Wrap(fault.KindNetworkTransient, "asr.upload", err)
	}
	return url, nil
}

// Transcribe runs one remote job for audioURL and writes the resulting SRT
// to dst. progress receives the service's [0,1] progress.
func (c *Client) Transcribe(ctx context.Context, audioURL, language, dst string, progress func(float64)) error {
	const op = "asr.cloud"
	if c.baseURL == "" {
		return fault.New(fault.KindInvalidInput, op, "cloud ASR endpoint is not configured")
	}

	var created struct {
		JobID string `json:"job_id"`
	}
	body := map[string]string{"audio_url": audioURL, "language": language}
	if err := c.call(ctx, http.MethodPost, []string{"asr", "jobs"}, body, &created); err != nil {
		metrics.RecordCloudASRJob("submit_failed")
		return err
	}
	if created.JobID == "" {
		return fault.New(fault.KindInternal, op, "service returned no job id")
	}
	logger := c.logger.With().Str("job_id", created.JobID).Logger()
	logger.Info().Str(log.FieldEvent, "asr.cloud_submitted").Msg("cloud job submitted")

	resultURL, err := c.poll(ctx, created.JobID, progress)
	if err != nil {
		return err
	}

	cues, err := c.fetchResult(ctx, resultURL)
	if err != nil {
		return err
	}
	if err := subtitle.WriteFile(dst, cues, false); err != nil {
		return err
	}
	metrics.RecordCloudASRJob("succeeded")
	logger.Info().Str(log.FieldEvent, "asr.cloud_done").Int("cues", len(cues)).Msg("cloud job finished")
	return nil
}

func (c *Client) poll(ctx context.Context, jobID string, progress func(float64)) (string, error) {
	const op = "asr.cloud_poll"
	pollCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	last := 0.0
	for first := true; ; first = false {
		if !first {
			select {
			case <-pollCtx.Done():
				return "", c.pollAbort(ctx, op, pollCtx.Err())
			case <-ticker.C:
			}
		}
		var st jobStatus
		if err := c.call(pollCtx, http.MethodGet, []string{"asr", "jobs", jobID}, nil, &st); err != nil {
			if pollCtx.Err() != nil {
				return "", c.pollAbort(ctx, op, err)
			}
			if fault.Retriable(err) {
				c.logger.Warn().Err(err).Str("job_id", jobID).Msg("job status poll failed, retrying")
				continue
			}
			return "", err
		}

		if st.Progress > last && progress != nil {
			last = min(st.Progress, 1)
			progress(last)
		}
		switch st.Status {
		case StatusSucceeded:
			if st.ResultURL == "" {
				return "", fault.New(fault.KindInternal, op, "job succeeded without result url")
			}
			return st.ResultURL, nil
		case StatusFailed:
			metrics.RecordCloudASRJob("failed")
			return "", fault.New(fault.KindMediaDecode, op, "remote job failed: "+st.Error)
		}
	}
}

func (c *Client) pollAbort(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fault.Wrap(fault.KindCancelled, op, ctx.Err())
	}
	metrics.RecordCloudASRJob("timeout")
	return fault.Wrapf(fault.KindNetworkTransient, op, fmt.Sprintf("job did not finish within %s", c.pollTimeout), err)
}

func (c *Client) fetchResult(ctx context.Context, url string) ([]subtitle.Cue, error) {
	const op = "asr.cloud_result"
	var raw []byte
	err := c.retry(ctx, op, func() error {
		var err error
		raw, err = c.download(ctx, op, url)
		return err
	})
	if err != nil {
		return nil, err
	}
	cues, err := subtitle.Parse(string(raw))
	if err != nil {
		return nil, fault.Wrapf(fault.KindInternal, op, "result is not a valid SRT", err)
	}
	return cues, nil
}

func (c *Client) download(ctx context.Context, op, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, op, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, transportError(ctx, op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(op, resp.StatusCode, raw)
	}
	return raw, nil
}

// retry runs fn up to callAttempts times, backing off exponentially while
// it fails with a retriable kind.
func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= callAttempts; attempt++ {
		if attempt > 1 {
			if serr := c.sleep(ctx, callBackoff<<(attempt-2)); serr != nil {
				return fault.Wrap(fault.KindCancelled, op, serr)
			}
		}
		if err = fn(); err == nil || !fault.Retriable(err) {
			return err
		}
		c.logger.Warn().Err(err).Str(log.FieldEvent, op).Int(log.FieldAttempt, attempt).Msg("cloud request failed")
	}
	return err
}

// call performs an authenticated JSON request through the cloud gate,
// retrying transient failures. A 401 forces a token refresh and exactly one
// retry.
func (c *Client) call(ctx context.Context, method string, path []string, in, out any) error {
	op := "asr.cloud_" + method
	endpoint, err := netutil.JoinURL(c.baseURL, path...)
	if err != nil {
		return fault.Wrap(fault.KindInvalidInput, op, err)
	}
	return c.retry(ctx, op, func() error { return c.callOnce(ctx, op, method, endpoint, in, out) })
}

func (c *Client) callOnce(ctx context.Context, op, method, endpoint string, in, out any) error {
	if c.gate != nil {
		release, err := c.gate.Acquire(ctx, Provider)
		if err != nil {
			return fault.Wrap(fault.KindCancelled, op, err)
		}
		defer release()
	}

	token, err := c.auth.AccessToken(ctx)
	if err != nil {
		return err
	}
	status, raw, err := c.do(ctx, method, endpoint, token, in)
	if err == nil && status == http.StatusUnauthorized {
		c.logger.Info().Str(log.FieldEndpoint, endpoint).Msg("token rejected, refreshing once")
		if token, err = c.auth.ForceRefresh(ctx); err != nil {
			return err
		}
		status, raw, err = c.do(ctx, method, endpoint, token, in)
	}
	if err != nil {
		return transportError(ctx, op, err)
	}
	if status == http.StatusUnauthorized {
		return fault.New(fault.KindAuthentication, op, "token rejected after refresh")
	}
	if status < 200 || status >= 300 {
		return statusError(op, status, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fault.Wrapf(fault.KindInternal, op, "unexpected response body", err)
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint, token string, in any) (int, []byte, error) {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	return resp.StatusCode, raw, err
}

func transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return fault.Wrap(fault.KindCancelled, op, err)
	}
	return fault.Wrap(fault.KindNetworkTransient, op, err)
}

func statusError(op string, code int, body []byte) error {
	detail := fmt.Sprintf("status %d: %s", code, bytes.TrimSpace(body[:min(len(body), 256)]))
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fault.New(fault.KindAuthentication, op, detail)
	case code == http.StatusTooManyRequests || code >= 500:
		return fault.New(fault.KindNetworkTransient, op, detail)
	default:
		return fault.New(fault.KindInvalidInput, op, detail)
	}
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
