// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ledger talks to the remote credit service: session handling,
// balance and price queries, signed debits, and recharge orders. Debits
// are mirrored into a local SQLite log keyed by order id.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/subforge/internal/cache"
	"github.com/ManuGH/subforge/internal/config"
	"github.com/ManuGH/subforge/internal/domain"
	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/log"
	"github.com/ManuGH/subforge/internal/metrics"
	"github.com/ManuGH/subforge/internal/netutil"
)

const (
	maxBody        = 1 << 20
	coefficientKey = "ledger:coefficients"
	callAttempts   = 3
	callBackoff    = 500 * time.Millisecond
)

// Options wires a Client. Cache, History and SessionPath are optional.
type Options struct {
	Config      config.LedgerConfig
	HTTP        *http.Client
	Cache       cache.Cache
	History     *History
	SessionPath string
}

// Client talks to the remote credit ledger. It owns the login session,
// refreshes tokens ahead of expiry and mirrors debits into the local History.
type Client struct {
	cfg     config.LedgerConfig
	http    *http.Client
	cache   cache.Cache
	history *History
	store   SessionStore
	logger  zerolog.Logger

	mu      sync.Mutex
	session *Session
	refresh singleflight.Group

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New builds a client and loads a persisted session if one exists.
func New(opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = 300 * time.Second
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 15 * time.Second
	}
	if cfg.CoefficientsTTL <= 0 {
		cfg.CoefficientsTTL = 10 * time.Minute
	}
	c := &Client{
		cfg:     cfg,
		http:    opts.HTTP,
		cache:   opts.Cache,
		history: opts.History,
		store:   NewSessionStore(opts.SessionPath),
		logger:  log.WithComponent("ledger"),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if c.cache == nil {
		c.cache = cache.NewMemoryCache(time.Minute)
	}
	sess, err := c.store.Load()
	if err != nil {
		c.logger.Warn().Err(err).Msg("ignoring unreadable session file")
	}
	c.session = sess
	return c, nil
}

// LocalHistory exposes the transaction log, nil when not configured.
func (c *Client) LocalHistory() *History { return c.history }

// Session returns a copy of the current session.
func (c *Client) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

func (c *Client) setSession(s Session) {
	c.mu.Lock()
	c.session = &s
	c.mu.Unlock()
	if err := c.store.Save(s); err != nil {
		c.logger.Warn().Err(err).Msg("failed to persist session")
	}
}

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	const op = "ledger.login"
	var resp authReply
	status, raw, err := c.send(ctx, http.MethodPost, c.endpoint("auth", "login"), "", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		c.record("login", err)
		return Session{}, transportError(ctx, op, err)
	}
	if err := expect(op, status, raw, &resp); err != nil {
		c.record("login", err)
		return Session{}, err
	}
	sess, err := resp.Session.session(c.now(), nil)
	if err != nil {
		return Session{}, fault.Wrap(fault.KindAuthentication, op, err)
	}
	c.record("login", nil)
	c.setSession(sess)
	c.logger.Info().Str(log.FieldEvent, "ledger.login").Str("user_id", sess.UserID).Msg("signed in")
	return sess, nil
}

// Logout forgets the session locally.
func (c *Client) Logout() error {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	c.cache.Delete(context.Background(), coefficientKey)
	return c.store.Clear()
}

// AccessToken returns a token that is valid for at least the refresh window.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	return c.EnsureValidToken(ctx)
}

// EnsureValidToken refreshes the session when it is inside the refresh
// window. Concurrent callers share a single refresh.
func (c *Client) EnsureValidToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return "", fault.New(fault.KindAuthentication, "ledger.token", "not signed in")
	}
	if !sess.NeedsRefresh(c.now(), c.cfg.RefreshWindow) {
		return sess.AccessToken, nil
	}
	return c.doRefresh(ctx, sess.AccessToken, false)
}

// ForceRefresh replaces a token the server rejected.
func (c *Client) ForceRefresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return "", fault.New(fault.KindAuthentication, "ledger.token", "not signed in")
	}
	return c.doRefresh(ctx, sess.AccessToken, true)
}

func (c *Client) doRefresh(ctx context.Context, stale string, force bool) (string, error) {
	ch := c.refresh.DoChan("refresh", func() (any, error) {
		return c.refreshOnce(ctx, stale, force)
	})
	select {
	case <-ctx.Done():
		return "", fault.Wrap(fault.KindCancelled, "ledger.refresh", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

func (c *Client) refreshOnce(ctx context.Context, stale string, force bool) (string, error) {
	const op = "ledger.refresh"
	c.mu.Lock()
	cur := c.session
	c.mu.Unlock()
	if cur == nil {
		return "", fault.New(fault.KindAuthentication, op, "not signed in")
	}
	fresh := !cur.NeedsRefresh(c.now(), c.cfg.RefreshWindow)
	if fresh && (!force || cur.AccessToken != stale) {
		return cur.AccessToken, nil
	}
	if cur.RefreshToken == "" {
		metrics.RecordTokenRefresh("error")
		return "", fault.New(fault.KindAuthentication, op, "no refresh token")
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RefreshTimeout)
	defer cancel()
	status, raw, err := c.send(rctx, http.MethodPost, c.endpoint("auth", "refresh"), "", map[string]string{
		"refresh_token": cur.RefreshToken,
	})
	if err != nil {
		metrics.RecordTokenRefresh("error")
		return "", fault.Wrap(fault.KindAuthentication, op, err)
	}
	var resp authReply
	if err := expect(op, status, raw, &resp); err != nil {
		metrics.RecordTokenRefresh("error")
		return "", fault.Wrap(fault.KindAuthentication, op, err)
	}
	sess, err := resp.Session.session(c.now(), cur)
	if err != nil {
		metrics.RecordTokenRefresh("error")
		return "", fault.Wrap(fault.KindAuthentication, op, err)
	}
	c.setSession(sess)
	metrics.RecordTokenRefresh("ok")
	c.logger.Debug().Str(log.FieldEvent, "ledger.refresh").Time("expires_at", sess.ExpiresAt).Msg("token refreshed")
	return sess.AccessToken, nil
}

// Balance returns the current credit balance.
func (c *Client) Balance(ctx context.Context) (int64, error) {
	var out struct {
		Balance int64 `json:"balance"`
	}
	if err := c.call(ctx, "get_balance", http.MethodGet, c.endpoint("transactions", "get_balance"), nil, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

// Coefficients returns the published prices, cached for CoefficientsTTL.
func (c *Client) Coefficients(ctx context.Context) (domain.Coefficients, error) {
	const op = "ledger.coefficients"
	if coef, ok := cache.GetJSON[domain.Coefficients](ctx, c.cache, coefficientKey); ok {
		return coef, nil
	}
	status, raw, err := c.send(ctx, http.MethodGet, c.endpoint("features", "coefficients"), "", nil)
	if err != nil {
		c.record("coefficients", err)
		return domain.Coefficients{}, transportError(ctx, op, err)
	}
	var coef domain.Coefficients
	if err := expect(op, status, raw, &coef); err != nil {
		c.record("coefficients", err)
		return domain.Coefficients{}, err
	}
	c.record("coefficients", nil)
	if err := cache.SetJSON(ctx, c.cache, coefficientKey, coef, c.cfg.CoefficientsTTL); err != nil {
		c.logger.Warn().Err(err).Msg("failed to cache coefficients")
	}
	return coef, nil
}

// Precheck fails with ErrInsufficientBalance when the balance cannot cover cost.
func (c *Client) Precheck(ctx context.Context, cost int64) error {
	if cost <= 0 {
		if _, err := c.EnsureValidToken(ctx); err != nil {
			return err
		}
		return nil
	}
	balance, err := c.Balance(ctx)
	if err != nil {
		return err
	}
	if balance < cost {
		return fault.New(fault.KindInsufficientBalance, "ledger.precheck",
			fmt.Sprintf("balance %d below estimated cost %d", balance, cost))
	}
	return nil
}

func (c *Client) endpoint(elem ...string) string {
	u, err := netutil.JoinURL(c.cfg.BaseURL, elem...)
	if err != nil {
		return c.cfg.BaseURL
	}
	return u
}

// call performs an authenticated request with one refresh-and-retry on 401.
// Transient failures are retried up to callAttempts times with exponential
// backoff.
func (c *Client) call(ctx context.Context, name, method, endpoint string, in, out any) error {
	op := "ledger." + name
	var err error
	for attempt := 1; attempt <= callAttempts; attempt++ {
		if attempt > 1 {
			if serr := c.sleep(ctx, callBackoff<<(attempt-2)); serr != nil {
				return fault.Wrap(fault.KindCancelled, op, serr)
			}
		}
		status, raw, serr := c.authed(ctx, method, endpoint, in)
		if serr == nil {
			err = expect(op, status, raw, out)
		} else {
			err = transportError(ctx, op, serr)
		}
		c.record(name, err)
		if err == nil || !fault.Retriable(err) {
			return err
		}
		c.logger.Warn().Err(err).
			Str(log.FieldEndpoint, endpoint).
			Int(log.FieldAttempt, attempt).
			Msg("ledger request failed")
	}
	return err
}

func (c *Client) authed(ctx context.Context, method, endpoint string, in any) (int, []byte, error) {
	token, err := c.EnsureValidToken(ctx)
	if err != nil {
		return 0, nil, err
	}
	status, raw, err := c.send(ctx, method, endpoint, token, in)
	if err == nil && status == http.StatusUnauthorized {
		c.logger.Info().Str(log.FieldEndpoint, endpoint).Msg("token rejected, refreshing once")
		if token, err = c.ForceRefresh(ctx); err != nil {
			return 0, nil, err
		}
		status, raw, err = c.send(ctx, method, endpoint, token, in)
	}
	return status, raw, err
}

func (c *Client) send(ctx context.Context, method, endpoint, token string, in any) (int, []byte, error) {
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
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	return resp.StatusCode, raw, err
}

func (c *Client) record(endpoint string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(fault.KindOf(err))
	}
	metrics.RecordLedgerRequest(endpoint, outcome)
}

// expect checks the status and decodes the body into out. Payloads wrapped
// in {"data": ...} are unwrapped; bare bodies decode as is.
func expect(op string, status int, raw []byte, out any) error {
	if status < 200 || status >= 300 {
		return statusError(op, status, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	body := raw
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		body = env.Data
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fault.Wrapf(fault.KindInternal, op, "unexpected response body", err)
	}
	return nil
}

func statusError(op string, code int, body []byte) error {
	detail := fmt.Sprintf("status %d: %s", code, bytes.TrimSpace(body[:min(len(body), 256)]))
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fault.New(fault.KindAuthentication, op, detail)
	case code == http.StatusPaymentRequired:
		return fault.New(fault.KindInsufficientBalance, op, detail)
	case code == http.StatusTooManyRequests || code >= 500:
		return fault.New(fault.KindNetworkTransient, op, detail)
	default:
		return fault.New(fault.KindInvalidInput, op, detail)
	}
}

func transportError(ctx context.Context, op string, err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return fault.Wrap(fault.KindCancelled, op, err)
	}
	return fault.Wrap(fault.KindNetworkTransient, op, err)
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

func query(ts int64, sign string) string {
	v := url.Values{}
	v.Set("timestamp", strconv.FormatInt(ts, 10))
	v.Set("sign", sign)
	return v.Encode()
}
