// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/renameio/v2"
)

// Session is the authenticated ledger identity.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
}

// NeedsRefresh reports whether the token is inside the refresh window.
func (s Session) NeedsRefresh(now time.Time, window time.Duration) bool {
	return !now.Before(s.ExpiresAt.Add(-window))
}

// authReply is the login and refresh response: {"session": {...}}.
type authReply struct {
	Session tokenResponse `json:"session"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	ExpiresIn    int64  `json:"expires_in"`
	UserID       string `json:"user_id"`
}

// session converts a login or refresh reply. Missing expiry and user id are
// read from the access token's exp and sub claims without verifying it.
func (r tokenResponse) session(now time.Time, previous *Session) (Session, error) {
	if r.AccessToken == "" {
		return Session{}, errors.New("response carries no access token")
	}
	s := Session{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken, UserID: r.UserID}
	switch {
	case r.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(r.ExpiresAt, 0)
	case r.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}

	if s.ExpiresAt.IsZero() || s.UserID == "" {
		claims := jwt.RegisteredClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(r.AccessToken, &claims); err == nil {
			if s.ExpiresAt.IsZero() && claims.ExpiresAt != nil {
				s.ExpiresAt = claims.ExpiresAt.Time
			}
			if s.UserID == "" {
				s.UserID = claims.Subject
			}
		}
	}
	if previous != nil {
		if s.RefreshToken == "" {
			s.RefreshToken = previous.RefreshToken
		}
		if s.UserID == "" {
			s.UserID = previous.UserID
		}
	}
	if s.ExpiresAt.IsZero() {
		return Session{}, errors.New("cannot determine token expiry")
	}
	return s, nil
}

// SessionStore keeps the session between runs. An empty path disables it.
type SessionStore struct {
	path string
}

func NewSessionStore(path string) SessionStore { return SessionStore{path: path} }

func (s SessionStore) Load() (*Session, error) {
	if s.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s SessionStore) Save(sess Session) error {
	if s.path == "" {
		return nil
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	return renameio.WriteFile(s.path, data, 0o600)
}

func (s SessionStore) Clear() error {
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
