// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package translate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/llm"
	"github.com/ManuGH/subforge/internal/log"
	"github.com/ManuGH/subforge/internal/metrics"
)

const (
	passFaithful   = "faithful"
	passReflective = "reflective"
)

type line struct {
	Origin  string  `json:"origin"`
	Direct  *string `json:"direct"`
	Reflect string  `json:"reflect"`
	Free    *string `json:"free"`
}

func (l line) text(pass string) string {
	if pass == passReflective {
		return *l.Free
	}
	return *l.Direct
}

// decodeLines parses a numbered reply. Keys must be exactly 1..M and each
// entry must carry the field the pass produces.
func decodeLines(reply, pass string) ([]line, error) {
	op := "translate." + pass
	var raw map[string]line
	if err := llm.DecodeJSON(reply, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fault.New(fault.KindLLMMalformed, op, "empty reply object")
	}
	out := make([]line, len(raw))
	for i := range out {
		l, ok := raw[strconv.Itoa(i+1)]
		if !ok {
			return nil, fault.New(fault.KindLLMMalformed, op, fmt.Sprintf("keys are not dense: missing %d", i+1))
		}
		if (pass == passReflective && l.Free == nil) || (pass == passFaithful && l.Direct == nil) {
			return nil, fault.New(fault.KindLLMMalformed, op, fmt.Sprintf("line %d lacks translation field", i+1))
		}
		out[i] = l
	}
	return out, nil
}

type passResult struct {
	lines    []line
	mismatch bool
}

// runPass sends one pass for a chunk and retries according to the error kind:
// malformed replies wait a fixed delay, transient failures back off
// exponentially, anything else fails at once. The last attempt accepts a
// well formed reply whose count disagrees with want.
func (t *Translator) runPass(ctx context.Context, chat llm.Chatter, pass string, msgs []llm.Message, want int, s settings) (passResult, error) {
	op := "translate." + pass
	logger := log.WithComponentFromContext(ctx, "translate")
	var lastErr error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return passResult{}, fault.Wrap(fault.KindCancelled, op, ctx.Err())
		}

		reply, err := chat.Chat(ctx, msgs)
		if err == nil {
			var lines []line
			lines, err = decodeLines(reply, pass)
			if err == nil {
				if len(lines) == want {
					metrics.RecordChunkAttempt(pass, "ok")
					return passResult{lines: lines}, nil
				}
				if attempt == s.maxAttempts {
					metrics.RecordChunkAttempt(pass, "count_mismatch")
					return passResult{lines: lines, mismatch: true}, nil
				}
				err = fault.New(fault.KindLLMMalformed, op, fmt.Sprintf("expected %d lines, got %d", want, len(lines)))
			}
		}
		if ctx.Err() != nil {
			return passResult{}, fault.Wrap(fault.KindCancelled, op, ctx.Err())
		}
		lastErr = err

		var wait time.Duration
		switch fault.KindOf(err) {
		case fault.KindLLMMalformed:
			wait = s.retryDelay
		case fault.KindNetworkTransient:
			wait = s.retryDelay << (attempt - 1)
		default:
			metrics.RecordChunkAttempt(pass, "fatal")
			return passResult{}, err
		}
		metrics.RecordChunkAttempt(pass, "retry")
		logger.Warn().Err(err).
			Str(log.FieldEvent, "translate.pass_retry").
			Str("pass", pass).
			Int(log.FieldAttempt, attempt).
			Msg("translation attempt failed")

		if attempt < s.maxAttempts {
			if err := t.sleep(ctx, wait); err != nil {
				return passResult{}, fault.Wrap(fault.KindCancelled, op, err)
			}
		}
	}
	metrics.RecordChunkAttempt(pass, "exhausted")
	return passResult{}, fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
