// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fault

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesKindSentinel(t *testing.T) {
	err := Wrap(KindNetworkTransient, "ledger.balance", io.ErrUnexpectedEOF)
	wrapped := fmt.Errorf("stage transcribe: %w", err)

	assert.ErrorIs(t, wrapped, ErrNetworkTransient)
	assert.ErrorIs(t, wrapped, io.ErrUnexpectedEOF)
	assert.NotErrorIs(t, wrapped, ErrAuthentication)
	assert.Equal(t, KindNetworkTransient, KindOf(wrapped))
	assert.Equal(t, "ledger.balance: unexpected EOF", err.Error())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"sentinel", ErrCancelled, KindCancelled},
		{"wrapped sentinel", fmt.Errorf("x: %w", ErrMediaDecode), KindMediaDecode},
		{"kinded", New(KindInvalidInput, "tasks.create", "bad path"), KindInvalidInput},
		{"plain", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestRetriable(t *testing.T) {
	assert.True(t, Retriable(ErrNetworkTransient))
	assert.True(t, Retriable(New(KindLLMMalformed, "translate", "missing key 3")))
	assert.False(t, Retriable(ErrAuthentication))
	assert.False(t, Retriable(errors.New("other")))
}

func TestUserCode(t *testing.T) {
	assert.Equal(t, "填写key", UserCode(New(KindAPIKeyMissing, "llm", "")))
	assert.Equal(t, "insufficient_balance", UserCode(ErrInsufficientBalance))
	assert.Equal(t, "", UserCode(nil))
}

func TestErrorMessageFallsBackToKind(t *testing.T) {
	assert.Equal(t, "tasks.cancel: cancelled", New(KindCancelled, "tasks.cancel", "").Error())
}

func TestErrorMessageJoinsDetailAndCause(t *testing.T) {
	err := Wrapf(KindInternal, "asr.local", "unparsable engine output", io.ErrUnexpectedEOF)
	assert.Equal(t, "asr.local: unparsable engine output: unexpected EOF", err.Error())
}
