// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subforge/internal/fault"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name, reply, want string
	}{
		{"fenced", "Here you go:\n```json\n{\"a\":1}\n```\nthanks", `{"a":1}`},
		{"bare fence", "```\n{\"a\":2}\n```", `{"a":2}`},
		{"whole body", "  {\"a\":3}  ", `{"a":3}`},
		{"embedded", "Sure! {\"a\":{\"b\":4}} Hope it helps.", `{"a":{"b":4}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.reply)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestExtractJSONFailure(t *testing.T) {
	_, err := ExtractJSON("no json here { broken")
	assert.ErrorIs(t, err, fault.ErrLLMMalformed)
}

func TestDecodeJSONShapeMismatch(t *testing.T) {
	var out map[string]int
	err := DecodeJSON(`{"a":"x"}`, &out)
	assert.ErrorIs(t, err, fault.ErrLLMMalformed)
}
