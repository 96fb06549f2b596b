// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextIDs(t *testing.T) {
	ctx := ContextWithTaskID(context.Background(), "abc")
	ctx = ContextWithRequestID(ctx, "req-1")

	assert.Equal(t, "abc", TaskIDFromContext(ctx))
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Empty(t, TaskIDFromContext(context.Background()))
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	Reconfigure(Config{Level: "debug", Output: &buf, Service: "test"})
	t.Cleanup(func() { Reconfigure(Config{}) })

	ctx := ContextWithTaskID(context.Background(), "task-42")
	l := WithComponentFromContext(ctx, "pipeline")
	l.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "task-42", entry[FieldTaskID])
	assert.Equal(t, "pipeline", entry[FieldComponent])
	assert.Equal(t, "test", entry["service"])
}

func TestContextIDsSurviveEachOther(t *testing.T) {
	ctx := ContextWithRequestID(nil, "req-1") //nolint:staticcheck
	ctx = ContextWithTaskID(ctx, "t1")
	ctx = ContextWithTaskID(ctx, "t2")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "t2", TaskIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(nil)) //nolint:staticcheck
}

func TestSetLevelRejectsGarbage(t *testing.T) {
	assert.False(t, SetLevel("loud"))
	assert.False(t, SetLevel(""))
	assert.True(t, SetLevel("info"))
}
