// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatorAccumulates(t *testing.T) {
	v := New()
	Positive(v, "dispatcher.workers", 0)
	v.NotEmpty("scratch_dir", "  ")
	v.OneOf("telemetry.exporter", "zipkin", "grpc", "http")
	InRange(v, "translate.similarity_threshold", 1.5, 0, 1)
	NonNegative(v, "billing.retry_attempts", 3)
	NonNegative(v, "translate.retry_delay", -time.Second)

	require.False(t, v.IsValid())
	err := v.Err()
	require.Error(t, err)

	es, ok := AsErrors(fmt.Errorf("load: %w", err))
	require.True(t, ok)
	assert.Equal(t, []string{
		"dispatcher.workers", "scratch_dir", "telemetry.exporter",
		"translate.similarity_threshold", "translate.retry_delay",
	}, es.Fields())
	assert.Contains(t, err.Error(), "dispatcher.workers: must be > 0")
}

func TestValidatorEmptyIsNil(t *testing.T) {
	assert.NoError(t, New().Err())
}

func TestErrSnapshots(t *testing.T) {
	v := New()
	v.Fail("a", "bad", nil)
	err := v.Err()
	v.Fail("b", "bad", nil)
	es, _ := AsErrors(err)
	assert.Len(t, es, 1)
}

func TestURL(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"http://127.0.0.1:7890", true},
		{"SOCKS5://proxy:1080", true},
		{"ftp://host", false},
		{"not a url", false},
		{"", false},
	}
	for _, tt := range tests {
		v := New()
		v.URL("proxy_url", tt.value, "http", "https", "socks5")
		assert.Equal(t, tt.ok, v.IsValid(), tt.value)
	}

	v := New()
	v.OptionalURL("nlp.splitter_url", "", "http")
	assert.True(t, v.IsValid())
}

func TestDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	v := New()
	v.Dir("scratch_dir", dir, true)
	require.True(t, v.IsValid())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	v = New()
	v.Dir("model_dir", filepath.Join(t.TempDir(), "missing"), false)
	assert.False(t, v.IsValid())

	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	v = New()
	v.Dir("model_dir", file, true)
	assert.False(t, v.IsValid())
}
