// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subforge/internal/bus"
	"github.com/ManuGH/subforge/internal/config"
	"github.com/ManuGH/subforge/internal/domain"
	"github.com/ManuGH/subforge/internal/fault"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "run", "tasks", "login", "logout", "balance", "history", "recharge", "config"}, names)
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestRunRequiresTwoArgs(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"run", "ASR"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	require.Error(t, root.Execute())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(fault.New(fault.KindInvalidInput, "x", "bad")))
	assert.Equal(t, 2, exitCode(fault.ErrAPIKeyMissing))
	assert.Equal(t, 3, exitCode(fault.ErrAuthentication))
	assert.Equal(t, 4, exitCode(fault.ErrInsufficientBalance))
	assert.Equal(t, 130, exitCode(fault.ErrCancelled))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}

func TestReport(t *testing.T) {
	var out bytes.Buffer
	last := -1

	done, err := report(&out, bus.Event{Topic: bus.TopicProgress, Progress: 3}, &last)
	assert.False(t, done)
	assert.NoError(t, err)
	_, _ = report(&out, bus.Event{Topic: bus.TopicProgress, Progress: 5}, &last)
	_, _ = report(&out, bus.Event{Topic: bus.TopicProgress, Progress: 12}, &last)
	assert.Equal(t, "    3%\n   12%\n", out.String())

	done, err = report(&out, bus.Event{Topic: bus.TopicCompleted, Task: &domain.Task{OutputPath: "/r/a.srt"}}, &last)
	assert.True(t, done, "free task ends on completion")
	assert.NoError(t, err)

	done, _ = report(&out, bus.Event{Topic: bus.TopicCompleted, Task: &domain.Task{OrderID: "TT_1"}}, &last)
	assert.False(t, done, "billed task waits for settlement")

	done, err = report(&out, bus.Event{Topic: bus.TopicFailed, Code: "填写key", Error: "no key"}, &last)
	assert.True(t, done)
	assert.Equal(t, fault.KindAPIKeyMissing, fault.KindOf(err))

	done, err = report(&out, bus.Event{Topic: bus.TopicFailed, Code: "media_decode"}, &last)
	assert.True(t, done)
	assert.Equal(t, fault.KindMediaDecode, fault.KindOf(err))

	_, err = report(&out, bus.Event{Topic: bus.TopicCancelled}, &last)
	assert.ErrorIs(t, err, fault.ErrCancelled)
}

func TestRedact(t *testing.T) {
	cfg := config.Default()
	cfg.Ledger.Secret = "s3cret"
	cfg.ObjectStore.SecretAccessKey = "key"
	cfg.LLM.Providers = map[string]config.ProviderConfig{"openai": {APIKey: "sk-1", Model: "m"}}
	orig := cfg.LLM.Providers

	redact(&cfg)
	assert.Equal(t, redacted, cfg.Ledger.Secret)
	assert.Equal(t, redacted, cfg.ObjectStore.SecretAccessKey)
	assert.Empty(t, cfg.ObjectStore.AccessKeyID)
	assert.Equal(t, redacted, cfg.LLM.Providers["openai"].APIKey)
	assert.Equal(t, "m", cfg.LLM.Providers["openai"].Model)
	assert.Equal(t, "sk-1", orig["openai"].APIKey, "source map untouched")
}

func TestPrintTasks(t *testing.T) {
	cost := int64(7)
	now := time.Now()
	list := []domain.Task{
		{ID: "bbbbbbbbbbbb", Kind: domain.KindTrans, Status: domain.StatusSucceeded, Progress: 100, ActualCost: &cost, Billing: domain.BillingSettled, CreatedAt: now},
		{ID: "aaaaaaaaaaaa", Kind: domain.KindASR, Status: domain.StatusPending, EstimatedCost: 3, CreatedAt: now.Add(-time.Minute)},
	}
	var out bytes.Buffer
	printTasks(&out, list, "")
	s := out.String()
	assert.Contains(t, s, "7 settled")
	assert.Contains(t, s, "~3")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("aaaaaaaa")), bytes.Index(out.Bytes(), []byte("bbbbbbbb")))

	out.Reset()
	printTasks(&out, list, domain.StatusPending)
	assert.NotContains(t, out.String(), "bbbbbbbb")
}

func TestReadPasswordFromPipe(t *testing.T) {
	var prompt bytes.Buffer
	pw, err := readPassword(bytes.NewBufferString("hunter2\r\n"), &prompt)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pw)
	assert.Equal(t, "password: ", prompt.String())

	_, err = readPassword(bytes.NewBufferString(""), &prompt)
	assert.ErrorIs(t, err, fault.ErrInvalidInput)
}
