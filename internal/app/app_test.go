// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package app

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/subforge/internal/cache"
	"github.com/ManuGH/subforge/internal/health"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "subforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestWireBuildsGraph(t *testing.T) {
	scratch := t.TempDir()
	c, err := Wire(context.Background(), Options{
		ConfigPath: writeConfig(t, "scratch_dir: "+scratch+"\n"),
		Version:    "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	assert.Equal(t, filepath.Join(scratch, "results"), c.Config.ResultRoot)
	assert.DirExists(t, c.Config.ResultRoot)
	assert.FileExists(t, filepath.Join(scratch, "ledger.db"))
	assert.NotNil(t, c.Tasks)
	assert.NotNil(t, c.Ledger.LocalHistory())

	rep := c.Health.Ready(context.Background())
	assert.True(t, rep.Ready)
	assert.Equal(t, health.StatusDegraded, rep.Status, "signed out degrades readiness")
	assert.Equal(t, "not signed in", rep.Checks["session"].Error)
}

func TestWireUsesRedisWhenConfigured(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := Wire(context.Background(), Options{
		ConfigPath: writeConfig(t, "scratch_dir: "+t.TempDir()+"\nledger:\n  redis_addr: "+mr.Addr()+"\n"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	_, isRedis := c.cache.(*cache.RedisCache)
	assert.True(t, isRedis)
	assert.Equal(t, health.StatusHealthy, c.Health.Ready(context.Background()).Checks["redis"].Status)
}

func TestWireFallsBackWhenRedisUnreachable(t *testing.T) {
	c, err := Wire(context.Background(), Options{
		ConfigPath: writeConfig(t, "scratch_dir: "+t.TempDir()+"\nledger:\n  redis_addr: "+freeAddr(t)+"\n"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	_, isRedis := c.cache.(*cache.RedisCache)
	assert.False(t, isRedis)
}

func TestWireRejectsInvalidConfig(t *testing.T) {
	_, err := Wire(context.Background(), Options{
		ConfigPath: writeConfig(t, "scratch_dir: "+t.TempDir()+"\ndispatcher:\n  workers: 0\n"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispatcher.workers")
}

func TestServeStopsOnCancel(t *testing.T) {
	addr := freeAddr(t)
	c, err := Wire(context.Background(), Options{
		ConfigPath: writeConfig(t, "scratch_dir: "+t.TempDir()+"\napi:\n  listen_addr: "+addr+"\n"),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return")
	}
	closeCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	require.NoError(t, c.Close(closeCtx))
}
