// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup runs external tools (ffmpeg, ffprobe, the ASR engine)
// in their own process group so cancellation reaps every child.
package procgroup

import (
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/subforge/internal/metrics"
)

// DefaultGrace is the SIGTERM to SIGKILL delay used by Run.
const DefaultGrace = 3 * time.Second

// Run starts cmd in a new group and waits for it. When ctx ends first the
// group is terminated and ctx.Err() is returned.
func Run(ctx context.Context, cmd *exec.Cmd, grace time.Duration) error {
	Set(cmd)
	if err := cmd.Start(); err != nil {
		return err
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case err := <-waitCh:
		return err
	case <-ctx.Done():
		_ = Terminate(cmd, waitCh, grace)
		return ctx.Err()
	}
}

// Terminate sends SIGTERM to the group, escalates to SIGKILL after grace and
// always drains waitCh. Nil commands are a no-op.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	metrics.IncProcTerminate("SIGTERM", signalResult(Kill(cmd, syscall.SIGTERM)))

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
	}

	metrics.IncProcTerminate("SIGKILL", signalResult(Kill(cmd, syscall.SIGKILL)))
	return <-waitCh
}

func signalResult(err error) string {
	switch {
	case err == nil:
		return "sent"
	case errors.Is(err, syscall.ESRCH):
		return "esrch"
	default:
		return "error"
	}
}
