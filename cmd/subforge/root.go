// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/subforge/internal/app"
	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/log"
	"github.com/ManuGH/subforge/internal/version"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "subforge",
		Short:         "Transcribe and translate media into bilingual subtitles",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			log.Configure(log.Config{Level: "warn", Service: "subforge", Version: version.Version})
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file")

	cmd.AddCommand(
		newServeCmd(opts),
		newRunCmd(opts),
		newTasksCmd(opts),
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newBalanceCmd(opts),
		newHistoryCmd(opts),
		newRechargeCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}

// withContainer wires the graph, runs fn, and closes the graph.
func (o *rootOptions) withContainer(ctx context.Context, fn func(*app.Container) error) (err error) {
	c, err := app.Wire(ctx, app.Options{ConfigPath: o.configPath, Version: version.Version})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		err = errors.Join(err, c.Close(closeCtx))
	}()
	return fn(c)
}

// exitCode separates user-fixable failures from everything else.
func exitCode(err error) int {
	switch fault.KindOf(err) {
	case fault.KindInvalidInput, fault.KindAPIKeyMissing:
		return 2
	case fault.KindAuthentication:
		return 3
	case fault.KindInsufficientBalance:
		return 4
	case fault.KindCancelled:
		return 130
	default:
		return 1
	}
}
