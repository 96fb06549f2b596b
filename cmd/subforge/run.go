// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuGH/subforge/internal/app"
	"github.com/ManuGH/subforge/internal/bus"
	"github.com/ManuGH/subforge/internal/domain"
	"github.com/ManuGH/subforge/internal/fault"
)

type runOptions struct {
	opts  domain.Options
	quote bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	ro := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <kind> <path>",
		Short: "Create a task, run it to completion and print progress",
		Long: "Kinds: " + kindList() + ".\n" +
			"Interrupting the command cancels the task at its next stage boundary.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := domain.Kind(strings.ToUpper(args[0]))
			return root.withContainer(cmd.Context(), func(c *app.Container) error {
				if err := c.Start(cmd.Context()); err != nil {
					return err
				}
				return ro.run(cmd.Context(), c, kind, args[1], cmd.OutOrStdout())
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&ro.opts.SourceLanguage, "from", "auto", "source language")
	f.StringVar(&ro.opts.TargetLanguage, "to", "", "target language for translating kinds")
	f.StringVar(&ro.opts.TranslateChannel, "channel", "", "LLM channel (default from config)")
	f.StringVar(&ro.opts.ASRModel, "model", "", "local ASR model (default from config)")
	f.BoolVar(&ro.opts.UseCUDA, "cuda", false, "run local ASR on the GPU")
	f.BoolVar(&ro.quote, "quote", false, "print the estimate and exit without running")
	return cmd
}

func kindList() string {
	names := make([]string, 0, len(domain.Kinds))
	for _, k := range domain.Kinds {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

func (ro *runOptions) run(ctx context.Context, c *app.Container, kind domain.Kind, path string, out io.Writer) error {
	sub := c.Bus.Subscribe(256)
	defer sub.Close()

	id, err := c.Tasks.CreateTask(ctx, kind, path, ro.opts)
	if err != nil {
		return err
	}
	task, _ := c.Tasks.Get(id)
	fmt.Fprintf(out, "task %s  estimate %d credits\n", id, task.EstimatedCost)
	if ro.quote {
		return nil
	}
	if err := c.Tasks.Submit(ctx, id); err != nil {
		return err
	}

	interrupted := ctx.Done()
	lastPct := -1
	for {
		select {
		case <-interrupted:
			interrupted = nil
			fmt.Fprintln(out, "cancelling...")
			_ = c.Tasks.Cancel(id)
		case ev, ok := <-sub.C():
			if !ok {
				return fault.New(fault.KindInternal, "run", "event stream closed")
			}
			if ev.TaskID != id {
				continue
			}
			done, err := report(out, ev, &lastPct)
			if done {
				return err
			}
		}
	}
}

// report prints ev and reports whether the run is over.
func report(out io.Writer, ev bus.Event, lastPct *int) (bool, error) {
	switch ev.Topic {
	case bus.TopicProgress:
		if pct := int(ev.Progress); *lastPct < 0 || pct >= *lastPct+5 {
			*lastPct = pct
			fmt.Fprintf(out, "  %3d%%\n", pct)
		}
	case bus.TopicCompleted:
		fmt.Fprintf(out, "done: %s\n", ev.Task.OutputPath)
		return ev.Task.OrderID == "", nil
	case bus.TopicBalanceUpdated:
		fmt.Fprintf(out, "charged, balance %d\n", ev.Balance)
		return true, nil
	case bus.TopicBillingDeferred:
		// Retries stop with the process; the next start re-bills the order.
		fmt.Fprintf(out, "billing deferred (%s): %s\n", ev.OrderID, ev.Error)
		return true, nil
	case bus.TopicFailed:
		return true, fault.New(kindForCode(ev.Code), "run", ev.Error)
	case bus.TopicCancelled:
		return true, fault.New(fault.KindCancelled, "run", "task cancelled")
	}
	return false, nil
}

func kindForCode(code string) fault.Kind {
	if code == fault.UserCode(fault.ErrAPIKeyMissing) {
		return fault.KindAPIKeyMissing
	}
	return fault.Kind(code)
}
