// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ManuGH/subforge/internal/config"
	"github.com/ManuGH/subforge/internal/domain"
	"github.com/ManuGH/subforge/internal/tasks"
	"github.com/ManuGH/subforge/internal/version"
)

func newTasksCmd(root *rootOptions) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List persisted tasks",
		Long:  "Lists task records from the scratch directory without modifying them, so it is safe to run next to a live server.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewLoader(root.configPath, version.Version).Load()
			if err != nil {
				return err
			}
			stored, err := tasks.NewStore(cfg.ScratchDir).Load()
			if err != nil {
				return err
			}
			list := make([]domain.Task, 0, len(stored))
			for _, t := range stored {
				list = append(list, *t)
			}
			printTasks(cmd.OutOrStdout(), list, domain.Status(strings.ToUpper(status)))
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show tasks in this status")
	return cmd
}

func printTasks(out io.Writer, list []domain.Task, status domain.Status) {
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSTATUS\tPROGRESS\tCOST\tSOURCE\tERROR")
	for _, t := range list {
		if status != "" && t.Status != status {
			continue
		}
		cost := fmt.Sprintf("~%d", t.EstimatedCost)
		if t.ActualCost != nil {
			cost = fmt.Sprintf("%d", *t.ActualCost)
			if t.Billing != domain.BillingNone {
				cost += " " + string(t.Billing)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%s\t%s\t%s\n",
			t.ID[:min(8, len(t.ID))], t.Kind, t.Status, t.Progress, cost, t.SourcePath, t.ErrorCode)
	}
	_ = w.Flush()
}
