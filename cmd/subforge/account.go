// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ManuGH/subforge/internal/app"
	"github.com/ManuGH/subforge/internal/domain"
	"github.com/ManuGH/subforge/internal/fault"
)

func newLoginCmd(root *rootOptions) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the credit service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				p, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				password = p
			}
			return root.withContainer(cmd.Context(), func(c *app.Container) error {
				s, err := c.Ledger.Login(cmd.Context(), email, password)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (token valid until %s)\n", s.UserID, s.ExpiresAt.Local().Format(time.DateTime))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// readPassword prompts without echo on a terminal and reads one line
// otherwise.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	fmt.Fprint(prompt, "password: ")
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fault.Wrap(fault.KindInvalidInput, "login", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", fault.Wrap(fault.KindInvalidInput, "login", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLogoutCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withContainer(cmd.Context(), func(c *app.Container) error {
				return c.Ledger.Logout()
			})
		},
	}
}

func newBalanceCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the credit balance and current prices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withContainer(cmd.Context(), func(c *app.Container) error {
				bal, err := c.Ledger.Balance(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "balance: %d credits\n", bal)
				if co, err := c.Ledger.Coefficients(cmd.Context()); err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "asr: %g/s  trans: %g/char\n", co.ASRPerSecond, co.TransPerChar)
				}
				return nil
			})
		},
	}
}

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent debits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withContainer(cmd.Context(), func(c *app.Container) error {
				txs, err := c.Ledger.History(cmd.Context(), limit)
				if err != nil {
					return err
				}
				printHistory(cmd.OutOrStdout(), txs)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries")
	return cmd
}

func printHistory(out io.Writer, txs []domain.Transaction) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tORDER\tFEATURE\tAMOUNT\tBALANCE\tFILE")
	for _, tx := range txs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			tx.CreatedAt.Local().Format(time.DateTime), tx.OrderID, tx.FeatureKey, tx.Amount, tx.BalanceAfter, tx.FileName)
	}
	_ = w.Flush()
}

func newRechargeCmd(root *rootOptions) *cobra.Command {
	var (
		amount, credits int64
		wait            bool
		interval        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "recharge",
		Short: "Create a top-up order and print its payment link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if amount <= 0 || credits <= 0 {
				return fault.New(fault.KindInvalidInput, "recharge", "--amount and --credits must be positive")
			}
			return root.withContainer(cmd.Context(), func(c *app.Container) error {
				order, err := c.Ledger.CreateRechargeOrder(cmd.Context(), amount, credits)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "order %s\npay at: %s\n", order.OrderID, order.PaymentURL)
				if !wait {
					return nil
				}
				final, err := c.Ledger.WaitOrder(cmd.Context(), order.OrderID, interval)
				if err != nil {
					return err
				}
				if final.State != domain.OrderCompleted {
					return fault.New(fault.KindInternal, "recharge", "order "+string(final.State))
				}
				bal, err := c.Ledger.Balance(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "paid, balance %d credits\n", bal)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.Int64Var(&amount, "amount", 0, "price in yuan")
	f.Int64Var(&credits, "credits", 0, "credits bought")
	f.BoolVar(&wait, "wait", false, "poll until the order is paid or fails")
	f.DurationVar(&interval, "interval", 3*time.Second, "poll interval with --wait")
	return cmd
}
