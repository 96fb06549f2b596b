// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/subforge/internal/config"
	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/version"
)

const redacted = "***"

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := config.NewLoader(root.configPath, version.Version).Load(); err != nil {
				return fault.Wrap(fault.KindInvalidInput, "config.validate", err)
			}
			name := root.configPath
			if name == "" {
				name = "defaults + environment"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", name)
			return nil
		},
	})

	var format string
	dump := &cobra.Command{
		Use:   "dump",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewLoader(root.configPath, version.Version).Load()
			if err != nil {
				return fault.Wrap(fault.KindInvalidInput, "config.dump", err)
			}
			redact(&cfg)
			switch strings.ToLower(format) {
			case "yaml", "yml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(cfg); err != nil {
					return err
				}
				return enc.Close()
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			default:
				return fault.New(fault.KindInvalidInput, "config.dump", "unsupported format "+format)
			}
		},
	}
	dump.Flags().StringVar(&format, "format", "yaml", "output format: yaml or json")
	cmd.AddCommand(dump)
	return cmd
}

func redact(cfg *config.CoreConfig) {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&cfg.Ledger.Secret)
	mask(&cfg.Ledger.RedisPassword)
	mask(&cfg.ObjectStore.AccessKeyID)
	mask(&cfg.ObjectStore.SecretAccessKey)
	providers := make(map[string]config.ProviderConfig, len(cfg.LLM.Providers))
	for name, p := range cfg.LLM.Providers {
		mask(&p.APIKey)
		providers[name] = p
	}
	cfg.LLM.Providers = providers
}
