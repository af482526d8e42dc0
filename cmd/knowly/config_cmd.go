// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/knowly/knowly/internal/config"
)

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadUnvalidated(configOptions(cmd))
			if err != nil {
				return err
			}
			data, err := config.MarshalYAML(cfg.Redact())
			if err != nil {
				return err
			}
			cmd.Print(string(data))

			if err := cfg.Validate(); err != nil {
				cmd.PrintErrf("warning: %v\n", err)
			}
			return nil
		},
	}
	config.RegisterFlags(show.Flags())
	cmd.AddCommand(show)

	cmd.AddCommand(&cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a config file against the JSON schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return oops.Code("CONFIG_READ_FAILED").With("path", args[0]).Wrap(err)
			}
			if err := config.ValidateYAML(data); err != nil {
				cmd.PrintErrf("%s: %s\n", args[0], config.FormatSchemaError(err))
				return err
			}
			cmd.Printf("%s: valid\n", args[0])
			return nil
		},
	})

	return cmd
}
