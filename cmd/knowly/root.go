// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Knowly Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/knowly/knowly/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the knowly CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowly",
		Short: "Knowly - user accounts and bearer-token authentication",
		Long: `Knowly registers user accounts, verifies username or email plus
password logins, and issues signed bearer tokens for whoami lookups.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/knowly/config.yaml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// configOptions reads the --config file and the command's own flags.
func configOptions(cmd *cobra.Command) config.Options {
	return config.Options{File: configFile, Flags: cmd.Flags()}
}
