// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the keyfort CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyfort",
		Short: "Keyfort - a content protection plugin broker",
		Long: `Keyfort brokers access to out-of-process content protection plugins,
resolving protection schemes to plugin modules and managing licensing
sessions across callers.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewSchemesCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}
