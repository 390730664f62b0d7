// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keyfort/keyfort/internal/broker"
	"github.com/keyfort/keyfort/internal/config"
	"github.com/keyfort/keyfort/internal/logging"
	"github.com/keyfort/keyfort/internal/module/goplugin"
	"github.com/keyfort/keyfort/internal/permission"
	"github.com/keyfort/keyfort/internal/registry"
	"github.com/keyfort/keyfort/internal/resolver"
	"github.com/keyfort/keyfort/pkg/drm"
)

// schemesConfig holds configuration for the schemes command.
type schemesConfig struct {
	mime string
}

// NewSchemesCmd creates the schemes subcommand.
func NewSchemesCmd() *cobra.Command {
	sc := &schemesConfig{}

	cmd := &cobra.Command{
		Use:   "schemes <scheme-id>",
		Short: "Check plugin support for a protection scheme",
		Long: `Resolve a protection scheme id against the plugin directory and report
which plugin module supports it, optionally for a specific content type.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runSchemes(cmd, cfg, sc, args[0])
		},
	}

	defaults := config.Default()
	cmd.Flags().String("plugin-dir", defaults.PluginDir, "directory scanned for plugin modules")
	cmd.Flags().String("module-suffix", defaults.ModuleSuffix, "file suffix recognized as a plugin module")
	cmd.Flags().String("log-format", "text", "log format (json or text)")
	cmd.Flags().StringVar(&sc.mime, "mime", "", "content type to check (empty = scheme support only)")

	return cmd
}

// runSchemes resolves one scheme id and reports support.
func runSchemes(cmd *cobra.Command, cfg config.Config, sc *schemesConfig, arg string) error {
	logging.SetDefault("keyfort", version, cfg.LogFormat)

	scheme, err := drm.ParseSchemeID(arg)
	if err != nil {
		return fmt.Errorf("invalid scheme id %q: %w", arg, err)
	}

	res := resolver.New(cfg.PluginDir, goplugin.Loader{}, resolver.WithSuffix(cfg.ModuleSuffix))
	b := broker.New(broker.Caller{PID: os.Getpid(), Name: "keyfort-cli"},
		res, registry.NewInMemory(), permission.NewEnforcer())
	defer func() {
		if closeErr := b.Close(); closeErr != nil {
			cmd.PrintErrf("warning: broker close: %v\n", closeErr)
		}
	}()

	if !b.IsSchemeSupported(scheme, sc.mime) {
		if sc.mime != "" {
			cmd.Printf("%s: unsupported for %s\n", scheme, sc.mime)
		} else {
			cmd.Printf("%s: unsupported\n", scheme)
		}
		return nil
	}

	path := res.ResolvedSchemes()[scheme.String()]
	if sc.mime != "" {
		cmd.Printf("%s: supported for %s by %s\n", scheme, sc.mime, path)
	} else {
		cmd.Printf("%s: supported by %s\n", scheme, path)
	}
	return nil
}
