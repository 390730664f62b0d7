// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/keyfort/keyfort/internal/broker"
	"github.com/keyfort/keyfort/internal/config"
	"github.com/keyfort/keyfort/internal/control"
	"github.com/keyfort/keyfort/internal/logging"
	"github.com/keyfort/keyfort/internal/module"
	"github.com/keyfort/keyfort/internal/module/goplugin"
	"github.com/keyfort/keyfort/internal/observability"
	"github.com/keyfort/keyfort/internal/permission"
	"github.com/keyfort/keyfort/internal/registry"
	"github.com/keyfort/keyfort/internal/resolver"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the broker daemon",
		Long: `Start the broker daemon which resolves protection schemes to plugin
modules, supervises plugin processes, and tracks licensing sessions.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runServe(cmd.Context(), cfg, cmd)
		},
	}

	defaults := config.Default()
	cmd.Flags().String("plugin-dir", defaults.PluginDir, "directory scanned for plugin modules")
	cmd.Flags().String("module-suffix", defaults.ModuleSuffix, "file suffix recognized as a plugin module")
	cmd.Flags().String("metrics-addr", defaults.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().Bool("control-socket", defaults.ControlSocket, "enable the unix control socket")
	cmd.Flags().String("log-format", defaults.LogFormat, "log format (json or text)")

	return cmd
}

// runServe starts the broker daemon.
func runServe(ctx context.Context, cfg config.Config, cmd *cobra.Command) error {
	logging.SetDefault("keyfort", version, cfg.LogFormat)

	slog.Info("starting broker daemon",
		"plugin_dir", cfg.PluginDir,
		"module_suffix", cfg.ModuleSuffix,
	)

	if err := cfg.EnsurePluginDir(); err != nil {
		return fmt.Errorf("failed to create plugin directory: %w", err)
	}

	res := resolver.New(cfg.PluginDir, goplugin.Loader{}, resolver.WithSuffix(cfg.ModuleSuffix))
	reg := registry.NewInMemory()

	enforcer := permission.NewEnforcer()
	for subject, perms := range cfg.Permissions {
		if err := enforcer.SetGrants(subject, perms); err != nil {
			return fmt.Errorf("invalid permission grants for %q: %w", subject, err)
		}
	}
	host := broker.NewHost(res, reg, enforcer)

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start observability server if configured
	var obsServer *observability.Server
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, func() bool { return true })
		module.RegisterMetrics(obsServer.Registry())
		broker.RegisterMetrics(obsServer.Registry())

		obsErrChan, err := obsServer.Start()
		if err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		// Monitor observability server errors - cancel context on error
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	// Start control socket if enabled
	var ctlServer *control.Server
	if cfg.ControlSocket {
		ctlServer = control.NewServer(func() { cancel() }, func() (map[string]string, []string, int) {
			r := host.Resolver()
			return r.ResolvedSchemes(), r.Cache().Resident(), reg.Len()
		})
		if err := ctlServer.Start(); err != nil {
			stopObservability(obsServer)
			return fmt.Errorf("failed to start control socket: %w", err)
		}
		slog.Info("control socket started", "path", control.SocketPath())
	}

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Broker daemon started")
	slog.Info("broker daemon ready", "plugin_dir", cfg.PluginDir)

	// Wait for shutdown signal or cancellation
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	// Graceful shutdown
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if ctlServer != nil {
		if err := ctlServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping control socket", "error", err)
		}
	}
	stopObservability(obsServer)

	slog.Info("shutdown complete")
	return nil
}

// stopObservability stops the observability server if it was started.
func stopObservability(s *observability.Server) {
	if s == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(shutdownCtx); err != nil {
		slog.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// This ensures that server failures trigger graceful shutdown of the entire process.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
		// Context cancelled, exit monitoring
	}
}
