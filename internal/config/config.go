// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

// Package config loads the keyfort daemon configuration from an optional
// YAML file with command-line flag overrides.
package config

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/keyfort/keyfort/internal/resolver"
	"github.com/keyfort/keyfort/internal/xdg"
)

// Config holds the daemon configuration.
type Config struct {
	// PluginDir is the directory scanned for plugin modules.
	PluginDir string `koanf:"plugin-dir"`
	// ModuleSuffix is the file suffix recognized as a plugin module.
	ModuleSuffix string `koanf:"module-suffix"`
	// MetricsAddr is the metrics/health HTTP address; empty disables it.
	MetricsAddr string `koanf:"metrics-addr"`
	// ControlSocket enables the unix control socket.
	ControlSocket bool `koanf:"control-socket"`
	// LogFormat is "json" or "text".
	LogFormat string `koanf:"log-format"`
	// Permissions maps caller subjects to permission glob patterns.
	Permissions map[string][]string `koanf:"permissions"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		PluginDir:     xdg.PluginDir(),
		ModuleSuffix:  resolver.DefaultSuffix,
		MetricsAddr:   "127.0.0.1:9100",
		ControlSocket: true,
		LogFormat:     "json",
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (if non-empty), then flag overrides (if non-nil). Flag names mirror the
// koanf keys.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, oops.
				Code("CONFIG_LOAD_FAILED").
				With("path", path).
				Wrap(err)
		}
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return cfg, oops.
				Code("CONFIG_LOAD_FAILED").
				With("source", "flags").
				Wrap(err)
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, oops.Code("CONFIG_PARSE_FAILED").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.PluginDir == "" {
		return fmt.Errorf("plugin-dir is required")
	}
	if c.ModuleSuffix == "" {
		return fmt.Errorf("module-suffix is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("log-format must be 'json' or 'text', got %q", c.LogFormat)
	}
	return nil
}

// EnsurePluginDir creates the plugin directory if missing.
func (c *Config) EnsurePluginDir() error {
	if _, err := os.Stat(c.PluginDir); err == nil {
		return nil
	}
	return xdg.EnsureDir(c.PluginDir)
}
