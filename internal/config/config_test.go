// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfort Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfort/keyfort/internal/config"
)

func TestDefault(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")

	cfg := config.Default()
	assert.Equal(t, "/custom/data/keyfort/plugins", cfg.PluginDir)
	assert.Equal(t, ".plugin", cfg.ModuleSuffix)
	assert.Equal(t, "127.0.0.1:9100", cfg.MetricsAddr)
	assert.True(t, cfg.ControlSocket)
	assert.Equal(t, "json", cfg.LogFormat)
	require.NoError(t, cfg.Validate())
}

func TestLoad_NoSources(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyfort.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
plugin-dir: /opt/keyfort/plugins
module-suffix: .so
metrics-addr: ""
control-socket: false
log-format: text
permissions:
  media-player:
    - drm.certificates
    - media.*
`), 0o600))

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/opt/keyfort/plugins", cfg.PluginDir)
	assert.Equal(t, ".so", cfg.ModuleSuffix)
	assert.Empty(t, cfg.MetricsAddr)
	assert.False(t, cfg.ControlSocket)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, []string{"drm.certificates", "media.*"}, cfg.Permissions["media-player"])
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyfort.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plugin-dir: /from/file\nlog-format: text\n"), 0o600))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("plugin-dir", "/flag/default", "")
	flags.String("log-format", "json", "")
	require.NoError(t, flags.Set("plugin-dir", "/from/flag"))

	cfg, err := config.Load(path, flags)
	require.NoError(t, err)

	// An explicitly set flag wins; an unchanged flag defers to the file.
	assert.Equal(t, "/from/flag", cfg.PluginDir)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyfort.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plugin-dir: [unclosed"), 0o600))

	_, err := config.Load(path, nil)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"valid", func(*config.Config) {}, ""},
		{"missing plugin dir", func(c *config.Config) { c.PluginDir = "" }, "plugin-dir"},
		{"missing suffix", func(c *config.Config) { c.ModuleSuffix = "" }, "module-suffix"},
		{"bad log format", func(c *config.Config) { c.LogFormat = "xml" }, "log-format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestEnsurePluginDir(t *testing.T) {
	cfg := config.Default()
	cfg.PluginDir = filepath.Join(t.TempDir(), "plugins")

	require.NoError(t, cfg.EnsurePluginDir())
	info, err := os.Stat(cfg.PluginDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Idempotent
	require.NoError(t, cfg.EnsurePluginDir())
}
