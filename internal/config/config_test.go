// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedbean/wingedbean/internal/config"
	"github.com/wingedbean/wingedbean/internal/registry"
	"github.com/wingedbean/wingedbean/pkg/contract"
	"github.com/wingedbean/wingedbean/pkg/errutil"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func flagSet(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")

	cfg, err := config.Load("", false, flagSet(t))
	require.NoError(t, err)

	assert.Equal(t, "/data/wingedbean/plugins", cfg.Plugins.Dir)
	assert.Equal(t, config.DefaultHookTimeout, cfg.Plugins.HookTimeout)
	assert.Equal(t, config.DefaultQuiesceTimeout, cfg.Plugins.QuiesceTimeout)
	assert.Equal(t, config.DefaultActivationRetries, cfg.Plugins.ActivationRetries)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, config.DefaultMetricsAddr, cfg.Metrics.Addr)
	assert.Empty(t, cfg.Plugins.Profile)
}

func TestLoad_NoFlags(t *testing.T) {
	cfg, err := config.Load("", false, nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), *cfg)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, `
plugins:
  dir: /srv/plugins
  profile: console
  hook-timeout: 5s
log:
  format: text
`)

	cfg, err := config.Load(path, true, flagSet(t, "--profile", "server", "--activation-retries", "7"))
	require.NoError(t, err)

	assert.Equal(t, "/srv/plugins", cfg.Plugins.Dir, "file beats flag default")
	assert.Equal(t, 5*time.Second, cfg.Plugins.HookTimeout)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "server", cfg.Plugins.Profile, "explicit flag beats file")
	assert.Equal(t, 7, cfg.Plugins.ActivationRetries)
	assert.Equal(t, config.DefaultQuiesceTimeout, cfg.Plugins.QuiesceTimeout, "flag default fills unset keys")
}

func TestLoad_MetricsCanBeDisabled(t *testing.T) {
	cfg, err := config.Load("", false, flagSet(t, "--metrics-addr="))
	require.NoError(t, err)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	_, err := config.Load(missing, false, nil)
	require.NoError(t, err, "an optional file may be missing")

	_, err = config.Load(missing, true, nil)
	errutil.AssertErrorCode(t, err, config.CodeInvalidConfig)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		code    string
		key     string
	}{
		{"bad yaml", "plugins: [", config.CodeInvalidConfig, ""},
		{"negative hook timeout", "plugins:\n  hook-timeout: -1s\n", config.CodeInvalidConfig, "plugins.hook-timeout"},
		{"negative retries", "plugins:\n  activation-retries: -2\n", config.CodeInvalidConfig, "plugins.activation-retries"},
		{"non-string policy", "contracts:\n  Recorder: [one]\n", config.CodeInvalidConfig, "contracts.Recorder"},
		{"bad log format", "log:\n  format: xml\n", "INVALID_LOG_FORMAT", "log.format"},
		{"bad log level", "log:\n  level: loud\n", "INVALID_LOG_LEVEL", "log.level"},
		{"bad policy", "contracts:\n  Recorder: random\n", registry.CodeInvalidPolicy, "contracts.Recorder"},
		{"bad contract id", "contracts:\n  9lives: one\n", "INVALID_CONTRACT_ID", "contracts.9lives"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tt.content), true, nil)
			errutil.AssertErrorCode(t, err, tt.code)
			if tt.key != "" {
				errutil.AssertErrorContext(t, err, "key", tt.key)
			}
		})
	}
}

func TestConfig_Policies(t *testing.T) {
	path := writeConfig(t, `
contracts:
  Recorder: all
  Clock: one
  asciinema.Player: highest-priority
`)
	cfg, err := config.Load(path, true, nil)
	require.NoError(t, err)

	policies, err := cfg.Policies()
	require.NoError(t, err)
	assert.Equal(t, map[contract.ID]registry.Policy{
		"Recorder":         registry.All,
		"Clock":            registry.One,
		"asciinema.Player": registry.HighestPriority,
	}, policies)
}
