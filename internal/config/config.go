// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

// Package config loads host configuration from a YAML file and command-line
// flags. A flag set on the command line wins over the file, and the file wins
// over flag defaults.
package config

import (
	"errors"
	"io/fs"
	"sort"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/wingedbean/wingedbean/internal/logging"
	"github.com/wingedbean/wingedbean/internal/registry"
	"github.com/wingedbean/wingedbean/internal/xdg"
	"github.com/wingedbean/wingedbean/pkg/contract"
)

// CodeInvalidConfig marks configuration errors.
const CodeInvalidConfig = "INVALID_CONFIG"

// Defaults.
const (
	DefaultHookTimeout       = 30 * time.Second
	DefaultQuiesceTimeout    = 10 * time.Second
	DefaultActivationRetries = 3
	DefaultMetricsAddr       = "127.0.0.1:9100"
	DefaultLogFormat         = logging.FormatJSON
	DefaultLogLevel          = "info"
)

// Config is the host configuration.
type Config struct {
	Plugins PluginsConfig `koanf:"plugins"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
	// Contracts maps a contract id to its selection policy name. Dotted ids
	// arrive as nested maps.
	Contracts map[string]any `koanf:"contracts"`
}

// PluginsConfig configures discovery and the lifecycle manager.
type PluginsConfig struct {
	Dir               string        `koanf:"dir"`
	Profile           string        `koanf:"profile"`
	HookTimeout       time.Duration `koanf:"hook-timeout"`
	QuiesceTimeout    time.Duration `koanf:"quiesce-timeout"`
	ActivationRetries int           `koanf:"activation-retries"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// MetricsConfig configures the observability server. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"plugins-dir":        "plugins.dir",
	"profile":            "plugins.profile",
	"hook-timeout":       "plugins.hook-timeout",
	"quiesce-timeout":    "plugins.quiesce-timeout",
	"activation-retries": "plugins.activation-retries",
	"log-format":         "log.format",
	"log-level":          "log.level",
	"metrics-addr":       "metrics.addr",
}

// RegisterFlags adds the configuration flags.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("plugins-dir", xdg.PluginsDir(), "directory plugins are discovered in")
	flags.String("profile", "", "only enable plugins supporting this profile (empty = all)")
	flags.Duration("hook-timeout", DefaultHookTimeout, "bound on a single activation or deactivation hook (0 = none)")
	flags.Duration("quiesce-timeout", DefaultQuiesceTimeout, "how long deactivation waits for in-flight calls")
	flags.Int("activation-retries", DefaultActivationRetries, "bootstrap retries for plugins that failed to activate")
	flags.String("log-format", DefaultLogFormat, "log format (json or text)")
	flags.String("log-level", DefaultLogLevel, "log level (debug, info, warn, error)")
	flags.String("metrics-addr", DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
}

// Load reads path, if it exists, and overlays flags. A missing file is only
// an error when required is set. flags may be nil.
func Load(path string, required bool, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if required || !errors.Is(err, fs.ErrNotExist) {
				return nil, oops.Code(CodeInvalidConfig).
					In("config").
					With("path", path).
					Hint("check the config file exists and is valid YAML").
					Wrapf(err, "load config file")
			}
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, f.Value.String()
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code(CodeInvalidConfig).In("config").Wrapf(err, "load flags")
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(CodeInvalidConfig).
			In("config").
			With("path", path).
			Wrapf(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when neither file nor flags set a key.
func Default() Config {
	return Config{
		Plugins: PluginsConfig{
			Dir:               xdg.PluginsDir(),
			HookTimeout:       DefaultHookTimeout,
			QuiesceTimeout:    DefaultQuiesceTimeout,
			ActivationRetries: DefaultActivationRetries,
		},
		Log:     LogConfig{Format: DefaultLogFormat, Level: DefaultLogLevel},
		Metrics: MetricsConfig{Addr: DefaultMetricsAddr},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	invalid := func(key string, value any, format string, args ...any) error {
		return oops.Code(CodeInvalidConfig).
			In("config").
			With("key", key).
			With("value", value).
			Errorf(format, args...)
	}

	if c.Plugins.Dir == "" {
		return invalid("plugins.dir", c.Plugins.Dir, "plugins.dir is required")
	}
	if c.Plugins.HookTimeout < 0 {
		return invalid("plugins.hook-timeout", c.Plugins.HookTimeout, "plugins.hook-timeout must not be negative")
	}
	if c.Plugins.QuiesceTimeout < 0 {
		return invalid("plugins.quiesce-timeout", c.Plugins.QuiesceTimeout, "plugins.quiesce-timeout must not be negative")
	}
	if c.Plugins.ActivationRetries < 0 {
		return invalid("plugins.activation-retries", c.Plugins.ActivationRetries, "plugins.activation-retries must not be negative")
	}
	if err := logging.ValidateFormat(c.Log.Format); err != nil {
		return oops.Code(CodeInvalidConfig).In("config").With("key", "log.format").Wrap(err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.Code(CodeInvalidConfig).In("config").With("key", "log.level").Wrap(err)
	}
	if _, err := c.Policies(); err != nil {
		return err
	}
	return nil
}

// Policies returns the configured per-contract selection policies.
func (c *Config) Policies() (map[contract.ID]registry.Policy, error) {
	flat := make(map[string]string)
	if err := flatten("", c.Contracts, flat); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(flat))
	for id := range flat {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	policies := make(map[contract.ID]registry.Policy, len(ids))
	for _, id := range ids {
		cid := contract.ID(id)
		if err := cid.Validate(); err != nil {
			return nil, oops.Code(CodeInvalidConfig).In("config").With("key", "contracts."+id).Wrap(err)
		}
		p, err := registry.ParsePolicy(flat[id])
		if err != nil {
			return nil, oops.Code(CodeInvalidConfig).In("config").With("key", "contracts."+id).Wrap(err)
		}
		policies[cid] = p
	}
	return policies, nil
}

func flatten(prefix string, m map[string]any, out map[string]string) error {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case string:
			out[key] = val
		case map[string]any:
			if err := flatten(key, val, out); err != nil {
				return err
			}
		default:
			return oops.Code(CodeInvalidConfig).
				In("config").
				With("key", "contracts."+key).
				Errorf("contracts.%s must be a policy name", key)
		}
	}
	return nil
}
