// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"

	"github.com/wingedbean/wingedbean/internal/config"
	"github.com/wingedbean/wingedbean/internal/contracts/recording"
	"github.com/wingedbean/wingedbean/internal/observability"
	"github.com/wingedbean/wingedbean/internal/plugin"
	"github.com/wingedbean/wingedbean/internal/plugin/builtin"
	"github.com/wingedbean/wingedbean/internal/plugin/goplugin"
	"github.com/wingedbean/wingedbean/internal/plugin/lua"
	"github.com/wingedbean/wingedbean/internal/registry"
)

// defaultRetryBase is the first delay between bootstrap attempts.
const defaultRetryBase = 500 * time.Millisecond

// Host wires the registry, the lifecycle manager and its runtimes.
type Host struct {
	Config   *config.Config
	Registry *registry.Registry
	Manager  *plugin.Manager
	Metrics  *prometheus.Registry
	Logger   *slog.Logger

	builtins  []*plugin.Descriptor
	retryBase time.Duration
	ready     atomic.Bool
}

// newHost builds a host from cfg. Nothing is discovered or started.
func newHost(cfg *config.Config, logger *slog.Logger, catalog *builtin.Catalog, clients goplugin.ClientFactory) (*Host, error) {
	policies, err := cfg.Policies()
	if err != nil {
		return nil, err
	}
	builtins, err := builtinDescriptors(version)
	if err != nil {
		return nil, err
	}

	reg := registry.New(registry.WithPolicies(policies), registry.WithLogger(logger))

	metrics := observability.NewRegistry()
	registry.RegisterMetrics(metrics)
	plugin.RegisterMetrics(metrics)

	mgr := plugin.NewManager(reg,
		plugin.WithRuntime(catalog),
		plugin.WithRuntime(lua.NewRuntime()),
		plugin.WithRuntime(goplugin.NewRuntime(goplugin.WithClientFactory(clients))),
		plugin.WithLogger(logger),
		plugin.WithTracer(otel.Tracer("github.com/wingedbean/wingedbean")),
		plugin.WithProfile(cfg.Plugins.Profile),
		plugin.WithHookTimeout(cfg.Plugins.HookTimeout),
		plugin.WithQuiesceTimeout(cfg.Plugins.QuiesceTimeout),
	)

	return &Host{
		Config:    cfg,
		Registry:  reg,
		Manager:   mgr,
		Metrics:   metrics,
		Logger:    logger,
		builtins:  builtins,
		retryBase: defaultRetryBase,
	}, nil
}

// Discover adds the builtin plugins and those found in the plugins directory.
func (h *Host) Discover(ctx context.Context) ([]*plugin.Descriptor, error) {
	return h.Manager.Discover(ctx,
		plugin.StaticSource(h.builtins),
		plugin.DirSource{Dir: h.Config.Plugins.Dir, Logger: h.Logger},
	)
}

// Start enables every discovered plugin. Plugins that fail are retried with
// exponential backoff up to the configured number of retries; a dependency
// cycle is not retried. The host is ready once Start returns.
func (h *Host) Start(ctx context.Context) error {
	defer h.ready.Store(true)

	attempt := 0
	backoff := retry.WithMaxRetries(uint64(h.Config.Plugins.ActivationRetries), retry.NewExponential(h.retryBase)) //nolint:gosec // validated non-negative
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := h.Manager.Start(ctx)
		if err == nil || errors.Is(err, plugin.ErrCyclicDependency) {
			return err
		}
		h.Logger.Warn("plugins failed to start",
			"attempt", attempt,
			"retries", h.Config.Plugins.ActivationRetries)
		return retry.RetryableError(err)
	})
}

// Ready reports whether bootstrap has finished.
func (h *Host) Ready() bool { return h.ready.Load() }

// Recorder returns a Recorder that follows the registry.
func (h *Host) Recorder() *recording.Proxy {
	return recording.NewProxy(h.Registry)
}

// Status lists every discovered plugin and its current instance.
func (h *Host) Status() []observability.PluginStatus {
	descs := h.Manager.Descriptors()
	statuses := make([]observability.PluginStatus, 0, len(descs))
	for _, d := range descs {
		st := observability.PluginStatus{
			Plugin:  d.ID(),
			Version: d.Version().String(),
			Type:    string(d.Type()),
			State:   plugin.StateDiscovered.String(),
		}
		if inst, ok := h.Manager.Instance(d.ID()); ok {
			st.Instance = inst.ID()
			st.State = inst.State().String()
			st.Since = inst.Since()
			for _, e := range inst.Registrations() {
				st.Contracts = append(st.Contracts, string(e.Contract))
			}
			if err := inst.Err(); err != nil {
				st.Error = err.Error()
			}
		}
		statuses = append(statuses, st)
	}
	return statuses
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
