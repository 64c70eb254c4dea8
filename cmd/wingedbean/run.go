// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/wingedbean/wingedbean/internal/config"
	"github.com/wingedbean/wingedbean/internal/logging"
	"github.com/wingedbean/wingedbean/internal/observability"
	"github.com/wingedbean/wingedbean/internal/plugin"
	"github.com/wingedbean/wingedbean/internal/plugin/goplugin"
	"github.com/wingedbean/wingedbean/pkg/errutil"
)

// shutdownGrace bounds shutdown beyond the configured hook and quiesce timeouts.
const shutdownGrace = 5 * time.Second

// NewRunCmd creates the run subcommand. deps may be nil.
func NewRunCmd(deps *RunDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the plugin host",
		Long: `Discover plugins, activate them in dependency order and serve until
interrupted. Plugins are deactivated in reverse order on shutdown.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runWithDeps(cmd.Context(), cfg, cmd, deps)
		},
	}
}

func withDefaults(deps *RunDeps) *RunDeps {
	d := RunDeps{}
	if deps != nil {
		d = *deps
	}
	if d.Catalog == nil {
		d.Catalog = builtinCatalog()
	}
	if d.ClientFactory == nil {
		d.ClientFactory = goplugin.DefaultClientFactory{}
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, opts ...observability.Option) ObservabilityServer {
			return observability.NewServer(addr, opts...)
		}
	}
	if d.Signals == nil {
		d.Signals = func() (<-chan os.Signal, func()) {
			ch := make(chan os.Signal, 1)
			signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
			return ch, func() { signal.Stop(ch) }
		}
	}
	return &d
}

// runWithDeps runs the host until a signal arrives or ctx is done.
func runWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *RunDeps) error {
	deps = withDefaults(deps)

	logger, err := logging.New(logging.Options{
		Service: "wingedbean",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
		Writer:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	h, err := newHost(cfg, logger, deps.Catalog, deps.ClientFactory)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	descs, err := h.Discover(ctx)
	if err != nil {
		return oops.In("run").With("dir", cfg.Plugins.Dir).Wrapf(err, "discover plugins")
	}
	logger.Info("plugins discovered",
		"count", len(descs),
		"dir", cfg.Plugins.Dir,
		"profile", cfg.Plugins.Profile)

	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr,
			observability.WithRegistry(h.Metrics),
			observability.WithReadiness(h.Ready),
			observability.WithStatusReporter(h.Status),
		)
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.In("run").With("addr", cfg.Metrics.Addr).Wrapf(err, "start observability server")
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
	}

	sigCh, stopSignals := deps.Signals()
	defer stopSignals()

	startErr := h.Start(ctx)
	if errors.Is(startErr, plugin.ErrCyclicDependency) {
		stopServer(obsServer)
		return startErr
	}
	if startErr != nil {
		errutil.LogError(logger, "host started with failed plugins", startErr)
	}

	cmd.Println("WingedBean started")
	logger.Info("host ready", "plugins", len(h.Manager.Instances()))
	if deps.Ready != nil {
		deps.Ready(h)
	}

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	timeout := cfg.Plugins.HookTimeout + cfg.Plugins.QuiesceTimeout + shutdownGrace
	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer shutdownCancel()

	if err := h.Manager.Shutdown(shutdownCtx); err != nil {
		errutil.LogError(logger, "plugin shutdown incomplete", err)
	}
	stopServer(obsServer)

	logger.Info("shutdown complete")
	return nil
}

func stopServer(s ObservabilityServer) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		slog.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels ctx when the server reports an error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
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
	}
}
