// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package main

import (
	"context"
	"os"

	"github.com/wingedbean/wingedbean/internal/observability"
	"github.com/wingedbean/wingedbean/internal/plugin/builtin"
	"github.com/wingedbean/wingedbean/internal/plugin/goplugin"
)

// RunDeps contains injectable dependencies for the run command.
// All fields with nil values will use their default implementations.
type RunDeps struct {
	// Catalog holds the builtin plugins compiled into the host.
	// Default: builtinCatalog
	Catalog *builtin.Catalog

	// ClientFactory starts binary plugin processes.
	// Default: goplugin.DefaultClientFactory
	ClientFactory goplugin.ClientFactory

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, opts ...observability.Option) ObservabilityServer

	// Signals returns a channel of shutdown signals and a stop function.
	// Default: signal.Notify for SIGINT and SIGTERM
	Signals func() (<-chan os.Signal, func())

	// Ready is called once plugins have been started. Tests use it to
	// interact with a running host.
	Ready func(h *Host)
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}
