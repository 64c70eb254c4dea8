// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

// Package goplugin runs binary plugins as subprocesses using HashiCorp's
// go-plugin system over gRPC. Each instance gets its own process, killed
// when the instance's boundary is released. Plugins reach their declared
// dependencies through a callback server on go-plugin's broker.
package goplugin

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync/atomic"

	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/samber/oops"

	"github.com/wingedbean/wingedbean/internal/plugin"
	"github.com/wingedbean/wingedbean/pkg/contract"
	"github.com/wingedbean/wingedbean/pkg/pluginsdk"
)

// Compile-time interface checks.
var (
	_ plugin.Runtime   = (*Runtime)(nil)
	_ contract.Invoker = (*service)(nil)
	_ pluginsdk.Host   = dependencyHost{}
)

// PluginClient wraps the go-plugin client for testability.
type PluginClient interface {
	// Client returns the gRPC client protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Kill terminates the plugin process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client for the given executable path.
	NewClient(execPath string) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct{}

// NewClient creates a real go-plugin client.
func (DefaultClientFactory) NewClient(execPath string) PluginClient {
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  pluginsdk.HandshakeConfig,
		Plugins:          pluginsdk.PluginMap(nil),
		Cmd:              exec.Command(execPath), // #nosec G204 -- execPath resolved from a validated plugin manifest
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolGRPC},
	})
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClientFactory replaces the factory used to start plugin processes.
func WithClientFactory(f ClientFactory) Option {
	return func(r *Runtime) {
		if f != nil {
			r.factory = f
		}
	}
}

// Runtime opens binary plugins.
type Runtime struct {
	factory ClientFactory
}

// NewRuntime creates a binary runtime.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{factory: DefaultClientFactory{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Type implements plugin.Runtime.
func (r *Runtime) Type() plugin.Type { return plugin.TypeBinary }

// Open starts the plugin process and dispenses its Binary implementation.
func (r *Runtime) Open(_ context.Context, desc *plugin.Descriptor, arena *plugin.Arena) (pluginsdk.Module, error) {
	execPath := desc.EntryPath()
	errb := oops.In("goplugin").
		With("plugin", desc.ID()).
		With("operation", "load").
		With("path", execPath)

	if _, err := os.Stat(execPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errb.Hint("plugin executable not found").Wrap(err)
		}
		return nil, errb.Hint("cannot access plugin executable").Wrap(err)
	}

	client := r.factory.NewClient(execPath)

	protocol, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, errb.Hint("failed to connect to plugin").Wrap(err)
	}

	raw, err := protocol.Dispense(pluginsdk.PluginName)
	if err != nil {
		client.Kill()
		return nil, errb.Hint("failed to dispense plugin").Wrap(err)
	}

	bin, ok := raw.(pluginsdk.Binary)
	if !ok {
		client.Kill()
		return nil, errb.Errorf("plugin dispensed %T, not a binary plugin", raw)
	}

	p := &process{bin: bin, scope: arena}
	if err := arena.Own(func(context.Context) error {
		p.released.Store(true)
		client.Kill()
		return nil
	}); err != nil {
		client.Kill()
		return nil, err
	}
	return &module{proc: p}, nil
}

// process is one running plugin executable.
type process struct {
	bin      pluginsdk.Binary
	scope    pluginsdk.Scope
	released atomic.Bool
}

func (p *process) releasedError(operation string) error {
	return oops.Code(plugin.CodeBoundaryReleased).
		In("goplugin").
		With("plugin", p.scope.PluginID()).
		With("instance", p.scope.InstanceID()).
		With("operation", operation).
		Wrap(plugin.ErrBoundaryReleased)
}

// module adapts a plugin process to pluginsdk.Module.
type module struct {
	proc *process
}

// Activate asks the process for its offers and registers one invoker per
// offered contract. The process calls back into deps through the host.
func (m *module) Activate(ctx context.Context, reg pluginsdk.Registrar, deps pluginsdk.Dependencies) error {
	p := m.proc
	if p.released.Load() {
		return p.releasedError("activate")
	}

	offers, err := p.bin.Activate(ctx, pluginsdk.ActivateRequest{
		PluginID:   p.scope.PluginID(),
		InstanceID: p.scope.InstanceID(),
	}, dependencyHost{deps: deps})
	if err != nil {
		return oops.In("goplugin").
			With("plugin", p.scope.PluginID()).
			With("operation", "activate").
			Wrap(err)
	}

	for _, offer := range offers {
		id := contract.ID(offer.Contract)
		svc := &service{proc: p, contract: id}
		if err := reg.Register(id, svc, offerOptions(offer)...); err != nil {
			return err
		}
	}
	return nil
}

// Deactivate forwards to the process.
func (m *module) Deactivate(ctx context.Context) error {
	p := m.proc
	if p.released.Load() {
		return p.releasedError("deactivate")
	}
	if err := p.bin.Deactivate(ctx); err != nil {
		return oops.In("goplugin").
			With("plugin", p.scope.PluginID()).
			With("operation", "deactivate").
			Wrap(err)
	}
	return nil
}

// dependencyHost serves a plugin process's callbacks from its dependency
// view, so every callback holds its provider's lease until it returns.
type dependencyHost struct {
	deps pluginsdk.Dependencies
}

// Invoke implements pluginsdk.Host.
func (h dependencyHost) Invoke(ctx context.Context, id, method string, payload []byte) ([]byte, error) {
	return pluginsdk.Invoke(ctx, h.deps, contract.ID(id), method, payload)
}

func offerOptions(o pluginsdk.Offer) []pluginsdk.RegisterOption {
	var opts []pluginsdk.RegisterOption
	if o.HasPriority {
		opts = append(opts, pluginsdk.WithPriority(o.Priority))
	}
	if o.Shared {
		opts = append(opts, pluginsdk.AllowShared())
	}
	if o.Name != "" {
		opts = append(opts, pluginsdk.WithName(o.Name))
	}
	for k, v := range o.Properties {
		opts = append(opts, pluginsdk.WithProperty(k, v))
	}
	return opts
}

// service forwards contract calls to the plugin process.
type service struct {
	proc     *process
	contract contract.ID
}

// Invoke implements contract.Invoker.
func (s *service) Invoke(ctx context.Context, method string, payload []byte) ([]byte, error) {
	if s.proc.released.Load() {
		return nil, s.proc.releasedError(method)
	}
	out, err := s.proc.bin.Invoke(ctx, string(s.contract), method, payload)
	if err != nil {
		return nil, oops.In("goplugin").
			With("plugin", s.proc.scope.PluginID()).
			With("contract", string(s.contract)).
			With("method", method).
			Wrap(err)
	}
	return out, nil
}
