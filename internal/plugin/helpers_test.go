// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package plugin_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wingedbean/wingedbean/internal/plugin"
	"github.com/wingedbean/wingedbean/internal/registry"
	"github.com/wingedbean/wingedbean/pkg/contract"
	"github.com/wingedbean/wingedbean/pkg/pluginsdk"
)

// Helper functions for creating test fixtures with secure permissions.
func mkdirAll(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0o750))
}

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, content, 0o600))
}

// descriptor builds a builtin descriptor from the fields tests care about.
func descriptor(t *testing.T, name string, opts ...func(*plugin.Manifest)) *plugin.Descriptor {
	t.Helper()
	m := &plugin.Manifest{
		Name:          name,
		Version:       "1.0.0",
		Type:          plugin.TypeBuiltin,
		BuiltinPlugin: &plugin.BuiltinConfig{Entry: name},
	}
	for _, opt := range opts {
		opt(m)
	}
	d, err := plugin.NewDescriptor(m, "")
	require.NoError(t, err)
	return d
}

func provides(patterns ...string) func(*plugin.Manifest) {
	return func(m *plugin.Manifest) { m.Provides = append(m.Provides, patterns...) }
}

func requires(contract string) func(*plugin.Manifest) {
	return func(m *plugin.Manifest) {
		m.Requires = append(m.Requires, plugin.RequirementSpec{Contract: contract})
	}
}

func requiresVersion(contract, constraint string) func(*plugin.Manifest) {
	return func(m *plugin.Manifest) {
		m.Requires = append(m.Requires, plugin.RequirementSpec{Contract: contract, Version: constraint})
	}
}

func optional(contract string) func(*plugin.Manifest) {
	return func(m *plugin.Manifest) {
		m.Requires = append(m.Requires, plugin.RequirementSpec{Contract: contract, Optional: true})
	}
}

func priority(p int) func(*plugin.Manifest) {
	return func(m *plugin.Manifest) { m.Priority = p }
}

func version(v string) func(*plugin.Manifest) {
	return func(m *plugin.Manifest) { m.Version = v }
}

func profiles(p ...string) func(*plugin.Manifest) {
	return func(m *plugin.Manifest) { m.Profiles = p }
}

func quiesce(d string) func(*plugin.Manifest) {
	return func(m *plugin.Manifest) { m.QuiesceTimeout = d }
}

// fakeRuntime serves builtin plugins from a map of modules and records
// every boundary it opens.
type fakeRuntime struct {
	mu      sync.Mutex
	modules map[string]func(scope pluginsdk.Scope) (pluginsdk.Module, error)
	opened  []*plugin.Arena
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{modules: make(map[string]func(pluginsdk.Scope) (pluginsdk.Module, error))}
}

func (r *fakeRuntime) Type() plugin.Type { return plugin.TypeBuiltin }

func (r *fakeRuntime) Open(_ context.Context, desc *plugin.Descriptor, arena *plugin.Arena) (pluginsdk.Module, error) {
	r.mu.Lock()
	r.opened = append(r.opened, arena)
	factory, ok := r.modules[desc.Entry()]
	r.mu.Unlock()
	if !ok {
		return pluginsdk.ModuleFuncs{}, nil
	}
	return factory(arena)
}

func (r *fakeRuntime) module(entry string, m pluginsdk.Module) {
	r.factory(entry, func(pluginsdk.Scope) (pluginsdk.Module, error) { return m, nil })
}

func (r *fakeRuntime) factory(entry string, f func(pluginsdk.Scope) (pluginsdk.Module, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[entry] = f
}

func (r *fakeRuntime) arenas() []*plugin.Arena {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*plugin.Arena(nil), r.opened...)
}

// registering returns a module registering impl for each contract.
func registering(impl any, contracts ...string) pluginsdk.Module {
	return pluginsdk.ModuleFuncs{
		OnActivate: func(_ context.Context, reg pluginsdk.Registrar, _ pluginsdk.Dependencies) error {
			for _, c := range contracts {
				if err := reg.Register(contract.ID(c), impl); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// newManager returns a manager over a fresh registry with the fake runtime
// and every descriptor added.
func newManager(t *testing.T, rt *fakeRuntime, descs ...*plugin.Descriptor) *plugin.Manager {
	t.Helper()
	mgr := plugin.NewManager(registry.New(), plugin.WithRuntime(rt))
	for _, d := range descs {
		require.NoError(t, mgr.AddDescriptor(d))
	}
	return mgr
}
