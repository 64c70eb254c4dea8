// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

// Package builtin runs plugins compiled into the host binary.
package builtin

import (
	"context"
	"slices"
	"sync"

	"github.com/samber/oops"

	"github.com/wingedbean/wingedbean/internal/plugin"
	"github.com/wingedbean/wingedbean/pkg/pluginsdk"
)

// Factory builds a fresh module for one instance. State the module needs
// must live in the returned value, never in package variables, so that a
// reloaded instance starts clean.
type Factory func(ctx context.Context, scope pluginsdk.Scope) (pluginsdk.Module, error)

// Catalog is the runtime for builtin plugins: a set of factories keyed by
// the entry name in the plugin's manifest.
//
// Catalog is safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Add registers a factory under entry. Adding an entry twice is an error.
func (c *Catalog) Add(entry string, f Factory) error {
	if entry == "" {
		return oops.In("builtin").Errorf("entry name cannot be empty")
	}
	if f == nil {
		return oops.In("builtin").With("entry", entry).Errorf("factory is nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.factories[entry]; ok {
		return oops.In("builtin").With("entry", entry).Errorf("entry %q already registered", entry)
	}
	c.factories[entry] = f
	return nil
}

// MustAdd is Add for package initialization. Panics on error.
func (c *Catalog) MustAdd(entry string, f Factory) {
	if err := c.Add(entry, f); err != nil {
		panic(err)
	}
}

// Entries returns the registered entry names, sorted.
func (c *Catalog) Entries() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.factories))
	for entry := range c.factories {
		out = append(out, entry)
	}
	slices.Sort(out)
	return out
}

// Type implements plugin.Runtime.
func (c *Catalog) Type() plugin.Type { return plugin.TypeBuiltin }

// Open implements plugin.Runtime.
func (c *Catalog) Open(ctx context.Context, desc *plugin.Descriptor, arena *plugin.Arena) (pluginsdk.Module, error) {
	c.mu.RLock()
	f, ok := c.factories[desc.Entry()]
	c.mu.RUnlock()
	if !ok {
		return nil, oops.In("builtin").
			With("plugin", desc.ID()).
			With("entry", desc.Entry()).
			Hint("add the module to the host's builtin catalog").
			Errorf("no builtin module named %q", desc.Entry())
	}

	module, err := f(ctx, arena)
	if err != nil {
		return nil, oops.In("builtin").
			With("plugin", desc.ID()).
			With("entry", desc.Entry()).
			Wrapf(err, "create module")
	}
	return module, nil
}
