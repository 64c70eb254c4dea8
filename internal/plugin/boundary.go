// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package plugin

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/oops"

	"github.com/wingedbean/wingedbean/pkg/pluginsdk"
)

// Runtime opens isolation boundaries for one plugin type.
type Runtime interface {
	// Type returns the plugin type this runtime serves.
	Type() Type

	// Open realizes desc inside a fresh boundary. Every resource the runtime
	// creates must be attached to arena so that releasing the arena frees it.
	// On error the manager releases the arena.
	Open(ctx context.Context, desc *Descriptor, arena *Arena) (pluginsdk.Module, error)
}

// Boundary is the isolation boundary of one plugin instance: the plugin's
// module and the arena owning everything it allocated.
type Boundary struct {
	module pluginsdk.Module
	arena  *Arena
}

// Module returns the plugin's module.
func (b *Boundary) Module() pluginsdk.Module { return b.module }

// Release frees every resource the boundary owns.
func (b *Boundary) Release(ctx context.Context) error {
	return b.arena.Release(ctx)
}

// Arena owns the resources of one isolation boundary and implements
// pluginsdk.Scope for in-process plugins.
type Arena struct {
	pluginID   string
	instanceID string
	logger     *slog.Logger

	mu       sync.Mutex
	releases []func(context.Context) error
	released bool
}

// NewArena creates an arena for an instance.
func NewArena(pluginID, instanceID string, logger *slog.Logger) *Arena {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arena{
		pluginID:   pluginID,
		instanceID: instanceID,
		logger:     logger.With("plugin", pluginID, "instance", instanceID),
	}
}

// PluginID implements pluginsdk.Scope.
func (a *Arena) PluginID() string { return a.pluginID }

// InstanceID implements pluginsdk.Scope.
func (a *Arena) InstanceID() string { return a.instanceID }

// Logger implements pluginsdk.Scope.
func (a *Arena) Logger() *slog.Logger { return a.logger }

// Own attaches a release function. Fails once the arena has been released.
func (a *Arena) Own(release func(context.Context) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return oops.Code(CodeBoundaryReleased).
			In("plugin").
			With("plugin", a.pluginID).
			With("instance", a.instanceID).
			Wrap(ErrBoundaryReleased)
	}
	a.releases = append(a.releases, release)
	return nil
}

// Released reports whether Release has been called.
func (a *Arena) Released() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.released
}

// Release runs the attached release functions, most recent first, and
// joins their errors. Later calls are no-ops.
func (a *Arena) Release(ctx context.Context) error {
	a.mu.Lock()
	if a.released {
		a.mu.Unlock()
		return nil
	}
	a.released = true
	releases := a.releases
	a.releases = nil
	a.mu.Unlock()

	var errs []error
	for _, release := range slices.Backward(releases) {
		if err := release(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
