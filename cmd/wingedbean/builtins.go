// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package main

import (
	"context"

	"github.com/Masterminds/semver/v3"

	"github.com/wingedbean/wingedbean/internal/contracts/recording"
	"github.com/wingedbean/wingedbean/internal/plugin"
	"github.com/wingedbean/wingedbean/internal/plugin/builtin"
	"github.com/wingedbean/wingedbean/pkg/pluginsdk"
)

// memoryRecorderPlugin is the fallback Recorder. Its priority is below the
// default so any discovered recorder plugin takes precedence.
const memoryRecorderPlugin = "memory-recorder"

// builtinCatalog returns the plugins compiled into the host.
func builtinCatalog() *builtin.Catalog {
	c := builtin.NewCatalog()
	c.MustAdd(memoryRecorderPlugin, func(context.Context, pluginsdk.Scope) (pluginsdk.Module, error) {
		return pluginsdk.ModuleFuncs{
			OnActivate: func(_ context.Context, reg pluginsdk.Registrar, _ pluginsdk.Dependencies) error {
				return reg.Register(recording.ContractID, recording.NewService(recording.NewMemory()),
					pluginsdk.WithName("in-memory recorder"))
			},
		}, nil
	})
	return c
}

// builtinDescriptors describes the catalog's plugins.
func builtinDescriptors(version string) ([]*plugin.Descriptor, error) {
	d, err := plugin.NewDescriptor(&plugin.Manifest{
		Name:          memoryRecorderPlugin,
		Version:       builtinVersion(version),
		Type:          plugin.TypeBuiltin,
		Priority:      -100,
		Provides:      []string{string(recording.ContractID)},
		BuiltinPlugin: &plugin.BuiltinConfig{Entry: memoryRecorderPlugin},
	}, "")
	if err != nil {
		return nil, err
	}
	return []*plugin.Descriptor{d}, nil
}

// builtinVersion returns version if it is strict semver, else 0.0.0-dev.
func builtinVersion(version string) string {
	if _, err := semver.StrictNewVersion(version); err != nil {
		return "0.0.0-dev"
	}
	return version
}
