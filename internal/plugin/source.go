// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package plugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

// ManifestFile is the manifest file name inside a plugin directory.
const ManifestFile = "plugin.yaml"

// Source supplies plugin descriptors.
type Source interface {
	Descriptors(ctx context.Context) ([]*Descriptor, error)
}

// DirSource discovers plugins in the subdirectories of Dir. Each plugin
// directory holds a plugin.yaml. Invalid plugins are logged and skipped.
type DirSource struct {
	Dir    string
	Logger *slog.Logger
}

// Descriptors implements Source. A missing directory yields no plugins.
func (s DirSource) Descriptors(ctx context.Context) ([]*Descriptor, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oops.In("plugin").With("dir", s.Dir).Wrapf(err, "read plugins directory")
	}

	var descs []*Descriptor
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() {
			continue
		}

		pluginDir := filepath.Join(s.Dir, entry.Name())
		manifestPath := filepath.Join(pluginDir, ManifestFile)

		data, err := os.ReadFile(manifestPath) //nolint:gosec // manifestPath is constructed from ReadDir entries
		if err != nil {
			logger.Warn("skipping plugin without manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}

		manifest, err := ParseManifest(data)
		if err != nil {
			logger.Warn("skipping plugin with invalid manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}

		desc, err := NewDescriptor(manifest, pluginDir)
		if err != nil {
			logger.Warn("skipping plugin with invalid manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}
		descs = append(descs, desc)
	}

	return descs, nil
}

// StaticSource supplies a fixed list of descriptors, typically builtin plugins.
type StaticSource []*Descriptor

// Descriptors implements Source.
func (s StaticSource) Descriptors(context.Context) ([]*Descriptor, error) {
	return append([]*Descriptor(nil), s...), nil
}
