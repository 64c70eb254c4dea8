// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

// Package plugin discovers plugins and drives their lifecycle.
package plugin

import (
	"fmt"
	"regexp"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/wingedbean/wingedbean/pkg/contract"
)

// Type identifies the plugin runtime.
type Type string

// Plugin types supported by the system.
const (
	TypeBuiltin Type = "builtin"
	TypeLua     Type = "lua"
	TypeBinary  Type = "binary"
)

// Manifest represents a plugin.yaml file.
type Manifest struct {
	Name           string            `yaml:"name" json:"name" jsonschema:"minLength=1,maxLength=64,pattern=^[a-z]([a-z0-9-]*[a-z0-9])?$"`
	Version        string            `yaml:"version" json:"version" jsonschema:"minLength=1"`
	Type           Type              `yaml:"type" json:"type" jsonschema:"enum=builtin,enum=lua,enum=binary"`
	Priority       int               `yaml:"priority,omitempty" json:"priority,omitempty"`
	Provides       []string          `yaml:"provides,omitempty" json:"provides,omitempty"`
	Requires       []RequirementSpec `yaml:"requires,omitempty" json:"requires,omitempty"`
	Profiles       []string          `yaml:"profiles,omitempty" json:"profiles,omitempty"`
	QuiesceTimeout string            `yaml:"quiesce-timeout,omitempty" json:"quiesce-timeout,omitempty"`
	LuaPlugin      *LuaConfig        `yaml:"lua-plugin,omitempty" json:"lua-plugin,omitempty"`
	BinaryPlugin   *BinaryConfig     `yaml:"binary-plugin,omitempty" json:"binary-plugin,omitempty"`
	BuiltinPlugin  *BuiltinConfig    `yaml:"builtin-plugin,omitempty" json:"builtin-plugin,omitempty"`
}

// RequirementSpec declares a contract the plugin depends on.
type RequirementSpec struct {
	Contract string `yaml:"contract" json:"contract"`
	Optional bool   `yaml:"optional,omitempty" json:"optional,omitempty"`
	// Version is a semver constraint on the providing plugin's version.
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
}

// LuaConfig holds Lua-specific configuration.
type LuaConfig struct {
	Entry string `yaml:"entry" json:"entry"`
}

// BinaryConfig holds binary plugin configuration.
type BinaryConfig struct {
	Executable string `yaml:"executable" json:"executable"`
}

// BuiltinConfig names a module compiled into the host.
type BuiltinConfig struct {
	Entry string `yaml:"entry" json:"entry"`
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: must start with lowercase letter,
// followed by lowercase letters, digits, or hyphens.
// Cannot end with a hyphen. Single character names are allowed.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ParseManifest parses and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return fmt.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return fmt.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q is not a valid semantic version: %w", m.Version, err)
	}

	for i, pattern := range m.Provides {
		if pattern == "" {
			return fmt.Errorf("provides[%d]: empty contract pattern", i)
		}
		if _, err := glob.Compile(pattern, '.'); err != nil {
			return fmt.Errorf("provides[%d] (%q): %w", i, pattern, err)
		}
	}

	for i, req := range m.Requires {
		if err := contract.ID(req.Contract).Validate(); err != nil {
			return fmt.Errorf("requires[%d]: %w", i, err)
		}
		if req.Version != "" {
			if _, err := semver.NewConstraint(req.Version); err != nil {
				return fmt.Errorf("requires[%d] (%s): invalid version constraint %q: %w", i, req.Contract, req.Version, err)
			}
		}
	}

	for i, profile := range m.Profiles {
		if profile == "" {
			return fmt.Errorf("profiles[%d]: empty profile name", i)
		}
	}

	if m.QuiesceTimeout != "" {
		d, err := time.ParseDuration(m.QuiesceTimeout)
		if err != nil {
			return fmt.Errorf("quiesce-timeout %q: %w", m.QuiesceTimeout, err)
		}
		if d < 0 {
			return fmt.Errorf("quiesce-timeout must not be negative, got %s", d)
		}
	}

	switch m.Type {
	case TypeLua:
		if m.LuaPlugin == nil {
			return fmt.Errorf("lua-plugin is required when type is lua")
		}
		if m.LuaPlugin.Entry == "" {
			return fmt.Errorf("lua-plugin.entry is required")
		}
	case TypeBinary:
		if m.BinaryPlugin == nil {
			return fmt.Errorf("binary-plugin is required when type is binary")
		}
		if m.BinaryPlugin.Executable == "" {
			return fmt.Errorf("binary-plugin.executable is required")
		}
	case TypeBuiltin:
		if m.BuiltinPlugin == nil {
			return fmt.Errorf("builtin-plugin is required when type is builtin")
		}
		if m.BuiltinPlugin.Entry == "" {
			return fmt.Errorf("builtin-plugin.entry is required")
		}
	default:
		return fmt.Errorf("type must be 'builtin', 'lua' or 'binary', got %q", m.Type)
	}

	return nil
}
