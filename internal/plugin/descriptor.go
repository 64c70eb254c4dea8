// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package plugin

import (
	"path/filepath"
	"slices"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/wingedbean/wingedbean/pkg/contract"
)

// Requirement is a contract a plugin needs before it can load.
type Requirement struct {
	Contract contract.ID
	Optional bool
	// Constraint is the semver constraint text, empty for any version.
	Constraint string

	constraint *semver.Constraints
}

// Allows reports whether a provider at version satisfies the requirement.
// Providers with no parseable version only satisfy unconstrained requirements.
func (r Requirement) Allows(version string) bool {
	if r.constraint == nil {
		return true
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return r.constraint.Check(v)
}

type providePattern struct {
	pattern string
	glob    glob.Glob
}

// Descriptor is the immutable description of a discovered plugin.
type Descriptor struct {
	id       string
	version  *semver.Version
	typ      Type
	dir      string
	entry    string
	priority int
	provides []providePattern
	requires []Requirement
	profiles []string
	quiesce  time.Duration
}

// NewDescriptor builds a descriptor from a validated manifest. dir is the
// plugin's directory and may be empty for builtin plugins.
func NewDescriptor(m *Manifest, dir string) (*Descriptor, error) {
	if m == nil {
		return nil, oops.In("plugin").Errorf("manifest is nil")
	}
	if err := m.Validate(); err != nil {
		return nil, oops.In("plugin").With("plugin", m.Name).Wrap(err)
	}

	version, err := semver.StrictNewVersion(m.Version)
	if err != nil {
		return nil, oops.In("plugin").With("plugin", m.Name).Wrap(err)
	}

	d := &Descriptor{
		id:       m.Name,
		version:  version,
		typ:      m.Type,
		dir:      dir,
		priority: m.Priority,
		profiles: slices.Clone(m.Profiles),
	}

	switch m.Type {
	case TypeLua:
		d.entry = m.LuaPlugin.Entry
	case TypeBinary:
		d.entry = m.BinaryPlugin.Executable
	case TypeBuiltin:
		d.entry = m.BuiltinPlugin.Entry
	}

	for _, pattern := range m.Provides {
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, oops.In("plugin").With("plugin", m.Name).Wrap(err)
		}
		d.provides = append(d.provides, providePattern{pattern: pattern, glob: g})
	}

	for _, rs := range m.Requires {
		req := Requirement{
			Contract:   contract.ID(rs.Contract),
			Optional:   rs.Optional,
			Constraint: rs.Version,
		}
		if rs.Version != "" {
			c, err := semver.NewConstraint(rs.Version)
			if err != nil {
				return nil, oops.In("plugin").With("plugin", m.Name).Wrap(err)
			}
			req.constraint = c
		}
		d.requires = append(d.requires, req)
	}

	if m.QuiesceTimeout != "" {
		d.quiesce, err = time.ParseDuration(m.QuiesceTimeout)
		if err != nil {
			return nil, oops.In("plugin").With("plugin", m.Name).Wrap(err)
		}
	}

	return d, nil
}

// ID returns the plugin identifier.
func (d *Descriptor) ID() string { return d.id }

// Version returns the plugin version.
func (d *Descriptor) Version() *semver.Version { return d.version }

// Type returns the runtime the plugin runs in.
func (d *Descriptor) Type() Type { return d.typ }

// Dir returns the plugin directory, empty for builtin plugins.
func (d *Descriptor) Dir() string { return d.dir }

// Entry returns the runtime entry point as written in the manifest.
func (d *Descriptor) Entry() string { return d.entry }

// EntryPath returns the entry point resolved against the plugin directory.
func (d *Descriptor) EntryPath() string {
	if d.dir == "" || filepath.IsAbs(d.entry) {
		return d.entry
	}
	return filepath.Join(d.dir, d.entry)
}

// Priority returns the default priority of the plugin's registrations.
func (d *Descriptor) Priority() int { return d.priority }

// Provides returns the contract patterns the plugin may register.
func (d *Descriptor) Provides() []string {
	out := make([]string, len(d.provides))
	for i, p := range d.provides {
		out[i] = p.pattern
	}
	return out
}

// Offers reports whether the plugin declares it may provide id.
func (d *Descriptor) Offers(id contract.ID) bool {
	for _, p := range d.provides {
		if p.glob.Match(string(id)) {
			return true
		}
	}
	return false
}

// Requires returns the plugin's declared dependencies.
func (d *Descriptor) Requires() []Requirement {
	return slices.Clone(d.requires)
}

// Requirement returns the declared dependency on id.
func (d *Descriptor) Requirement(id contract.ID) (Requirement, bool) {
	for _, r := range d.requires {
		if r.Contract == id {
			return r, true
		}
	}
	return Requirement{}, false
}

// Profiles returns the host profiles the plugin supports. Empty means all.
func (d *Descriptor) Profiles() []string { return slices.Clone(d.profiles) }

// SupportsProfile reports whether the plugin runs under profile. An empty
// profile or an empty profile list matches everything.
func (d *Descriptor) SupportsProfile(profile string) bool {
	return profile == "" || len(d.profiles) == 0 || slices.Contains(d.profiles, profile)
}

// QuiesceTimeout returns how long deactivation waits for in-flight calls.
// Zero means the manager default.
func (d *Descriptor) QuiesceTimeout() time.Duration { return d.quiesce }
