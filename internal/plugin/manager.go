// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package plugin

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/wingedbean/wingedbean/internal/plugin/capability"
	"github.com/wingedbean/wingedbean/internal/registry"
)

// Default timeouts.
const (
	DefaultHookTimeout    = 30 * time.Second
	DefaultQuiesceTimeout = 5 * time.Second
)

// Manager discovers plugins and drives each instance through its lifecycle.
//
// Per-instance transitions are serialized by the instance's state: an
// operation claims the instance by moving it into an in-progress state and
// a concurrent operation observes InvalidTransition. Dependency checks and
// the transitions they guard run under one manager-wide lock so that loading
// a plugin and deactivating its provider cannot interleave.
type Manager struct {
	registry       *registry.Registry
	enforcer       *capability.Enforcer
	runtimes       map[Type]Runtime
	logger         *slog.Logger
	tracer         trace.Tracer
	profile        string
	hookTimeout    time.Duration
	quiesceTimeout time.Duration

	mu          sync.RWMutex
	descriptors map[string]*Descriptor
	instances   map[string]*Instance

	graphMu sync.Mutex
	events  subscribers
	pending sync.WaitGroup
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithRuntime registers a runtime for its plugin type.
func WithRuntime(rt Runtime) ManagerOption {
	return func(m *Manager) {
		m.runtimes[rt.Type()] = rt
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithTracer sets the tracer used for lifecycle spans. Defaults to a no-op tracer.
func WithTracer(tracer trace.Tracer) ManagerOption {
	return func(m *Manager) {
		m.tracer = tracer
	}
}

// WithProfile sets the host profile. Plugins that list profiles are only
// discovered when the host profile is among them.
func WithProfile(profile string) ManagerOption {
	return func(m *Manager) {
		m.profile = profile
	}
}

// WithHookTimeout bounds activation and deactivation hooks. Zero disables the bound.
func WithHookTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.hookTimeout = d
	}
}

// WithQuiesceTimeout sets how long deactivation waits for in-flight calls
// when the plugin does not set its own timeout.
func WithQuiesceTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.quiesceTimeout = d
	}
}

// WithEnforcer sets the contract grant enforcer.
func WithEnforcer(e *capability.Enforcer) ManagerOption {
	return func(m *Manager) {
		m.enforcer = e
	}
}

// NewManager creates a plugin manager registering into reg.
func NewManager(reg *registry.Registry, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry:       reg,
		enforcer:       capability.NewEnforcer(),
		runtimes:       make(map[Type]Runtime),
		logger:         slog.Default(),
		tracer:         noop.NewTracerProvider().Tracer("wingedbean/plugin"),
		hookTimeout:    DefaultHookTimeout,
		quiesceTimeout: DefaultQuiesceTimeout,
		descriptors:    make(map[string]*Descriptor),
		instances:      make(map[string]*Instance),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.events.logger = m.logger
	return m
}

// Registry returns the registry instances register into.
func (m *Manager) Registry() *registry.Registry { return m.registry }

// Subscribe registers h for lifecycle events and returns a function that
// removes it.
func (m *Manager) Subscribe(h Handler) (unsubscribe func()) {
	return m.events.subscribe(h)
}

// Discover adds the descriptors supplied by sources. Descriptors that do not
// support the host profile, or whose id is already known, are logged and
// skipped. Returns the descriptors added.
func (m *Manager) Discover(ctx context.Context, sources ...Source) ([]*Descriptor, error) {
	var added []*Descriptor
	for _, src := range sources {
		descs, err := src.Descriptors(ctx)
		if err != nil {
			return added, err
		}
		for _, d := range descs {
			if !d.SupportsProfile(m.profile) {
				m.logger.Info("skipping plugin for other profiles",
					"plugin", d.ID(),
					"profile", m.profile,
					"profiles", d.Profiles())
				continue
			}
			if err := m.AddDescriptor(d); err != nil {
				m.logger.Warn("skipping plugin",
					"plugin", d.ID(),
					"error", err)
				continue
			}
			added = append(added, d)
		}
	}
	return added, nil
}

// AddDescriptor makes a plugin known to the manager and grants it the
// contracts it declares.
func (m *Manager) AddDescriptor(d *Descriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.descriptors[d.ID()]; ok {
		return oops.Code(CodeDuplicatePlugin).
			In("plugin").
			With("plugin", d.ID()).
			Wrapf(ErrDuplicatePlugin, "%s", d.ID())
	}
	if err := m.enforcer.SetGrants(d.ID(), d.Provides()); err != nil {
		return oops.In("plugin").With("plugin", d.ID()).Wrap(err)
	}
	m.descriptors[d.ID()] = d
	return nil
}

// Descriptor returns a known descriptor.
func (m *Manager) Descriptor(id string) (*Descriptor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.descriptors[id]
	return d, ok
}

// Descriptors returns every known descriptor sorted by id.
func (m *Manager) Descriptors() []*Descriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Descriptor, 0, len(m.descriptors))
	for _, d := range m.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Instance returns the most recent instance of a plugin.
func (m *Manager) Instance(pluginID string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[pluginID]
	return inst, ok
}

// Instances returns the most recent instance of every plugin that has been
// loaded, sorted by plugin id.
func (m *Manager) Instances() []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Plugin() < out[j].Plugin() })
	return out
}

// liveInstances returns instances in Loading through Activated, except skip.
func (m *Manager) liveInstances(skip *Instance) []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Instance
	for _, inst := range m.instances {
		if inst != skip && inst.State().Live() {
			out = append(out, inst)
		}
	}
	return out
}
