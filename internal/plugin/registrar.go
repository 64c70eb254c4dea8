// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package plugin

import (
	"context"
	"slices"
	"sync"

	"github.com/samber/oops"

	"github.com/wingedbean/wingedbean/internal/plugin/capability"
	"github.com/wingedbean/wingedbean/internal/registry"
	"github.com/wingedbean/wingedbean/pkg/contract"
	"github.com/wingedbean/wingedbean/pkg/pluginsdk"
)

// stagingRegistrar collects an activation hook's registrations. Nothing is
// visible to consumers until the manager commits the batch. The registrar
// is sealed when the hook's wait ends, so a hook still running after
// cancellation cannot stage more.
type stagingRegistrar struct {
	inst     *Instance
	enforcer *capability.Enforcer

	mu     sync.Mutex
	sealed bool
	staged []registry.Registration
}

func newStagingRegistrar(inst *Instance, enforcer *capability.Enforcer) *stagingRegistrar {
	return &stagingRegistrar{inst: inst, enforcer: enforcer}
}

// Register implements pluginsdk.Registrar.
func (s *stagingRegistrar) Register(id contract.ID, impl any, opts ...pluginsdk.RegisterOption) error {
	desc := s.inst.Descriptor()
	if err := id.Validate(); err != nil {
		return oops.Code(registry.CodeInvalidRegistration).
			In("plugin").
			With("plugin", desc.ID()).
			Wrapf(registry.ErrInvalidRegistration, "register %q: %v", id, err)
	}
	if impl == nil {
		return oops.Code(registry.CodeInvalidRegistration).
			In("plugin").
			With("plugin", desc.ID()).
			With("contract", string(id)).
			Wrapf(registry.ErrInvalidRegistration, "register %s: implementation is nil", id)
	}
	if !s.enforcer.Check(desc.ID(), string(id)) {
		return oops.Code(CodeUndeclaredContract).
			In("plugin").
			With("plugin", desc.ID()).
			With("contract", string(id)).
			With("provides", desc.Provides()).
			Hint("add the contract to provides in plugin.yaml").
			Wrapf(ErrUndeclaredContract, "register %s", id)
	}

	o := pluginsdk.ApplyRegisterOptions(opts...)
	priority := desc.Priority()
	if o.Priority != nil {
		priority = *o.Priority
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return oops.Code(CodeRegistrarSealed).
			In("plugin").
			With("plugin", desc.ID()).
			With("contract", string(id)).
			Wrapf(ErrRegistrarSealed, "register %s after activation ended", id)
	}
	s.staged = append(s.staged, registry.Registration{
		Contract: id,
		Handle:   impl,
		Priority: priority,
		Shared:   o.Shared,
		Metadata: registry.Metadata{
			Plugin:     desc.ID(),
			Version:    desc.Version().String(),
			Name:       o.Name,
			Properties: o.Properties,
		},
	})
	return nil
}

// seal stops further staging and returns the batch.
func (s *stagingRegistrar) seal() []registry.Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
	return slices.Clone(s.staged)
}

// dependencyView is a plugin's read-only window onto the registry,
// restricted to the contracts it declared in requires and to providers
// satisfying the declared version constraint.
type dependencyView struct {
	reg  *registry.Registry
	desc *Descriptor
}

func (d *dependencyView) requirement(id contract.ID) (Requirement, error) {
	req, ok := d.desc.Requirement(id)
	if !ok {
		return Requirement{}, oops.Code(CodeUndeclaredDependency).
			In("plugin").
			With("plugin", d.desc.ID()).
			With("contract", string(id)).
			Hint("add the contract to requires in plugin.yaml").
			Wrapf(ErrUndeclaredDependency, "use %s", id)
	}
	return req, nil
}

func (d *dependencyView) allows(req Requirement) func(registry.Entry) bool {
	return func(e registry.Entry) bool { return req.Allows(e.Metadata.Version) }
}

// Use implements pluginsdk.Dependencies. The provider is leased until fn
// returns.
func (d *dependencyView) Use(ctx context.Context, id contract.ID, fn func(context.Context, any) error) error {
	req, err := d.requirement(id)
	if err != nil {
		return err
	}
	leases, err := d.reg.AcquireMatching(id, d.reg.PolicyFor(id), d.allows(req))
	if err != nil {
		return err
	}
	defer leases[0].Release()
	return fn(ctx, leases[0].Handle())
}

// UseAll implements pluginsdk.Dependencies.
func (d *dependencyView) UseAll(ctx context.Context, id contract.ID, fn func(context.Context, []any) error) error {
	req, err := d.requirement(id)
	if err != nil {
		return err
	}
	leases := d.reg.AcquireAllMatching(id, d.allows(req))
	defer func() {
		for _, l := range leases {
			l.Release()
		}
	}()
	impls := make([]any, len(leases))
	for i, l := range leases {
		impls[i] = l.Handle()
	}
	return fn(ctx, impls)
}

// Has implements pluginsdk.Dependencies.
func (d *dependencyView) Has(id contract.ID) bool {
	req, err := d.requirement(id)
	if err != nil {
		return false
	}
	return slices.ContainsFunc(d.reg.ResolveAll(id), d.allows(req))
}
