// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package plugin

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wingedbean/wingedbean/internal/registry"
	"github.com/wingedbean/wingedbean/pkg/contract"
	"github.com/wingedbean/wingedbean/pkg/errutil"
)

var errShutdown = errors.New("host shutting down")

// Load creates a new instance of a plugin and opens its isolation boundary.
// Every required dependency must have an activated provider. Load never
// touches the registry. On failure the returned instance, if any, is Failed.
func (m *Manager) Load(ctx context.Context, pluginID string) (*Instance, error) {
	desc, ok := m.Descriptor(pluginID)
	if !ok {
		return nil, unknownPluginError(pluginID)
	}

	m.graphMu.Lock()
	m.mu.Lock()
	if cur, ok := m.instances[pluginID]; ok && !cur.State().Terminal() {
		m.mu.Unlock()
		m.graphMu.Unlock()
		return cur, invalidTransitionError(cur, "load", cur.State())
	}
	inst := newInstance(desc)
	m.instances[pluginID] = inst
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		m.graphMu.Unlock()
		return inst, m.failInstance(ctx, inst, lifecycleError(CodeCancelled, ErrCancelled, inst, "load", err), nil)
	}
	if missing := m.unresolved(desc); len(missing) > 0 {
		m.graphMu.Unlock()
		return inst, m.failInstance(ctx, inst, unresolvedError(inst, "load", missing), nil)
	}
	inst.begin(StateDiscovered, StateLoading)
	m.graphMu.Unlock()
	m.transitioned(inst, StateDiscovered, StateLoading)

	rt, ok := m.runtimes[desc.Type()]
	if !ok {
		err := oops.Code(CodeNoRuntime).
			In("plugin").
			With("plugin", desc.ID()).
			With("instance", inst.ID()).
			With("type", string(desc.Type())).
			Hint("configure the host with a runtime for this plugin type").
			Wrapf(ErrNoRuntime, "%s", desc.Type())
		return inst, m.failInstance(ctx, inst, err, nil)
	}

	ctx, span := m.tracer.Start(ctx, "plugin.Load", m.spanAttributes(inst))
	defer span.End()

	arena := NewArena(desc.ID(), inst.ID(), m.logger)
	module, err := rt.Open(ctx, desc, arena)
	if err == nil && module == nil {
		err = oops.In("plugin").With("plugin", desc.ID()).Errorf("runtime returned no module")
	}
	if err != nil || ctx.Err() != nil {
		if relErr := arena.Release(context.WithoutCancel(ctx)); relErr != nil {
			m.logger.Warn("release partially opened boundary",
				"plugin", desc.ID(),
				"instance", inst.ID(),
				"error", relErr)
		}
		lerr := cancelledOr(CodeLoadFailed, ErrLoadFailed, inst, "load", err, ctx.Err())
		span.RecordError(lerr)
		return inst, m.failInstance(ctx, inst, lerr, nil)
	}

	inst.setBoundary(&Boundary{module: module, arena: arena})
	inst.finish(StateLoaded)
	m.transitioned(inst, StateLoading, StateLoaded)
	return inst, nil
}

// Activate runs the plugin's activation hook and commits its registrations.
// Either every registration becomes visible or none does.
func (m *Manager) Activate(ctx context.Context, inst *Instance) error {
	m.graphMu.Lock()
	if _, ok := inst.begin(StateLoaded, StateActivating); !ok {
		m.graphMu.Unlock()
		return invalidTransitionError(inst, "activate", inst.State())
	}
	missing := m.unresolved(inst.Descriptor())
	m.graphMu.Unlock()
	m.transitioned(inst, StateLoaded, StateActivating)

	if len(missing) > 0 {
		return m.failInstance(ctx, inst, unresolvedError(inst, "activate", missing), nil)
	}

	module := inst.getBoundary().Module()
	staging := newStagingRegistrar(inst, m.enforcer)
	deps := &dependencyView{reg: m.registry, desc: inst.Descriptor()}

	res := m.runHook(ctx, inst, "activate", func(hctx context.Context) error {
		return module.Activate(hctx, staging, deps)
	})
	regs := staging.seal()
	if res.failed() {
		err := cancelledOr(CodeActivationFailed, ErrActivationFailed, inst, "activate", res.err, res.ctxErr)
		return m.failInstance(ctx, inst, err, res.finished)
	}

	if err := m.registry.Commit(inst.ID(), regs); err != nil {
		undo := m.runHook(ctx, inst, "deactivate", module.Deactivate)
		if undo.failed() {
			m.logger.Warn("deactivation after failed commit",
				"plugin", inst.Plugin(),
				"instance", inst.ID(),
				"error", errors.Join(undo.err, undo.ctxErr))
		}
		return m.failInstance(ctx, inst, lifecycleError(CodeActivationFailed, ErrActivationFailed, inst, "activate", err), undo.finished)
	}

	inst.setEntries(m.registry.Owned(inst.ID()))
	inst.finish(StateActivated)
	m.transitioned(inst, StateActivating, StateActivated)
	return nil
}

// Deactivate withdraws the instance's registrations, waits for in-flight
// calls to finish, and runs the deactivation hook. It is refused while
// another live instance depends on a contract only this instance provides.
func (m *Manager) Deactivate(ctx context.Context, inst *Instance) error {
	return m.deactivate(ctx, inst, true)
}

func (m *Manager) deactivate(ctx context.Context, inst *Instance, checkDependents bool) error {
	m.graphMu.Lock()
	if st := inst.State(); st != StateActivated {
		m.graphMu.Unlock()
		return invalidTransitionError(inst, "deactivate", st)
	}
	if checkDependents {
		if dependents := m.dependents(inst); len(dependents) > 0 {
			m.graphMu.Unlock()
			return dependentsError(inst, dependents)
		}
	}
	if from, ok := inst.begin(StateActivated, StateDeactivating); !ok {
		m.graphMu.Unlock()
		return invalidTransitionError(inst, "deactivate", from)
	}
	removed := m.registry.Deregister(inst.ID())
	m.graphMu.Unlock()
	inst.setEntries(nil)
	m.transitioned(inst, StateActivated, StateDeactivating)

	quiesce := inst.Descriptor().QuiesceTimeout()
	if quiesce == 0 {
		quiesce = m.quiesceTimeout
	}
	drainCtx, cancel := context.WithTimeout(ctx, quiesce)
	drainErr := m.registry.Drain(drainCtx, inst.ID())
	cancel()
	if err := ctx.Err(); err != nil {
		return m.failInstance(ctx, inst, lifecycleError(CodeCancelled, ErrCancelled, inst, "deactivate", err), nil)
	}
	if drainErr != nil {
		m.logger.Warn("in-flight calls outlived quiesce timeout",
			"plugin", inst.Plugin(),
			"instance", inst.ID(),
			"withdrawn", removed,
			"quiesce_timeout", quiesce)
	}

	module := inst.getBoundary().Module()
	res := m.runHook(ctx, inst, "deactivate", module.Deactivate)
	if res.failed() {
		err := cancelledOr(CodeDeactivationFailed, ErrDeactivationFailed, inst, "deactivate", res.err, res.ctxErr)
		return m.failInstance(ctx, inst, err, res.finished)
	}

	inst.finish(StateDeactivated)
	m.transitioned(inst, StateDeactivating, StateDeactivated)
	return nil
}

// Unload releases a deactivated instance's isolation boundary. Any other
// state is refused with ErrPluginBusy. A context that is already done leaves
// the instance Deactivated.
func (m *Manager) Unload(ctx context.Context, inst *Instance) error {
	if err := ctx.Err(); err != nil {
		return lifecycleError(CodeCancelled, ErrCancelled, inst, "unload", err)
	}
	if from, ok := inst.begin(StateDeactivated, StateUnloading); !ok {
		return oops.Code(CodePluginBusy).
			In("plugin").
			With("plugin", inst.Plugin()).
			With("instance", inst.ID()).
			With("state", from.String()).
			Hint("deactivate the plugin before unloading it").
			Wrapf(ErrPluginBusy, "unload from %s", from)
	}
	m.transitioned(inst, StateDeactivated, StateUnloading)

	if b := inst.detachBoundary(); b != nil {
		if err := b.Release(ctx); err != nil {
			return m.failInstance(ctx, inst, lifecycleError(CodeUnloadFailed, ErrUnloadFailed, inst, "unload", err), nil)
		}
	}

	inst.finish(StateUnloaded)
	m.transitioned(inst, StateUnloading, StateUnloaded)
	return nil
}

// Reload replaces an activated instance with a fresh one from the same
// descriptor. Like Deactivate it is refused while a live dependent relies on
// a contract only this instance provides, so a replacement that fails to
// load never strands a dependent. Returns the new instance.
func (m *Manager) Reload(ctx context.Context, inst *Instance) (*Instance, error) {
	if err := m.Deactivate(ctx, inst); err != nil {
		return nil, err
	}
	if err := m.Unload(ctx, inst); err != nil {
		return nil, err
	}
	return m.Enable(ctx, inst.Plugin())
}

// Enable loads and activates a plugin.
func (m *Manager) Enable(ctx context.Context, pluginID string) (*Instance, error) {
	inst, err := m.Load(ctx, pluginID)
	if err != nil {
		return inst, err
	}
	return inst, m.Activate(ctx, inst)
}

// Disable deactivates and unloads a plugin's current instance.
func (m *Manager) Disable(ctx context.Context, pluginID string) error {
	inst, ok := m.Instance(pluginID)
	if !ok {
		return unknownPluginError(pluginID)
	}
	if err := m.Deactivate(ctx, inst); err != nil {
		return err
	}
	return m.Unload(ctx, inst)
}

// Start enables every known plugin that has no live instance, providers
// before their dependents. Failures are logged and joined; plugins that do
// not depend on a failed plugin still start.
func (m *Manager) Start(ctx context.Context) error {
	ordered, err := Order(m.Descriptors())
	if err != nil {
		return err
	}

	var errs []error
	for _, d := range ordered {
		if inst, ok := m.Instance(d.ID()); ok && !inst.State().Terminal() {
			continue
		}
		if _, err := m.Enable(ctx, d.ID()); err != nil {
			errutil.LogError(m.logger, "plugin failed to start", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown deactivates and unloads every instance, dependents before their
// providers, then waits for boundaries whose release was deferred until a
// hook returned.
func (m *Manager) Shutdown(ctx context.Context) error {
	descs := m.Descriptors()
	if ordered, err := Order(descs); err == nil {
		descs = ordered
	}

	var errs []error
	for _, d := range slices.Backward(descs) {
		inst, ok := m.Instance(d.ID())
		if !ok {
			continue
		}
		switch inst.State() {
		case StateActivated:
			if err := m.deactivate(ctx, inst, false); err != nil {
				errs = append(errs, err)
				continue
			}
			if err := m.Unload(ctx, inst); err != nil {
				errs = append(errs, err)
			}
		case StateDeactivated:
			if err := m.Unload(ctx, inst); err != nil {
				errs = append(errs, err)
			}
		case StateLoaded:
			_ = m.failInstance(ctx, inst, lifecycleError(CodeCancelled, ErrCancelled, inst, "shutdown", errShutdown), nil)
		}
	}

	done := make(chan struct{})
	go func() {
		m.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, oops.In("plugin").Wrapf(ctx.Err(), "wait for pending boundary releases"))
	}
	return errors.Join(errs...)
}

// unresolved returns the required contracts of desc with no satisfying
// provider in the registry.
func (m *Manager) unresolved(desc *Descriptor) []contract.ID {
	var missing []contract.ID
	for _, req := range desc.requires {
		if !req.Optional && !m.providerAvailable(req, "") {
			missing = append(missing, req.Contract)
		}
	}
	return missing
}

// providerAvailable reports whether an entry not owned by exclude satisfies req.
func (m *Manager) providerAvailable(req Requirement, exclude string) bool {
	return slices.ContainsFunc(m.registry.ResolveAll(req.Contract), func(e registry.Entry) bool {
		return e.Owner != exclude && req.Allows(e.Metadata.Version)
	})
}

// dependents returns the plugins that would lose their last provider of a
// required contract if inst were deactivated.
func (m *Manager) dependents(inst *Instance) []string {
	owned := m.registry.Owned(inst.ID())
	var out []string
	for _, other := range m.liveInstances(inst) {
		for _, req := range other.Descriptor().requires {
			if req.Optional {
				continue
			}
			provides := slices.ContainsFunc(owned, func(e registry.Entry) bool {
				return e.Contract == req.Contract && req.Allows(e.Metadata.Version)
			})
			if provides && !m.providerAvailable(req, inst.ID()) {
				out = append(out, other.Plugin())
				break
			}
		}
	}
	slices.Sort(out)
	return out
}

// hookResult is the outcome of waiting for a lifecycle hook. finished is
// closed once the hook goroutine has returned, which may be after the wait
// ended when the context was cancelled.
type hookResult struct {
	err      error
	ctxErr   error
	finished <-chan struct{}
}

func (r hookResult) failed() bool { return r.err != nil || r.ctxErr != nil }

// runHook calls fn in its own goroutine and waits for it, bounded by ctx and
// the hook timeout.
func (m *Manager) runHook(ctx context.Context, inst *Instance, hook string, fn func(context.Context) error) hookResult {
	var (
		hctx   context.Context
		cancel context.CancelFunc
	)
	if m.hookTimeout > 0 {
		hctx, cancel = context.WithTimeout(ctx, m.hookTimeout)
	} else {
		hctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	hctx, span := m.tracer.Start(hctx, "plugin."+hook, m.spanAttributes(inst))
	defer span.End()

	start := time.Now()
	result := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		result <- callHook(hctx, fn)
	}()

	res := hookResult{finished: finished}
	select {
	case res.err = <-result:
		<-finished
		if res.err != nil {
			res.ctxErr = hctx.Err()
		}
	case <-hctx.Done():
		res.ctxErr = hctx.Err()
	}

	status := HookSuccess
	switch {
	case res.ctxErr != nil:
		status = HookCancelled
		span.RecordError(res.ctxErr)
	case res.err != nil:
		status = HookError
		span.RecordError(res.err)
	}
	recordHook(inst.Plugin(), hook, status, time.Since(start))
	return res
}

func callHook(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = oops.In("plugin").With("panic", r).Errorf("hook panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (m *Manager) spanAttributes(inst *Instance) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("plugin.id", inst.Plugin()),
		attribute.String("plugin.instance", inst.ID()),
		attribute.String("plugin.type", string(inst.Descriptor().Type())),
	)
}

// failInstance moves inst to Failed, withdraws anything it still owns, and
// releases its boundary once after is closed (immediately when nil).
func (m *Manager) failInstance(ctx context.Context, inst *Instance, err error, after <-chan struct{}) error {
	from, b := inst.fail(err)
	m.registry.Deregister(inst.ID())
	if b != nil {
		m.releaseAfter(ctx, inst, b, after)
	}

	recordTransition(inst.Plugin(), StateFailed)
	errutil.LogError(m.logger, "plugin failed", err)
	m.events.publish(Event{
		Plugin:   inst.Plugin(),
		Instance: inst.ID(),
		From:     from,
		To:       StateFailed,
		Err:      err,
		At:       time.Now(),
	})
	return err
}

func (m *Manager) releaseAfter(ctx context.Context, inst *Instance, b *Boundary, after <-chan struct{}) {
	ctx = context.WithoutCancel(ctx)
	release := func() {
		if err := b.Release(ctx); err != nil {
			m.logger.Warn("release boundary of failed plugin",
				"plugin", inst.Plugin(),
				"instance", inst.ID(),
				"error", err)
		}
	}

	if after == nil {
		release()
		return
	}
	select {
	case <-after:
		release()
		return
	default:
	}

	m.logger.Warn("hook still running after its wait ended; deferring boundary release",
		"plugin", inst.Plugin(),
		"instance", inst.ID())
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		<-after
		release()
	}()
}

func (m *Manager) transitioned(inst *Instance, from, to State) {
	recordTransition(inst.Plugin(), to)
	m.logger.Info("plugin state changed",
		"plugin", inst.Plugin(),
		"instance", inst.ID(),
		"from", from.String(),
		"to", to.String())
	m.events.publish(Event{
		Plugin:   inst.Plugin(),
		Instance: inst.ID(),
		From:     from,
		To:       to,
		At:       time.Now(),
	})
}
