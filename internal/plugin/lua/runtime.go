// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package lua

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/wingedbean/wingedbean/internal/plugin"
	"github.com/wingedbean/wingedbean/pkg/pluginsdk"
)

// Global names a plugin script defines.
const (
	activateFn   = "activate"
	deactivateFn = "deactivate"
)

// Compile-time interface check.
var _ plugin.Runtime = (*Runtime)(nil)

// Runtime opens Lua plugins. Each instance gets its own sandboxed state,
// closed when the instance's boundary is released.
type Runtime struct {
	factory *StateFactory
}

// NewRuntime creates a Lua runtime.
func NewRuntime() *Runtime {
	return &Runtime{factory: NewStateFactory()}
}

// Type implements plugin.Runtime.
func (r *Runtime) Type() plugin.Type { return plugin.TypeLua }

// Open reads the plugin's entry script and runs its top-level chunk in a
// fresh state.
func (r *Runtime) Open(ctx context.Context, desc *plugin.Descriptor, arena *plugin.Arena) (pluginsdk.Module, error) {
	entryPath := desc.EntryPath()
	code, err := os.ReadFile(filepath.Clean(entryPath))
	if err != nil {
		return nil, oops.In("lua").
			With("plugin", desc.ID()).
			With("operation", "load").
			With("path", entryPath).
			Hint("failed to read entry file").
			Wrap(err)
	}

	L, err := r.factory.NewState(ctx)
	if err != nil {
		return nil, oops.In("lua").
			With("plugin", desc.ID()).
			With("operation", "load").
			Hint("failed to create state").
			Wrap(err)
	}

	inst := &instance{L: L, scope: arena}
	if err := arena.Own(inst.close); err != nil {
		L.Close()
		return nil, err
	}

	inst.host = newHostTable(inst)
	L.SetGlobal("host", inst.host)

	L.SetContext(ctx)
	err = L.DoString(string(code))
	L.RemoveContext()
	if err != nil {
		return nil, oops.In("lua").
			With("plugin", desc.ID()).
			With("operation", "load").
			With("entry", desc.Entry()).
			Hint("syntax or runtime error in entry script").
			Wrap(err)
	}

	return &module{inst: inst}, nil
}

// instance is one plugin's Lua state. Every call into L holds mu; gopher-lua
// states are not safe for concurrent use.
type instance struct {
	L     *lua.LState
	scope pluginsdk.Scope
	host  *lua.LTable

	mu       sync.Mutex
	released bool
	reg      pluginsdk.Registrar
	deps     pluginsdk.Dependencies
}

// close runs when the boundary is released. Later calls into the instance
// fail with plugin.ErrBoundaryReleased.
func (i *instance) close(context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return nil
	}
	i.released = true
	i.reg = nil
	i.deps = nil
	i.L.Close()
	return nil
}

// releasedError reports a call into an instance whose boundary is gone.
func (i *instance) releasedError(operation string) error {
	return oops.Code(plugin.CodeBoundaryReleased).
		In("lua").
		With("plugin", i.scope.PluginID()).
		With("instance", i.scope.InstanceID()).
		With("operation", operation).
		Wrap(plugin.ErrBoundaryReleased)
}

// call invokes a global function, if defined, with ctx bound to the state.
// Caller holds mu.
func (i *instance) call(ctx context.Context, name string, nret int, args ...lua.LValue) ([]lua.LValue, error) {
	fn := i.L.GetGlobal(name)
	if fn.Type() == lua.LTNil {
		return nil, nil
	}
	return i.callValue(ctx, name, fn, nret, args...)
}

// callValue calls fn with ctx bound to the state. Caller holds mu.
func (i *instance) callValue(ctx context.Context, name string, fn lua.LValue, nret int, args ...lua.LValue) ([]lua.LValue, error) {
	if fn.Type() != lua.LTFunction {
		return nil, oops.In("lua").
			With("plugin", i.scope.PluginID()).
			With("function", name).
			Errorf("%s is a %s, not a function", name, fn.Type())
	}

	i.L.SetContext(ctx)
	defer i.L.RemoveContext()

	top := i.L.GetTop()
	if err := i.L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    nret,
		Protect: true,
	}, args...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, oops.In("lua").
				With("plugin", i.scope.PluginID()).
				With("function", name).
				Wrap(ctxErr)
		}
		return nil, oops.In("lua").
			With("plugin", i.scope.PluginID()).
			With("function", name).
			Wrap(err)
	}

	rets := make([]lua.LValue, 0, nret)
	for n := top + 1; n <= i.L.GetTop(); n++ {
		rets = append(rets, i.L.Get(n))
	}
	i.L.SetTop(top)
	return rets, nil
}

// module adapts a Lua instance to pluginsdk.Module.
type module struct {
	inst *instance
}

// Activate calls the script's activate(host). The registrar and
// dependencies are bound to the instance for host.register and host.invoke.
// A script may signal failure by raising an error or returning false and a
// message.
func (m *module) Activate(ctx context.Context, reg pluginsdk.Registrar, deps pluginsdk.Dependencies) error {
	i := m.inst
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return i.releasedError(activateFn)
	}

	i.reg = reg
	i.deps = deps
	rets, err := i.call(ctx, activateFn, 2, i.host)
	i.reg = nil
	if err != nil {
		return err
	}
	return scriptFailure(i, activateFn, rets)
}

// Deactivate calls the script's deactivate(), if defined.
func (m *module) Deactivate(ctx context.Context) error {
	i := m.inst
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return i.releasedError(deactivateFn)
	}

	rets, err := i.call(ctx, deactivateFn, 2)
	i.deps = nil
	if err != nil {
		return err
	}
	return scriptFailure(i, deactivateFn, rets)
}

// scriptFailure turns a `return false, "message"` result into an error.
func scriptFailure(i *instance, name string, rets []lua.LValue) error {
	if len(rets) == 0 || rets[0] != lua.LFalse {
		return nil
	}
	msg := "returned false"
	if len(rets) > 1 && rets[1] != lua.LNil {
		msg = rets[1].String()
	}
	return oops.In("lua").
		With("plugin", i.scope.PluginID()).
		With("function", name).
		Errorf("%s: %s", name, msg)
}
