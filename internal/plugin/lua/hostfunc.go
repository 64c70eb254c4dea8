// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

// L is the idiomatic variable name for lua.LState in the gopher-lua community.
//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package lua

import (
	"context"

	"github.com/oklog/ulid/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/wingedbean/wingedbean/pkg/contract"
	"github.com/wingedbean/wingedbean/pkg/pluginsdk"
)

// newHostTable builds the `host` global handed to activate:
//
//	host.register(contract, service [, opts])  -> true | nil, err
//	host.invoke(contract, method [, payload])  -> result | nil, err
//	host.has(contract)                         -> bool
//	host.log(level, message)
//	host.new_request_id()                      -> ulid string
//
// opts may set priority, shared, name and properties.
func newHostTable(i *instance) *lua.LTable {
	L := i.L
	mod := L.NewTable()
	L.SetField(mod, "register", L.NewFunction(i.registerFn))
	L.SetField(mod, "invoke", L.NewFunction(i.invokeFn))
	L.SetField(mod, "has", L.NewFunction(i.hasFn))
	L.SetField(mod, "log", L.NewFunction(i.logFn))
	L.SetField(mod, "new_request_id", L.NewFunction(newRequestIDFn))
	return mod
}

// pushError pushes nil followed by an error string to the Lua stack and returns 2.
func pushError(L *lua.LState, errMsg string) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(errMsg))
	return 2
}

// registerFn stages a service table as a contract.Invoker. Only valid while
// activate is running.
func (i *instance) registerFn(L *lua.LState) int {
	id := contract.ID(L.CheckString(1))
	table := L.CheckTable(2)
	opts := registerOptions(L.OptTable(3, nil))

	if i.reg == nil {
		return pushError(L, "host.register is only available during activate")
	}
	if err := i.reg.Register(id, &service{inst: i, contract: id, table: table}, opts...); err != nil {
		return pushError(L, err.Error())
	}
	L.Push(lua.LTrue)
	return 1
}

func registerOptions(t *lua.LTable) []pluginsdk.RegisterOption {
	if t == nil {
		return nil
	}
	var opts []pluginsdk.RegisterOption
	if p, ok := t.RawGetString("priority").(lua.LNumber); ok {
		opts = append(opts, pluginsdk.WithPriority(int(p)))
	}
	if lua.LVAsBool(t.RawGetString("shared")) {
		opts = append(opts, pluginsdk.AllowShared())
	}
	if name, ok := t.RawGetString("name").(lua.LString); ok {
		opts = append(opts, pluginsdk.WithName(string(name)))
	}
	if props, ok := t.RawGetString("properties").(*lua.LTable); ok {
		props.ForEach(func(k, v lua.LValue) {
			opts = append(opts, pluginsdk.WithProperty(k.String(), v.String()))
		})
	}
	return opts
}

// invokeFn calls a declared dependency. The call runs on the state's bound
// context, so it inherits the caller's cancellation.
func (i *instance) invokeFn(L *lua.LState) int {
	id := contract.ID(L.CheckString(1))
	method := L.CheckString(2)
	payload := L.OptString(3, "")

	if i.deps == nil {
		return pushError(L, "host.invoke is not available outside activate and service calls")
	}
	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out, err := pluginsdk.Invoke(ctx, i.deps, id, method, []byte(payload))
	if err != nil {
		return pushError(L, err.Error())
	}
	L.Push(lua.LString(out))
	return 1
}

func (i *instance) hasFn(L *lua.LState) int {
	id := contract.ID(L.CheckString(1))
	L.Push(lua.LBool(i.deps != nil && i.deps.Has(id)))
	return 1
}

func (i *instance) logFn(L *lua.LState) int {
	level := L.CheckString(1)
	message := L.CheckString(2)

	logger := i.scope.Logger()
	switch level {
	case "debug":
		logger.Debug(message)
	case "info":
		logger.Info(message)
	case "warn":
		logger.Warn(message)
	case "error":
		logger.Error(message)
	default:
		logger.Info(message)
	}
	return 0
}

func newRequestIDFn(L *lua.LState) int {
	L.Push(lua.LString(ulid.Make().String()))
	return 1
}
