// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package lua

import (
	"context"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/wingedbean/wingedbean/pkg/contract"
)

// Compile-time interface check.
var _ contract.Invoker = (*service)(nil)

// service exposes a Lua table registered with host.register. Invoke calls
// table:method(payload); a function returning nil, "message" fails the call.
type service struct {
	inst     *instance
	contract contract.ID
	table    *lua.LTable
}

// Invoke implements contract.Invoker.
func (s *service) Invoke(ctx context.Context, method string, payload []byte) ([]byte, error) {
	i := s.inst
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return nil, i.releasedError(method)
	}

	fn := s.table.RawGetString(method)
	if fn.Type() == lua.LTNil {
		return nil, oops.Code("UNKNOWN_METHOD").
			In("lua").
			With("plugin", i.scope.PluginID()).
			With("contract", string(s.contract)).
			With("method", method).
			Errorf("%s has no method %q", s.contract, method)
	}

	rets, err := i.callValue(ctx, method, fn, 2, s.table, lua.LString(payload))
	if err != nil {
		return nil, oops.In("lua").
			With("contract", string(s.contract)).
			With("method", method).
			Wrap(err)
	}

	result, msg := rets[0], rets[1]
	if result == lua.LNil && msg != lua.LNil {
		return nil, oops.In("lua").
			With("plugin", i.scope.PluginID()).
			With("contract", string(s.contract)).
			With("method", method).
			Errorf("%s", msg.String())
	}
	if result == lua.LNil {
		return nil, nil
	}
	return []byte(result.String()), nil
}
