// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package pluginsdk

import (
	"context"
	"log/slog"
	"maps"

	"github.com/samber/oops"

	"github.com/wingedbean/wingedbean/pkg/contract"
)

// Module is the entry point every plugin implements, whatever its runtime.
type Module interface {
	// Activate registers the plugin's contract implementations. Registrations
	// only become visible to consumers if Activate returns nil.
	Activate(ctx context.Context, reg Registrar, deps Dependencies) error
	// Deactivate runs after the plugin's implementations have been withdrawn
	// and every in-flight call into them has returned.
	Deactivate(ctx context.Context) error
}

// ModuleFuncs adapts a pair of functions to Module. A nil function is a no-op.
type ModuleFuncs struct {
	OnActivate   func(ctx context.Context, reg Registrar, deps Dependencies) error
	OnDeactivate func(ctx context.Context) error
}

// Activate implements Module.
func (m ModuleFuncs) Activate(ctx context.Context, reg Registrar, deps Dependencies) error {
	if m.OnActivate == nil {
		return nil
	}
	return m.OnActivate(ctx, reg, deps)
}

// Deactivate implements Module.
func (m ModuleFuncs) Deactivate(ctx context.Context) error {
	if m.OnDeactivate == nil {
		return nil
	}
	return m.OnDeactivate(ctx)
}

// Registrar stages contract implementations during activation.
type Registrar interface {
	Register(id contract.ID, impl any, opts ...RegisterOption) error
}

// RegisterOptions holds the optional settings of a registration.
type RegisterOptions struct {
	// Priority overrides the plugin's declared priority when set.
	Priority   *int
	Shared     bool
	Name       string
	Properties map[string]string
}

// RegisterOption configures a registration.
type RegisterOption func(*RegisterOptions)

// WithPriority overrides the plugin's declared priority for one registration.
func WithPriority(priority int) RegisterOption {
	return func(o *RegisterOptions) {
		o.Priority = &priority
	}
}

// AllowShared lets the registration coexist with other implementations of a
// contract whose policy is one.
func AllowShared() RegisterOption {
	return func(o *RegisterOptions) {
		o.Shared = true
	}
}

// WithName attaches a human-readable implementation name.
func WithName(name string) RegisterOption {
	return func(o *RegisterOptions) {
		o.Name = name
	}
}

// WithProperty attaches a metadata property.
func WithProperty(key, value string) RegisterOption {
	return func(o *RegisterOptions) {
		if o.Properties == nil {
			o.Properties = make(map[string]string)
		}
		o.Properties[key] = value
	}
}

// ApplyRegisterOptions folds opts into a RegisterOptions value.
func ApplyRegisterOptions(opts ...RegisterOption) RegisterOptions {
	var o RegisterOptions
	for _, opt := range opts {
		opt(&o)
	}
	o.Properties = maps.Clone(o.Properties)
	return o
}

// Register stages impl as the implementation of key's contract.
func Register[T any](reg Registrar, key contract.Key[T], impl T, opts ...RegisterOption) error {
	return reg.Register(key.ID(), impl, opts...)
}

// Dependencies is a plugin's read-only view of the contracts it declared it
// requires. Implementations are only reachable inside Use and UseAll: the
// provider is leased for the duration of the callback, so deactivating it
// waits for the callback to return. Do not retain an implementation past
// its callback.
type Dependencies interface {
	// Use leases the implementation selected under the contract's policy and
	// passes it to fn.
	Use(ctx context.Context, id contract.ID, fn func(ctx context.Context, impl any) error) error
	// UseAll leases every implementation, highest priority first, and passes
	// them to fn. A contract with no implementation passes an empty slice.
	UseAll(ctx context.Context, id contract.ID, fn func(ctx context.Context, impls []any) error) error
	// Has reports whether the contract currently has an implementation.
	Has(id contract.ID) bool
}

// Use leases key's contract, asserts its Go type and passes it to fn.
func Use[T any](ctx context.Context, deps Dependencies, key contract.Key[T], fn func(ctx context.Context, impl T) error) error {
	return deps.Use(ctx, key.ID(), func(ctx context.Context, impl any) error {
		typed, ok := impl.(T)
		if !ok {
			return oops.Code("TYPE_MISMATCH").
				In("pluginsdk").
				With("contract", string(key.ID())).
				Errorf("implementation of %s has type %T", key.ID(), impl)
		}
		return fn(ctx, typed)
	})
}

// Invoke calls method on an Invoker dependency, holding its lease until the
// call returns.
func Invoke(ctx context.Context, deps Dependencies, id contract.ID, method string, payload []byte) ([]byte, error) {
	var out []byte
	err := Use(ctx, deps, contract.NewKey[contract.Invoker](id), func(ctx context.Context, inv contract.Invoker) error {
		var err error
		out, err = inv.Invoke(ctx, method, payload)
		return err
	})
	return out, err
}

// Scope is handed to in-process plugins when their isolation boundary opens.
// Everything attached with Own is released when the boundary is released,
// most recently attached first.
type Scope interface {
	PluginID() string
	InstanceID() string
	Logger() *slog.Logger
	Own(release func(context.Context) error) error
}
