// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

// Package contract defines the identifiers plugins and consumers use to name
// shared service contracts.
//
// A contract is named by a dotted identifier such as "Recorder" or
// "Terminal.Renderer". The Go type that implements a contract is bound to its
// identifier with a Key, which lets registration and lookup stay type-checked
// at the call site while the registry itself stores untyped handles.
package contract

import (
	"context"
	"regexp"

	"github.com/samber/oops"
)

// ID names a service contract.
type ID string

// idPattern accepts dot-separated segments. Each segment starts with a letter
// and may contain letters, digits, underscores, and hyphens.
var idPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*(\.[A-Za-z][A-Za-z0-9_-]*)*$`)

// maxIDLength bounds contract identifiers.
const maxIDLength = 128

// Validate checks that the identifier is well-formed.
func (id ID) Validate() error {
	if id == "" {
		return oops.Code("INVALID_CONTRACT_ID").In("contract").Errorf("contract id is empty")
	}
	if len(id) > maxIDLength {
		return oops.Code("INVALID_CONTRACT_ID").In("contract").
			With("contract", string(id)).
			Errorf("contract id must be %d characters or less, got %d", maxIDLength, len(id))
	}
	if !idPattern.MatchString(string(id)) {
		return oops.Code("INVALID_CONTRACT_ID").In("contract").
			With("contract", string(id)).
			Hint("use dot-separated segments of letters, digits, '_' or '-'").
			Errorf("contract id %q is malformed", id)
	}
	return nil
}

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// Key binds a contract identifier to the Go type implementing it.
type Key[T any] struct {
	id ID
}

// NewKey returns the key for contract id implemented by T.
func NewKey[T any](id ID) Key[T] {
	return Key[T]{id: id}
}

// ID returns the contract identifier.
func (k Key[T]) ID() ID { return k.id }

// Invoker is the contract shape used across isolation boundaries that cannot
// share Go types, such as Lua scripts and plugin subprocesses. Payloads are
// opaque to the host; by convention they carry JSON.
type Invoker interface {
	Invoke(ctx context.Context, method string, payload []byte) ([]byte, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, method string, payload []byte) ([]byte, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, method string, payload []byte) ([]byte, error) {
	return f(ctx, method, payload)
}
