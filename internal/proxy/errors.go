// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package proxy

import (
	"errors"
	"fmt"

	"github.com/samber/oops"

	"github.com/wingedbean/wingedbean/internal/registry"
)

// CodeTypeMismatch marks a registered handle that does not implement the
// proxy's Go type.
const CodeTypeMismatch = "TYPE_MISMATCH"

// ErrTypeMismatch is wrapped by type mismatch errors.
var ErrTypeMismatch = errors.New("registered implementation has the wrong type")

func typeMismatchError[T any](e registry.Entry) error {
	var want T
	return oops.Code(CodeTypeMismatch).
		In("proxy").
		With("contract", string(e.Contract)).
		With("owner", e.Owner).
		With("plugin", e.Metadata.Plugin).
		With("got", fmt.Sprintf("%T", e.Handle)).
		With("want", fmt.Sprintf("%T", &want)).
		Wrapf(ErrTypeMismatch, "resolve %s", e.Contract)
}
