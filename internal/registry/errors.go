// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package registry

import (
	"errors"

	"github.com/samber/oops"

	"github.com/wingedbean/wingedbean/pkg/contract"
)

// Error codes for registry failures.
const (
	CodeNotFound             = "NOT_FOUND"
	CodeAmbiguous            = "AMBIGUOUS"
	CodeRegistrationConflict = "REGISTRATION_CONFLICT"
	CodeInvalidRegistration  = "INVALID_REGISTRATION"
	CodeInvalidPolicy        = "INVALID_POLICY"
)

// Sentinel errors wrapped by every registry error, for use with errors.Is.
var (
	ErrNotFound             = errors.New("no implementation registered")
	ErrAmbiguous            = errors.New("more than one implementation registered")
	ErrRegistrationConflict = errors.New("registration conflicts with an existing implementation")
	ErrInvalidRegistration  = errors.New("invalid registration")
	ErrInvalidPolicy        = errors.New("invalid selection policy")
)

func notFoundError(id contract.ID, policy Policy) error {
	return oops.Code(CodeNotFound).
		In("registry").
		With("contract", string(id)).
		With("policy", policy.String()).
		Wrapf(ErrNotFound, "resolve %s", id)
}

func ambiguousError(id contract.ID, candidates int) error {
	return oops.Code(CodeAmbiguous).
		In("registry").
		With("contract", string(id)).
		With("candidates", candidates).
		Hint("use the highest-priority or all policy, or remove a provider").
		Wrapf(ErrAmbiguous, "resolve %s", id)
}

func conflictError(id contract.ID, owner string) error {
	return oops.Code(CodeRegistrationConflict).
		In("registry").
		With("contract", string(id)).
		With("owner", owner).
		Hint("the contract uses the one policy; register with AllowShared to coexist").
		Wrapf(ErrRegistrationConflict, "register %s", id)
}

func invalidRegistrationError(id contract.ID, owner, reason string) error {
	return oops.Code(CodeInvalidRegistration).
		In("registry").
		With("contract", string(id)).
		With("owner", owner).
		Wrapf(ErrInvalidRegistration, "%s", reason)
}
