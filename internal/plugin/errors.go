// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package plugin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"

	"github.com/wingedbean/wingedbean/pkg/contract"
)

// Error codes for lifecycle failures.
const (
	CodeUnknownPlugin         = "UNKNOWN_PLUGIN"
	CodeDuplicatePlugin       = "DUPLICATE_PLUGIN"
	CodeDependencyUnresolved  = "DEPENDENCY_UNRESOLVED"
	CodeInvalidTransition     = "INVALID_TRANSITION"
	CodeLoadFailed            = "LOAD_FAILED"
	CodeActivationFailed      = "ACTIVATION_FAILED"
	CodeDeactivationFailed    = "DEACTIVATION_FAILED"
	CodeUnloadFailed          = "UNLOAD_FAILED"
	CodePluginBusy            = "PLUGIN_BUSY"
	CodeDependentsStillActive = "DEPENDENTS_STILL_ACTIVE"
	CodeCancelled             = "CANCELLED"
	CodeNoRuntime             = "NO_RUNTIME"
	CodeCyclicDependency      = "CYCLIC_DEPENDENCY"
	CodeUndeclaredContract    = "UNDECLARED_CONTRACT"
	CodeUndeclaredDependency  = "UNDECLARED_DEPENDENCY"
	CodeRegistrarSealed       = "REGISTRAR_SEALED"
	CodeBoundaryReleased      = "BOUNDARY_RELEASED"
)

// Sentinel errors wrapped by lifecycle errors, for use with errors.Is.
//
// oops reports the innermost code of a wrapped chain, so an activation that
// failed because of a registry conflict carries REGISTRATION_CONFLICT as its
// code while still matching ErrActivationFailed.
var (
	ErrUnknownPlugin         = errors.New("unknown plugin")
	ErrDuplicatePlugin       = errors.New("plugin already discovered")
	ErrDependencyUnresolved  = errors.New("required dependency unresolved")
	ErrInvalidTransition     = errors.New("invalid lifecycle transition")
	ErrLoadFailed            = errors.New("load failed")
	ErrActivationFailed      = errors.New("activation failed")
	ErrDeactivationFailed    = errors.New("deactivation failed")
	ErrUnloadFailed          = errors.New("unload failed")
	ErrPluginBusy            = errors.New("plugin is busy")
	ErrDependentsStillActive = errors.New("dependents still active")
	ErrCancelled             = errors.New("lifecycle operation cancelled")
	ErrNoRuntime             = errors.New("no runtime for plugin type")
	ErrCyclicDependency      = errors.New("cyclic dependency")
	ErrUndeclaredContract    = errors.New("contract not declared in provides")
	ErrUndeclaredDependency  = errors.New("contract not declared in requires")
	ErrRegistrarSealed       = errors.New("registrar is sealed")
	ErrBoundaryReleased      = errors.New("isolation boundary released")
)

// lifecycleError builds a coded error for an instance. cause may be nil.
func lifecycleError(code string, sentinel error, inst *Instance, operation string, cause error) error {
	b := oops.Code(code).
		In("plugin").
		With("plugin", inst.Plugin()).
		With("instance", inst.ID()).
		With("operation", operation)
	if cause == nil {
		return b.Wrap(sentinel)
	}
	return b.Wrap(fmt.Errorf("%w: %w", sentinel, cause))
}

func invalidTransitionError(inst *Instance, operation string, from State) error {
	return oops.Code(CodeInvalidTransition).
		In("plugin").
		With("plugin", inst.Plugin()).
		With("instance", inst.ID()).
		With("operation", operation).
		With("state", from.String()).
		Wrapf(ErrInvalidTransition, "%s from %s", operation, from)
}

func unknownPluginError(id string) error {
	return oops.Code(CodeUnknownPlugin).
		In("plugin").
		With("plugin", id).
		Hint("discover the plugin before loading it").
		Wrapf(ErrUnknownPlugin, "%s", id)
}

func unresolvedError(inst *Instance, operation string, missing []contract.ID) error {
	names := make([]string, len(missing))
	for i, id := range missing {
		names[i] = string(id)
	}
	return oops.Code(CodeDependencyUnresolved).
		In("plugin").
		With("plugin", inst.Plugin()).
		With("instance", inst.ID()).
		With("operation", operation).
		With("missing", names).
		Hint("activate a provider of each missing contract first").
		Wrapf(ErrDependencyUnresolved, "%s", strings.Join(names, ", "))
}

func dependentsError(inst *Instance, dependents []string) error {
	return oops.Code(CodeDependentsStillActive).
		In("plugin").
		With("plugin", inst.Plugin()).
		With("instance", inst.ID()).
		With("dependents", dependents).
		Hint("deactivate the dependents first").
		Wrapf(ErrDependentsStillActive, "%s", strings.Join(dependents, ", "))
}

// cancelledOr classifies err as Cancelled when ctxErr is set.
func cancelledOr(code string, sentinel error, inst *Instance, operation string, err, ctxErr error) error {
	if ctxErr != nil {
		return lifecycleError(CodeCancelled, ErrCancelled, inst, operation, ctxErr)
	}
	return lifecycleError(code, sentinel, inst, operation, err)
}
