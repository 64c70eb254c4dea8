// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package plugin

// State is a plugin instance's lifecycle state.
type State int

// Lifecycle states, in the order a successful run visits them.
const (
	StateDiscovered State = iota
	StateLoading
	StateLoaded
	StateActivating
	StateActivated
	StateDeactivating
	StateDeactivated
	StateUnloading
	StateUnloaded
	StateFailed
)

var stateNames = [...]string{
	StateDiscovered:   "discovered",
	StateLoading:      "loading",
	StateLoaded:       "loaded",
	StateActivating:   "activating",
	StateActivated:    "activated",
	StateDeactivating: "deactivating",
	StateDeactivated:  "deactivated",
	StateUnloading:    "unloading",
	StateUnloaded:     "unloaded",
	StateFailed:       "failed",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateUnloaded || s == StateFailed
}

// Live reports whether the instance holds or is acquiring its dependencies.
func (s State) Live() bool {
	return s >= StateLoading && s <= StateActivated
}

// transitions lists the forward edges of the state machine. Failed is
// reachable from every non-terminal state and is not listed.
var transitions = map[State]State{
	StateDiscovered:   StateLoading,
	StateLoading:      StateLoaded,
	StateLoaded:       StateActivating,
	StateActivating:   StateActivated,
	StateActivated:    StateDeactivating,
	StateDeactivating: StateDeactivated,
	StateDeactivated:  StateUnloading,
	StateUnloading:    StateUnloaded,
}

// CanTransition reports whether from → to is an edge of the state machine.
func CanTransition(from, to State) bool {
	if to == StateFailed {
		return !from.Terminal()
	}
	next, ok := transitions[from]
	return ok && next == to
}
