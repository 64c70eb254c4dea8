// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package plugin

import (
	"crypto/rand"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wingedbean/wingedbean/internal/registry"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newInstanceID returns a new ULID. Thread-safe.
func newInstanceID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Instance is one loaded realization of a plugin descriptor. Reloading a
// plugin creates a new Instance; a finished instance is never reused.
type Instance struct {
	id   string
	desc *Descriptor

	mu       sync.Mutex
	state    State
	boundary *Boundary
	entries  []registry.Entry
	err      error
	changed  time.Time
}

func newInstance(desc *Descriptor) *Instance {
	return &Instance{
		id:      newInstanceID(),
		desc:    desc,
		state:   StateDiscovered,
		changed: time.Now(),
	}
}

// ID returns the instance identifier. Registry entries are owned by it.
func (i *Instance) ID() string { return i.id }

// Plugin returns the plugin identifier.
func (i *Instance) Plugin() string { return i.desc.ID() }

// Descriptor returns the descriptor the instance was loaded from.
func (i *Instance) Descriptor() *Descriptor { return i.desc }

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Err returns the failure that moved the instance to Failed, if any.
func (i *Instance) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.err
}

// Registrations returns the entries the instance committed on activation.
// Empty unless the instance is Activated.
func (i *Instance) Registrations() []registry.Entry {
	i.mu.Lock()
	defer i.mu.Unlock()
	return slices.Clone(i.entries)
}

// Since returns when the instance last changed state.
func (i *Instance) Since() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.changed
}

// begin moves from → to, failing if the instance is elsewhere. The
// in-progress state acts as the busy marker for the work that follows.
func (i *Instance) begin(from, to State) (State, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != from || !CanTransition(from, to) {
		return i.state, false
	}
	i.state = to
	i.changed = time.Now()
	return from, true
}

// finish records a transition whose precondition the caller already holds.
func (i *Instance) finish(to State) State {
	i.mu.Lock()
	defer i.mu.Unlock()
	from := i.state
	i.state = to
	i.changed = time.Now()
	return from
}

// fail moves the instance to Failed and detaches its boundary so the caller
// can release it. Returns the previous state.
func (i *Instance) fail(err error) (State, *Boundary) {
	i.mu.Lock()
	defer i.mu.Unlock()
	from := i.state
	i.state = StateFailed
	i.err = err
	i.changed = time.Now()
	b := i.boundary
	i.boundary = nil
	i.entries = nil
	return from, b
}

func (i *Instance) setBoundary(b *Boundary) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.boundary = b
}

func (i *Instance) getBoundary() *Boundary {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.boundary
}

// detachBoundary drops the instance's reference to its boundary.
func (i *Instance) detachBoundary() *Boundary {
	i.mu.Lock()
	defer i.mu.Unlock()
	b := i.boundary
	i.boundary = nil
	return b
}

func (i *Instance) setEntries(entries []registry.Entry) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.entries = entries
}
