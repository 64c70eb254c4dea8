// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package registry

import (
	"sync"
)

// gate counts in-flight leases for one owner. Once closed it refuses new
// leases and signals drained when the count reaches zero.
type gate struct {
	mu      sync.Mutex
	closed  bool
	active  int
	drained chan struct{}
}

func newGate() *gate {
	return &gate{drained: make(chan struct{})}
}

func (g *gate) enter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.active++
	return true
}

// leave reports whether this call finished draining a closed gate.
func (g *gate) leave() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active--
	if g.closed && g.active == 0 {
		close(g.drained)
		return true
	}
	return false
}

// close reports whether the gate was already idle.
func (g *gate) close() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return g.active == 0
	}
	g.closed = true
	if g.active == 0 {
		close(g.drained)
		return true
	}
	return false
}

func (g *gate) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Lease grants use of one entry's handle until Release is called.
// Deregistering the owner does not interrupt a lease; Drain waits for it.
type Lease struct {
	entry Entry
	gate  *gate
	reg   *Registry
	once  sync.Once
}

// Entry returns the leased entry.
func (l *Lease) Entry() Entry { return l.entry }

// Handle returns the leased implementation.
func (l *Lease) Handle() any { return l.entry.Handle }

// Release ends the lease. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		if l.gate.leave() {
			l.reg.forgetGate(l.entry.Owner, l.gate)
		}
	})
}

func releaseAll(leases []*Lease) {
	for _, l := range leases {
		l.Release()
	}
}
