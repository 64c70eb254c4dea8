// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

// Package registry stores the implementations plugins register for service
// contracts and resolves them under a selection policy.
//
// Reads never block. Every mutation builds a new immutable snapshot and
// publishes it atomically, so a concurrent Resolve observes either the state
// before or after a registration batch, never a partial one.
package registry

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/samber/oops"

	"github.com/wingedbean/wingedbean/pkg/contract"
)

// Metadata describes an implementation for diagnostics and filtering.
type Metadata struct {
	Plugin     string
	Version    string
	Name       string
	Properties map[string]string
}

// Entry is one registered implementation of a contract.
type Entry struct {
	Contract contract.ID
	Handle   any
	Priority int
	// Owner is the id of the plugin instance that registered the entry.
	Owner string
	// Sequence orders registrations across the whole registry.
	Sequence uint64
	Shared   bool
	Metadata Metadata
}

// Registration is an entry to be committed.
type Registration struct {
	Contract contract.ID
	Handle   any
	Priority int
	// Shared lets the registration coexist with others on a contract whose
	// policy is One. Resolving such a contract then reports Ambiguous.
	Shared   bool
	Metadata Metadata
}

type record struct {
	Entry
	gate *gate
}

type snapshot struct {
	entries  map[contract.ID][]record
	policies map[contract.ID]Policy
}

func (s *snapshot) policy(id contract.ID) Policy {
	if p, ok := s.policies[id]; ok {
		return p
	}
	return HighestPriority
}

func (s *snapshot) candidates(id contract.ID) []Entry {
	recs := s.entries[id]
	out := make([]Entry, len(recs))
	for i, r := range recs {
		out[i] = r.Entry
	}
	return out
}

// Registry holds contract implementations. The zero value is not usable; use New.
type Registry struct {
	current atomic.Pointer[snapshot]

	mu    sync.Mutex
	seq   uint64
	gates map[string]*gate

	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithPolicies sets per-contract selection policies.
func WithPolicies(policies map[contract.ID]Policy) Option {
	return func(r *Registry) {
		snap := r.current.Load()
		next := &snapshot{entries: snap.entries, policies: maps.Clone(snap.policies)}
		maps.Copy(next.policies, policies)
		r.current.Store(next)
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		gates:  make(map[string]*gate),
		logger: slog.Default(),
	}
	r.current.Store(&snapshot{
		entries:  make(map[contract.ID][]record),
		policies: make(map[contract.ID]Policy),
	})
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetPolicy sets the selection policy for a contract. Existing entries are
// not re-checked against the new policy.
func (r *Registry) SetPolicy(id contract.ID, policy Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.current.Load()
	next := &snapshot{entries: snap.entries, policies: maps.Clone(snap.policies)}
	next.policies[id] = policy
	r.current.Store(next)
}

// PolicyFor returns the configured policy for a contract, HighestPriority if none.
func (r *Registry) PolicyFor(id contract.ID) Policy {
	return r.current.Load().policy(id)
}

// Register adds a single entry owned by owner.
func (r *Registry) Register(owner string, reg Registration) error {
	return r.Commit(owner, []Registration{reg})
}

// Commit adds every registration in regs, all owned by owner, or none of them.
func (r *Registry) Commit(owner string, regs []Registration) error {
	if owner == "" {
		return invalidRegistrationError("", owner, "owner is empty")
	}
	for _, reg := range regs {
		if err := reg.Contract.Validate(); err != nil {
			return oops.Code(CodeInvalidRegistration).
				In("registry").
				With("owner", owner).
				Wrapf(ErrInvalidRegistration, "register %q: %v", reg.Contract, err)
		}
		if reg.Handle == nil {
			return invalidRegistrationError(reg.Contract, owner, "handle is nil")
		}
	}
	if len(regs) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.current.Load()

	byContract := make(map[contract.ID][]Registration)
	for _, reg := range regs {
		byContract[reg.Contract] = append(byContract[reg.Contract], reg)
	}
	for id, batch := range byContract {
		if snap.policy(id) != One {
			continue
		}
		existing := snap.entries[id]
		if len(existing)+len(batch) <= 1 {
			continue
		}
		exclusive := slices.ContainsFunc(existing, func(rec record) bool { return !rec.Shared }) ||
			slices.ContainsFunc(batch, func(reg Registration) bool { return !reg.Shared })
		if exclusive {
			recordRegistration(id, StatusConflict)
			return conflictError(id, owner)
		}
	}

	g, ok := r.gates[owner]
	if !ok || g.isClosed() {
		g = newGate()
		r.gates[owner] = g
	}

	next := &snapshot{entries: maps.Clone(snap.entries), policies: snap.policies}
	for _, reg := range regs {
		r.seq++
		rec := record{
			Entry: Entry{
				Contract: reg.Contract,
				Handle:   reg.Handle,
				Priority: reg.Priority,
				Owner:    owner,
				Sequence: r.seq,
				Shared:   reg.Shared,
				Metadata: cloneMetadata(reg.Metadata),
			},
			gate: g,
		}
		recs := append(slices.Clone(next.entries[reg.Contract]), rec)
		slices.SortFunc(recs, func(a, b record) int { return compareEntries(a.Entry, b.Entry) })
		next.entries[reg.Contract] = recs
	}
	r.current.Store(next)

	for id, batch := range byContract {
		setEntryGauge(id, len(next.entries[id]))
		for range batch {
			recordRegistration(id, StatusSuccess)
		}
	}

	r.logger.Debug("registrations committed",
		"owner", owner,
		"count", len(regs))
	return nil
}

// Deregister removes every entry owned by owner and returns how many were
// removed. New leases on those entries are refused from this point on;
// leases already granted stay valid until released. Idempotent.
func (r *Registry) Deregister(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.current.Load()
	next := &snapshot{entries: make(map[contract.ID][]record, len(snap.entries)), policies: snap.policies}
	removed := 0
	var touched []contract.ID
	for id, recs := range snap.entries {
		kept := recs
		if slices.ContainsFunc(recs, func(rec record) bool { return rec.Owner == owner }) {
			kept = slices.DeleteFunc(slices.Clone(recs), func(rec record) bool { return rec.Owner == owner })
			removed += len(recs) - len(kept)
			touched = append(touched, id)
		}
		if len(kept) > 0 {
			next.entries[id] = kept
		}
	}
	if removed > 0 {
		r.current.Store(next)
		for _, id := range touched {
			setEntryGauge(id, len(next.entries[id]))
		}
	}

	if g, ok := r.gates[owner]; ok && g.close() {
		delete(r.gates, owner)
	}

	if removed > 0 {
		r.logger.Debug("registrations withdrawn",
			"owner", owner,
			"count", removed)
	}
	return removed
}

// Drain waits until every lease on owner's entries has been released. It
// returns immediately when owner has no outstanding leases or has not been
// deregistered.
func (r *Registry) Drain(ctx context.Context, owner string) error {
	r.mu.Lock()
	g, ok := r.gates[owner]
	r.mu.Unlock()
	if !ok || !g.isClosed() {
		return nil
	}

	select {
	case <-g.drained:
		r.forgetGate(owner, g)
		return nil
	case <-ctx.Done():
		return oops.In("registry").
			With("owner", owner).
			Wrapf(ctx.Err(), "drain in-flight calls")
	}
}

func (r *Registry) forgetGate(owner string, g *gate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gates[owner] == g {
		delete(r.gates, owner)
	}
}

// Resolve selects entries for a contract under policy.
func (r *Registry) Resolve(id contract.ID, policy Policy) (Selection, error) {
	sel, err := Select(id, policy, r.current.Load().candidates(id))
	recordResolution(policy, err)
	return sel, err
}

// ResolveAll returns every entry for a contract, highest priority first and
// then in registration order. A contract with no entries yields an empty
// slice, not an error.
func (r *Registry) ResolveAll(id contract.ID) []Entry {
	return r.current.Load().candidates(id)
}

// Acquire resolves a contract and leases the selected entries. The caller
// must release every returned lease.
func (r *Registry) Acquire(id contract.ID, policy Policy) ([]*Lease, error) {
	return r.AcquireMatching(id, policy, nil)
}

// AcquireMatching is Acquire restricted to the entries keep accepts. A nil
// keep accepts every entry.
func (r *Registry) AcquireMatching(id contract.ID, policy Policy, keep func(Entry) bool) ([]*Lease, error) {
	for {
		snap := r.current.Load()
		sel, err := Select(id, policy, filterEntries(snap.candidates(id), keep))
		if err != nil {
			recordResolution(policy, err)
			return nil, err
		}
		if leases, ok := r.lease(snap, sel.Entries); ok {
			recordResolution(policy, nil)
			return leases, nil
		}
		// An owner was withdrawn after this snapshot was taken. The next
		// snapshot no longer contains it.
	}
}

// AcquireAll leases every entry of a contract, in ResolveAll order. No
// entries yields no leases and no error.
func (r *Registry) AcquireAll(id contract.ID) []*Lease {
	return r.AcquireAllMatching(id, nil)
}

// AcquireAllMatching is AcquireAll restricted to the entries keep accepts.
func (r *Registry) AcquireAllMatching(id contract.ID, keep func(Entry) bool) []*Lease {
	for {
		snap := r.current.Load()
		if leases, ok := r.lease(snap, filterEntries(snap.candidates(id), keep)); ok {
			return leases
		}
	}
}

func filterEntries(entries []Entry, keep func(Entry) bool) []Entry {
	if keep == nil {
		return entries
	}
	return slices.DeleteFunc(entries, func(e Entry) bool { return !keep(e) })
}

func (r *Registry) lease(snap *snapshot, entries []Entry) ([]*Lease, bool) {
	leases := make([]*Lease, 0, len(entries))
	for _, e := range entries {
		g := snap.gateOf(e)
		if g == nil || !g.enter() {
			releaseAll(leases)
			return nil, false
		}
		leases = append(leases, &Lease{entry: e, gate: g, reg: r})
	}
	return leases, true
}

func (s *snapshot) gateOf(e Entry) *gate {
	for _, rec := range s.entries[e.Contract] {
		if rec.Sequence == e.Sequence {
			return rec.gate
		}
	}
	return nil
}

// IsRegistered reports whether a contract has at least one entry.
func (r *Registry) IsRegistered(id contract.ID) bool {
	return len(r.current.Load().entries[id]) > 0
}

// Contracts returns the contracts with at least one entry, sorted.
func (r *Registry) Contracts() []contract.ID {
	snap := r.current.Load()
	ids := slices.Collect(maps.Keys(snap.entries))
	slices.Sort(ids)
	return ids
}

// Owned returns the entries registered by owner, sorted by contract then
// selection order.
func (r *Registry) Owned(owner string) []Entry {
	snap := r.current.Load()
	ids := slices.Collect(maps.Keys(snap.entries))
	slices.Sort(ids)
	var out []Entry
	for _, id := range ids {
		for _, rec := range snap.entries[id] {
			if rec.Owner == owner {
				out = append(out, rec.Entry)
			}
		}
	}
	return out
}

// Len returns the total number of entries.
func (r *Registry) Len() int {
	n := 0
	for _, recs := range r.current.Load().entries {
		n += len(recs)
	}
	return n
}

func cloneMetadata(m Metadata) Metadata {
	m.Properties = maps.Clone(m.Properties)
	return m
}
