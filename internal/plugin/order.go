// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package plugin

import (
	"slices"
	"strings"

	"github.com/samber/oops"
)

// Order sorts descriptors so every plugin comes after the plugins that can
// provide its requirements, optional ones included. Among plugins whose
// providers are all placed, the smallest id goes first, so the order is
// deterministic. A requirement no descriptor provides adds no edge; it is
// reported at load time instead.
func Order(descs []*Descriptor) ([]*Descriptor, error) {
	byID := make(map[string]*Descriptor, len(descs))
	for _, d := range descs {
		byID[d.ID()] = d
	}

	indegree := make(map[string]int, len(descs))
	dependents := make(map[string][]string, len(descs))
	for _, d := range descs {
		providers := providersOf(d, descs)
		indegree[d.ID()] = len(providers)
		for _, p := range providers {
			dependents[p.ID()] = append(dependents[p.ID()], d.ID())
		}
	}

	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	slices.Sort(ready)

	ordered := make([]*Descriptor, 0, len(descs))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byID[id])

		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				i, _ := slices.BinarySearch(ready, dep)
				ready = slices.Insert(ready, i, dep)
			}
		}
	}

	if len(ordered) != len(byID) {
		var cycle []string
		for id, n := range indegree {
			if n > 0 {
				cycle = append(cycle, id)
			}
		}
		slices.Sort(cycle)
		return nil, oops.Code(CodeCyclicDependency).
			In("plugin").
			With("plugins", cycle).
			Wrapf(ErrCyclicDependency, "%s", strings.Join(cycle, ", "))
	}
	return ordered, nil
}

// providersOf returns the distinct descriptors, other than d, that declare
// a contract d requires at a version the requirement allows.
func providersOf(d *Descriptor, descs []*Descriptor) []*Descriptor {
	var out []*Descriptor
	for _, p := range descs {
		if p == d || slices.Contains(out, p) {
			continue
		}
		for _, req := range d.requires {
			if p.Offers(req.Contract) && req.Allows(p.Version().String()) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
