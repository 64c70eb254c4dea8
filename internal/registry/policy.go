// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WingedBean Contributors

package registry

import (
	"cmp"
	"slices"
	"strings"

	"github.com/samber/oops"

	"github.com/wingedbean/wingedbean/pkg/contract"
)

// Policy selects among the candidate implementations of a contract.
type Policy int

// Selection policies. The zero value is HighestPriority.
const (
	// HighestPriority picks the entry with the greatest priority. Ties go to
	// the entry registered first.
	HighestPriority Policy = iota
	// One requires exactly one entry and fails with Ambiguous otherwise.
	One
	// All returns every entry, highest priority first.
	All
)

// String implements fmt.Stringer.
func (p Policy) String() string {
	switch p {
	case HighestPriority:
		return "highest-priority"
	case One:
		return "one"
	case All:
		return "all"
	default:
		return "unknown"
	}
}

// ParsePolicy parses a policy name as written in configuration files.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "highest-priority", "highestpriority", "highest_priority", "":
		return HighestPriority, nil
	case "one":
		return One, nil
	case "all":
		return All, nil
	default:
		return 0, oops.Code(CodeInvalidPolicy).
			In("registry").
			With("policy", s).
			Hint("expected one, highest-priority, or all").
			Wrapf(ErrInvalidPolicy, "parse policy %q", s)
	}
}

// Selection is the successful outcome of resolving a contract.
type Selection struct {
	Contract contract.ID
	Policy   Policy
	// Entries holds exactly one entry for One and HighestPriority, and every
	// candidate in priority order for All.
	Entries []Entry
}

// Entry returns the selected entry. For All it returns the first of the
// ordered sequence.
func (s Selection) Entry() Entry {
	if len(s.Entries) == 0 {
		return Entry{}
	}
	return s.Entries[0]
}

// Select applies policy to candidates. The result depends only on the
// candidates' priorities and sequence numbers, never on slice order.
// candidates is not modified.
func Select(id contract.ID, policy Policy, candidates []Entry) (Selection, error) {
	if len(candidates) == 0 {
		return Selection{}, notFoundError(id, policy)
	}

	switch policy {
	case One:
		if len(candidates) > 1 {
			return Selection{}, ambiguousError(id, len(candidates))
		}
		return Selection{Contract: id, Policy: policy, Entries: []Entry{candidates[0]}}, nil
	case All:
		ordered := slices.Clone(candidates)
		sortEntries(ordered)
		return Selection{Contract: id, Policy: policy, Entries: ordered}, nil
	case HighestPriority:
		best := candidates[0]
		for _, e := range candidates[1:] {
			if compareEntries(e, best) < 0 {
				best = e
			}
		}
		return Selection{Contract: id, Policy: policy, Entries: []Entry{best}}, nil
	default:
		return Selection{}, oops.Code(CodeInvalidPolicy).
			In("registry").
			With("contract", string(id)).
			With("policy", int(policy)).
			Wrapf(ErrInvalidPolicy, "resolve %s", id)
	}
}

// compareEntries orders by priority descending, then sequence ascending.
func compareEntries(a, b Entry) int {
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	return cmp.Compare(a.Sequence, b.Sequence)
}

func sortEntries(entries []Entry) {
	slices.SortFunc(entries, compareEntries)
}
