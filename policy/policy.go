// Package policy holds the immutable resource-to-limit mapping the decision
// engine consults on every call: a policy set built once at startup, resolved
// by resource name through an exact index and a priority-ordered prefix list.
package policy

import (
	"fmt"
	"sort"
	"strings"
)

// Kind distinguishes an exact-match policy from a prefix-match one.
type Kind int

const (
	Exact Kind = iota
	Prefix
)

func (k Kind) String() string {
	if k == Exact {
		return "exact"
	}
	return "prefix"
}

// Policy is an immutable (limit, window) pair plus the matching rule that
// selects it.
type Policy struct {
	Pattern   string
	Kind      Kind
	MaxTokens int64
	Window    int64 // seconds
	Priority  int
}

// WindowMS is the policy's window expressed in milliseconds, the unit the
// sliding-window evaluator works in.
func (p Policy) WindowMS() int64 {
	return p.Window * 1000
}

type prefixEntry struct {
	policy Policy
	order  int
}

// Set is an ordered, immutable collection of policies plus a default,
// precomputed at construction into the two containers §4.D describes so
// resolve is O(1) for exact matches and O(prefixes) for prefix matches.
type Set struct {
	exactIndex map[string]Policy
	prefixList []prefixEntry
	def        Policy
}

// Build validates rules and a default policy, then constructs an immutable
// Set. Rules are validated for duplicate (kind, pattern) pairs and
// zero-length prefixes; the caller is responsible for validating individual
// field ranges (max_tokens, window) before calling Build.
func Build(def Policy, rules []Policy) (*Set, error) {
	seen := make(map[string]struct{}, len(rules))
	exactBest := make(map[string]Policy)
	exactOrder := make(map[string]int)
	var prefixes []prefixEntry

	for i, r := range rules {
		if r.Kind == Prefix && r.Pattern == "" {
			return nil, fmt.Errorf("policy: zero-length prefix pattern at index %d", i)
		}
		if r.Pattern == "" {
			return nil, fmt.Errorf("policy: empty pattern at index %d", i)
		}

		dedupeKey := r.Kind.String() + "\x00" + r.Pattern
		if _, dup := seen[dedupeKey]; dup {
			return nil, fmt.Errorf("policy: duplicate (%s, %q) pair", r.Kind, r.Pattern)
		}
		seen[dedupeKey] = struct{}{}

		switch r.Kind {
		case Exact:
			cur, ok := exactBest[r.Pattern]
			if !ok || r.Priority > cur.Priority {
				exactBest[r.Pattern] = r
				exactOrder[r.Pattern] = i
			}
		case Prefix:
			prefixes = append(prefixes, prefixEntry{policy: r, order: i})
		default:
			return nil, fmt.Errorf("policy: unknown kind %v at index %d", r.Kind, i)
		}
	}

	sort.SliceStable(prefixes, func(i, j int) bool {
		a, b := prefixes[i], prefixes[j]
		if a.policy.Priority != b.policy.Priority {
			return a.policy.Priority > b.policy.Priority
		}
		if len(a.policy.Pattern) != len(b.policy.Pattern) {
			return len(a.policy.Pattern) > len(b.policy.Pattern)
		}
		return a.order < b.order
	})

	return &Set{exactIndex: exactBest, prefixList: prefixes, def: def}, nil
}

// Resolve returns the policy governing resource, per §4.D: exact match wins
// unconditionally over any prefix match; among prefixes the highest-priority,
// longest-pattern, earliest-declared match wins; otherwise the default.
func (s *Set) Resolve(resource string) Policy {
	if p, ok := s.exactIndex[resource]; ok {
		return p
	}
	for _, entry := range s.prefixList {
		if strings.HasPrefix(resource, entry.policy.Pattern) {
			return entry.policy
		}
	}
	return s.def
}

// Default returns the set's default policy.
func (s *Set) Default() Policy {
	return s.def
}
