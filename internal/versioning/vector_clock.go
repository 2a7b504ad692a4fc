// Package versioning implements the vector clock algebra used to establish
// causal ordering between versions of a stored value.
package versioning

import (
	"fmt"
	"sort"
	"strings"
)

// VectorClock is a finite mapping node -> counter, absent keys read as 0.
type VectorClock map[string]uint64

// ClockComparison is the result of comparing two vector clocks.
type ClockComparison int

const (
	ClockEqual ClockComparison = iota
	ClockDescendant
	ClockAncestor
	ClockConcurrent
)

func (c ClockComparison) String() string {
	switch c {
	case ClockEqual:
		return "equal"
	case ClockDescendant:
		return "descendant"
	case ClockAncestor:
		return "ancestor"
	case ClockConcurrent:
		return "concurrent"
	default:
		return "unknown"
	}
}

// Copy returns a deep copy of vc.
func (vc VectorClock) Copy() VectorClock {
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// String renders the clock deterministically (sorted by node id) for logs.
func (vc VectorClock) String() string {
	keys := make([]string, 0, len(vc))
	for k := range vc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, vc[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Update increments the counter for node, returning a new clock. An empty
// input clock yields {node: 1}; otherwise vc[node] is incremented by 1 with
// all other entries carried forward unchanged.
func Update(vc VectorClock, node string) VectorClock {
	if len(vc) == 0 {
		return VectorClock{node: 1}
	}
	out := vc.Copy()
	out[node] = out[node] + 1
	return out
}

// Merge returns the pointwise max over the union of a and b's keys. Merge is
// commutative, associative, and idempotent.
func Merge(a, b VectorClock) VectorClock {
	out := make(VectorClock, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}

// Compare relates a to b over the union of their keys with missing entries
// treated as 0:
//
//	equal       if a[k] == b[k] for every k
//	descendant  if a[k] >= b[k] for every k, with at least one strict >
//	ancestor    if a[k] <= b[k] for every k, with at least one strict <
//	concurrent  otherwise
func Compare(a, b VectorClock) ClockComparison {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}

	less, greater := false, false
	for k := range keys {
		av, bv := a[k], b[k]
		if av < bv {
			less = true
		}
		if av > bv {
			greater = true
		}
	}

	switch {
	case !less && !greater:
		return ClockEqual
	case greater && !less:
		return ClockDescendant
	case less && !greater:
		return ClockAncestor
	default:
		return ClockConcurrent
	}
}

// IsDescendantOrEqual reports whether a causally dominates or equals b —
// the test the coordinator's read path uses to pick a causal winner
// (spec.md §4.5.2).
func IsDescendantOrEqual(a, b VectorClock) bool {
	switch Compare(a, b) {
	case ClockEqual, ClockDescendant:
		return true
	default:
		return false
	}
}
