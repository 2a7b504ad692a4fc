package versioning

// Versioned is the stored shape of a value: its bytes, its vector clock,
// and the coordinator-stamped write timestamp used only as an LWW
// tie-breaker (spec.md §3).
type Versioned struct {
	Value     []byte
	VC        VectorClock
	Timestamp int64
}

// Resolution is the outcome of reconciling multiple replica responses for
// one key on the read path.
type Resolution struct {
	Winner       Versioned
	WasConcurrent bool  // true if resolution fell back to LWW
	MergedVC     VectorClock // only populated when WasConcurrent
}

// Resolve implements spec.md §4.5.2's read-path reconciliation: if one
// response's clock is a descendant of (or equal to) every other response's
// clock, it wins outright and is returned verbatim. Otherwise the
// responses are mutually concurrent and last-writer-wins by Timestamp is
// used as a convergence tie-break, with the merged clock of all responses
// attached for the caller to heal replicas with.
func Resolve(responses []Versioned) Resolution {
	if len(responses) == 1 {
		return Resolution{Winner: responses[0]}
	}

	for i, candidate := range responses {
		dominatesAll := true
		for j, other := range responses {
			if i == j {
				continue
			}
			if !IsDescendantOrEqual(candidate.VC, other.VC) {
				dominatesAll = false
				break
			}
		}
		if dominatesAll {
			return Resolution{Winner: candidate}
		}
	}

	// Mutually concurrent: last-writer-wins by timestamp, merge all clocks.
	winner := responses[0]
	merged := VectorClock{}
	for _, r := range responses {
		merged = Merge(merged, r.VC)
		if r.Timestamp > winner.Timestamp {
			winner = r
		}
	}

	return Resolution{
		Winner:        winner,
		WasConcurrent: true,
		MergedVC:      merged,
	}
}
