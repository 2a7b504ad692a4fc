package ring

import "fmt"

// TokenRange is the half-open keyspace range ending at a token, owned by
// that token's node.
type TokenRange struct {
	StartToken uint32 `json:"start_token"`
	EndToken   uint32 `json:"end_token"`
	NodeID     string `json:"node_id"`
}

// TokenRanges returns the token ranges owned by each virtual node, in ring
// order. Each range spans from just after the previous token (wrapping for
// the first) to its own hash.
func (r *Ring) TokenRanges() []TokenRange {
	tokens := r.Tokens()
	if len(tokens) == 0 {
		return nil
	}

	ranges := make([]TokenRange, len(tokens))
	for i, t := range tokens {
		var start uint32
		if i == 0 {
			start = tokens[len(tokens)-1].Hash + 1
		} else {
			start = tokens[i-1].Hash + 1
		}
		ranges[i] = TokenRange{StartToken: start, EndToken: t.Hash, NodeID: t.NodeID}
	}
	return ranges
}

// NodeTokenRanges returns the token ranges owned by a single node.
func (r *Ring) NodeTokenRanges(nodeID string) []TokenRange {
	all := r.TokenRanges()
	out := make([]TokenRange, 0)
	for _, tr := range all {
		if tr.NodeID == nodeID {
			out = append(out, tr)
		}
	}
	return out
}

// LoadDistribution returns the percentage of the keyspace each node owns,
// used by the /admin/ring endpoint and Status to surface ring balance.
func (r *Ring) LoadDistribution() map[string]float64 {
	ranges := r.TokenRanges()
	if len(ranges) == 0 {
		return nil
	}

	load := make(map[string]uint64)
	var total uint64
	for _, tr := range ranges {
		var size uint64
		if tr.EndToken >= tr.StartToken {
			size = uint64(tr.EndToken-tr.StartToken) + 1
		} else {
			size = (uint64(ringModulus) - uint64(tr.StartToken)) + uint64(tr.EndToken) + 2
		}
		load[tr.NodeID] += size
		total += size
	}

	dist := make(map[string]float64, len(load))
	for nodeID, l := range load {
		dist[nodeID] = float64(l) / float64(total) * 100
	}
	return dist
}

// Status renders a human-readable summary of ring balance.
func (r *Ring) Status() string {
	nodes := r.Nodes()
	if len(nodes) == 0 {
		return "ring is empty"
	}

	out := fmt.Sprintf("ring status: %d physical nodes, %d virtual nodes\n",
		len(nodes), len(r.Tokens()))
	for nodeID, load := range r.LoadDistribution() {
		out += fmt.Sprintf("  %s: %.2f%% of keyspace\n", nodeID, load)
	}
	return out
}

// Successors returns the next n distinct nodes clockwise after nodeID's
// lowest-hash token, excluding nodeID itself. Only that one token is
// walked; nodes that follow nodeID's other tokens are not considered.
func (r *Ring) Successors(nodeID string, n int) []string {
	tokens := r.Tokens()
	if len(tokens) == 0 {
		return nil
	}

	startIdx := -1
	for i, t := range tokens {
		if t.NodeID == nodeID {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		return nil
	}

	out := make([]string, 0, n)
	seen := map[string]bool{nodeID: true}
	for i := 1; i <= len(tokens) && len(out) < n; i++ {
		idx := (startIdx + i) % len(tokens)
		id := tokens[idx].NodeID
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Predecessors returns the previous n distinct nodes counter-clockwise
// before nodeID, excluding nodeID itself.
func (r *Ring) Predecessors(nodeID string, n int) []string {
	tokens := r.Tokens()
	if len(tokens) == 0 {
		return nil
	}

	startIdx := -1
	for i, t := range tokens {
		if t.NodeID == nodeID {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		return nil
	}

	out := make([]string, 0, n)
	seen := map[string]bool{nodeID: true}
	for i := 1; i <= len(tokens) && len(out) < n; i++ {
		idx := (startIdx - i + len(tokens)) % len(tokens)
		id := tokens[idx].NodeID
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
