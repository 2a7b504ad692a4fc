// Package ring implements the consistent-hashing partitioner: a ring of
// virtual-node tokens used to map a key to its ordered preference list of
// replica nodes (spec.md §4.2).
package ring

import (
	"crypto/sha1"
	"fmt"
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"
)

// ringModulus is spec.md's M = 2^32 - 1.
const ringModulus = uint32(1<<32 - 1)

// Token is a point on the ring: a hash position owned by a physical node.
type Token struct {
	Hash     uint32 `json:"hash"`
	NodeID   string `json:"node_id"`
	VNodeIdx int    `json:"vnode_idx"`
}

// Ring implements consistent hashing with virtual nodes. Rings are meant to
// be built once and shared across goroutines; all methods are safe for
// concurrent use, and mutation (AddNode/RemoveNode) is serialized behind a
// mutex so that topology changes never race a lookup.
type Ring struct {
	mu            sync.RWMutex
	tokens        []Token             // sorted ascending by Hash
	nodeTokens    map[string][]uint32 // nodeID -> this node's token hashes
	tokensPerNode int
}

// New creates an empty ring. tokensPerNode is the number of virtual nodes
// placed per physical node; non-positive values fall back to a sensible
// default of 150, matching common Dynamo-style deployments.
func New(tokensPerNode int) *Ring {
	if tokensPerNode < 1 {
		tokensPerNode = 150
	}
	return &Ring{
		tokens:        make([]Token, 0),
		nodeTokens:    make(map[string][]uint32),
		tokensPerNode: tokensPerNode,
	}
}

// Build constructs a ring from scratch containing exactly the given nodes,
// each placed with tokensPerNode virtual nodes. Build is a pure function of
// its inputs: the same (nodes, tokensPerNode) always yields a ring with
// identical token placement (spec.md §8 property 4).
func Build(nodes []string, tokensPerNode int) *Ring {
	r := New(tokensPerNode)
	for _, n := range nodes {
		r.AddNode(n)
	}
	return r
}

// ringHash is the canonical 32-bit token hash: SHA-1 folded into a 32-bit
// accumulator via acc = (acc<<8 + byte) mod M, per spec.md §4.2. This is
// the hash ring agreement function; it must be identical on every node in
// a cluster but its value is otherwise never externally observed.
func ringHash(s string) uint32 {
	sum := sha1.Sum([]byte(s))
	var acc uint64
	for _, b := range sum {
		acc = (acc<<8 + uint64(b)) % uint64(ringModulus)
	}
	return uint32(acc)
}

// vnodeSalt mixes the per-node virtual-node index with a 64-bit murmur3
// hash. It only affects which slot a node's i-th virtual node lands in
// relative to other nodes' virtual nodes sharing the same i — spreading
// otherwise-correlated virtual node indices across the ring without
// changing ringHash's role as the canonical lookup key.
func vnodeSalt(nodeID string, i int) uint64 {
	h := murmur3.New64()
	h.Write([]byte(fmt.Sprintf("%s#vnode%d", nodeID, i)))
	return h.Sum64()
}

// AddNode adds a physical node with its virtual nodes. A no-op if the node
// already exists.
func (r *Ring) AddNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodeTokens[nodeID]; exists {
		return
	}

	hashes := make([]uint32, 0, r.tokensPerNode)
	for i := 0; i < r.tokensPerNode; i++ {
		salt := vnodeSalt(nodeID, i)
		h := ringHash(fmt.Sprintf("%s-%d-%d", nodeID, i, salt%997))

		r.tokens = append(r.tokens, Token{Hash: h, NodeID: nodeID, VNodeIdx: i})
		hashes = append(hashes, h)
	}
	r.nodeTokens[nodeID] = hashes

	sort.Slice(r.tokens, func(i, j int) bool {
		return r.tokens[i].Hash < r.tokens[j].Hash
	})
}

// RemoveNode removes a physical node and all of its virtual nodes. A no-op
// if the node is not present.
func (r *Ring) RemoveNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodeTokens[nodeID]; !exists {
		return
	}

	filtered := make([]Token, 0, len(r.tokens)-r.tokensPerNode)
	for _, t := range r.tokens {
		if t.NodeID != nodeID {
			filtered = append(filtered, t)
		}
	}
	r.tokens = filtered
	delete(r.nodeTokens, nodeID)
}

// startIndex returns the index of the first token with hash >= h, wrapping
// to 0 when h exceeds the last token's hash. Callers must hold r.mu.
func (r *Ring) startIndex(h uint32) int {
	idx := sort.Search(len(r.tokens), func(i int) bool {
		return r.tokens[i].Hash >= h
	})
	if idx >= len(r.tokens) {
		idx = 0
	}
	return idx
}

// PreferenceList returns up to n distinct node ids responsible for key:
// the node owning the first token with hash >= key's hash, then each
// subsequent distinct node walking clockwise, per spec.md §4.2.
func (r *Ring) PreferenceList(key string, n int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.tokens) == 0 {
		return nil, fmt.Errorf("ring: no nodes")
	}

	start := r.startIndex(ringHash(key))

	nodes := make([]string, 0, n)
	seen := make(map[string]bool, n)
	for i := 0; i < len(r.tokens) && len(nodes) < n; i++ {
		idx := (start + i) % len(r.tokens)
		id := r.tokens[idx].NodeID
		if !seen[id] {
			seen[id] = true
			nodes = append(nodes, id)
		}
	}
	return nodes, nil
}

// OwnedTokenHashes returns the token hashes belonging to node.
func (r *Ring) OwnedTokenHashes(node string) []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hashes, ok := r.nodeTokens[node]
	if !ok {
		return nil
	}
	out := make([]uint32, len(hashes))
	copy(out, hashes)
	return out
}

// Nodes returns the set of physical node ids currently on the ring.
func (r *Ring) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]string, 0, len(r.nodeTokens))
	for id := range r.nodeTokens {
		nodes = append(nodes, id)
	}
	return nodes
}

// HasNode reports whether node is present on the ring.
func (r *Ring) HasNode(node string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodeTokens[node]
	return ok
}

// Size returns the number of physical nodes on the ring.
func (r *Ring) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodeTokens)
}

// Tokens returns a copy of every token currently on the ring, sorted
// ascending by hash.
func (r *Ring) Tokens() []Token {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Token, len(r.tokens))
	copy(out, r.tokens)
	return out
}

// KeyHash exposes the ring's canonical hash function for debugging/tests.
func KeyHash(key string) uint32 {
	return ringHash(key)
}
