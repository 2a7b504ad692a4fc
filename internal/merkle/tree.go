// Package merkle implements the Merkle tree used by the anti-entropy
// synchronizer to detect and repair divergence between two replicas'
// key-spaces without transferring every key (spec.md §4.3).
package merkle

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"sort"
)

// ErrEmptyTree is returned by operations that require a non-empty tree.
var ErrEmptyTree = errors.New("merkle: tree is empty")

// Entry is a single (key, value) pair surfaced by Diff.
type Entry struct {
	Key   string
	Value []byte
}

// node is an internal or leaf node. Leaf nodes carry Key/Value and have
// Left == Right == nil; internal nodes carry only the combined hash and
// the key range their subtree spans.
type node struct {
	Hash   [32]byte
	Key    string
	Value  []byte
	Left   *node
	Right  *node
	IsLeaf bool
	MinKey string
	MaxKey string
}

// Tree is an immutable Merkle tree over a snapshot of a key-space.
type Tree struct {
	root  *node
	count int
}

// leafHash hashes the canonical (key, value) pair that a leaf commits to.
func leafHash(key string, value []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(key))
	h.Write([]byte{0}) // separator so (a,"bc") and (ab,"c") don't collide
	h.Write(value)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// combine produces the parent hash of two child hashes.
func combineHash(a, b [32]byte) [32]byte {
	h := sha256.New()
	h.Write(a[:])
	h.Write(b[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Build sorts entries by key and constructs the tree bottom-up: leaves
// first, then recursively combining pairs of siblings. An odd node count
// at any level duplicates the last node so every combine step sees a
// pair. An empty map yields the empty-sentinel tree (Root returns the
// zero hash, Diff against it reports every entry on the other side).
func Build(entries map[string][]byte) *Tree {
	if len(entries) == 0 {
		return &Tree{}
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	level := make([]*node, len(keys))
	for i, k := range keys {
		v := entries[k]
		level[i] = &node{
			Hash:   leafHash(k, v),
			Key:    k,
			Value:  v,
			IsLeaf: true,
			MinKey: k,
			MaxKey: k,
		}
	}

	for len(level) > 1 {
		next := make([]*node, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			var right *node
			if i+1 < len(level) {
				right = level[i+1]
			} else {
				right = left // odd count: duplicate the last element
			}
			next = append(next, &node{
				Hash:   combineHash(left.Hash, right.Hash),
				Left:   left,
				Right:  right,
				MinKey: left.MinKey,
				MaxKey: right.MaxKey,
			})
		}
		level = next
	}

	return &Tree{root: level[0], count: len(keys)}
}

// Root returns the tree's root hash. The empty tree's root is the zero
// hash, which can never collide with a real combined hash in practice.
func (t *Tree) Root() [32]byte {
	if t == nil || t.root == nil {
		return [32]byte{}
	}
	return t.root.Hash
}

// Count returns the number of leaves (distinct keys) in the tree.
func (t *Tree) Count() int {
	if t == nil {
		return 0
	}
	return t.count
}

// KeyRange returns the minimum and maximum key spanned by the tree. ok is
// false for an empty tree.
func (t *Tree) KeyRange() (min, max string, ok bool) {
	if t == nil || t.root == nil {
		return "", "", false
	}
	return t.root.MinKey, t.root.MaxKey, true
}

// Diff reports the entries that t2 needs in order to converge with t1. If
// the roots match the trees are considered identical and Diff returns
// nil. Otherwise it walks t1's structure, recursing into t2's matching
// subtree where the shapes line up and short-circuiting wherever a
// subtree's combined hash matches on both sides. Every leaf it reaches is
// checked against t2 as a whole (not just the locally-aligned subtree)
// before being reported, since t1 and t2 can hold different numbers of
// leaves: two trees built from different-sized maps pair siblings at
// different positions, so a leaf's counterpart by tree position is not
// reliably its counterpart by key. The returned entries belong to the
// source (t1): symmetry is not required, and a caller wanting the
// converse must call Diff(t2, t1).
func Diff(t1, t2 *Tree) []Entry {
	root1, root2 := rootOf(t1), rootOf(t2)
	if root1 != nil && root2 != nil && root1.Hash == root2.Hash {
		return nil
	}

	var out []Entry
	diffNode(root1, root2, root2, &out)
	return out
}

func rootOf(t *Tree) *node {
	if t == nil {
		return nil
	}
	return t.root
}

// diffNode walks a's subtree, comparing against bLocal (a's positionally
// aligned counterpart, which may be of a different shape or nil) while
// verifying every leaf it reaches against bRoot, t2's actual root, so the
// reported diff is sound regardless of how a and b's shapes diverge.
func diffNode(a, bLocal, bRoot *node, out *[]Entry) {
	if a == nil {
		return
	}
	if bLocal != nil && a.Hash == bLocal.Hash {
		return
	}

	if a.IsLeaf {
		v, found := lookupKey(bRoot, a.Key)
		if !found || !bytes.Equal(v, a.Value) {
			*out = append(*out, Entry{Key: a.Key, Value: a.Value})
		}
		return
	}

	var leftB, rightB *node
	if bLocal != nil && !bLocal.IsLeaf {
		leftB, rightB = bLocal.Left, bLocal.Right
	}
	diffNode(a.Left, leftB, bRoot, out)
	if a.Right != a.Left {
		diffNode(a.Right, rightB, bRoot, out)
	}
}

// lookupKey searches n's subtree for key, pruning by the MinKey/MaxKey
// range every node carries. Used to check a leaf from one tree against
// the other tree's actual key-space rather than its positional
// counterpart.
func lookupKey(n *node, key string) ([]byte, bool) {
	if n == nil || key < n.MinKey || key > n.MaxKey {
		return nil, false
	}
	if n.IsLeaf {
		if n.Key == key {
			return n.Value, true
		}
		return nil, false
	}
	if v, ok := lookupKey(n.Left, key); ok {
		return v, true
	}
	return lookupKey(n.Right, key)
}
