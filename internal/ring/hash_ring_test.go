package ring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingAddNode(t *testing.T) {
	r := New(10)

	r.AddNode("node1")
	r.AddNode("node2")
	r.AddNode("node3")

	assert.Equal(t, 3, r.Size())
	assert.Len(t, r.Tokens(), 30)
}

func TestRingRemoveNode(t *testing.T) {
	r := New(10)

	r.AddNode("node1")
	r.AddNode("node2")
	r.AddNode("node3")

	r.RemoveNode("node2")

	assert.Equal(t, 2, r.Size())
	for _, token := range r.Tokens() {
		assert.NotEqual(t, "node2", token.NodeID)
	}
}

func TestRingPreferenceListDeterministic(t *testing.T) {
	r := New(100)

	r.AddNode("node1")
	r.AddNode("node2")
	r.AddNode("node3")

	first, err := r.PreferenceList("testkey", 1)
	require.NoError(t, err)
	second, err := r.PreferenceList("testkey", 1)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	nodeCount := make(map[string]int)
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("key-%d", i)
		pref, err := r.PreferenceList(key, 1)
		require.NoError(t, err)
		nodeCount[pref[0]]++
	}

	for _, node := range []string{"node1", "node2", "node3"} {
		assert.NotZero(t, nodeCount[node], "node %s received no keys", node)
	}
}

func TestRingPreferenceListReturnsDistinctNodes(t *testing.T) {
	r := New(100)

	r.AddNode("node1")
	r.AddNode("node2")
	r.AddNode("node3")

	nodes, err := r.PreferenceList("testkey", 3)
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	seen := make(map[string]bool)
	for _, n := range nodes {
		assert.False(t, seen[n], "duplicate node %s in preference list", n)
		seen[n] = true
	}
}

func TestRingConsistencyUnderAddNode(t *testing.T) {
	r := New(100)

	r.AddNode("node1")
	r.AddNode("node2")
	r.AddNode("node3")

	mappings := make(map[string]string)
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%d", i)
		pref, err := r.PreferenceList(key, 1)
		require.NoError(t, err)
		mappings[key] = pref[0]
	}

	r.AddNode("node4")

	moved := 0
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key-%d", i)
		pref, err := r.PreferenceList(key, 1)
		require.NoError(t, err)
		if pref[0] != mappings[key] {
			moved++
		}
	}

	assert.LessOrEqual(t, moved, 50, "too many keys moved on node addition")
}

func TestRingEmptyRing(t *testing.T) {
	r := New(100)

	_, err := r.PreferenceList("testkey", 3)
	assert.Error(t, err)
}

func TestRingHasNode(t *testing.T) {
	r := New(10)
	r.AddNode("node1")

	assert.True(t, r.HasNode("node1"))
	assert.False(t, r.HasNode("node2"))
}

func TestRingBuildIsPure(t *testing.T) {
	nodes := []string{"node1", "node2", "node3"}

	a := Build(nodes, 10)
	b := Build(nodes, 10)

	assert.Equal(t, a.Tokens(), b.Tokens())
}

func TestRingTokenRangesAndLoadDistribution(t *testing.T) {
	r := New(10)
	r.AddNode("node1")
	r.AddNode("node2")
	r.AddNode("node3")

	ranges := r.TokenRanges()
	require.Len(t, ranges, 30)

	dist := r.LoadDistribution()
	require.Len(t, dist, 3)

	total := 0.0
	for _, load := range dist {
		total += load
	}
	assert.InDelta(t, 100.0, total, 0.1)
}

func TestRingSuccessorsExcludeSelf(t *testing.T) {
	r := New(10)
	r.AddNode("node1")
	r.AddNode("node2")
	r.AddNode("node3")

	successors := r.Successors("node1", 2)
	require.Len(t, successors, 2)
	for _, s := range successors {
		assert.NotEqual(t, "node1", s)
	}
}
