package merkle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildEmptyMap(t *testing.T) {
	tree := Build(map[string][]byte{})
	assert.Equal(t, 0, tree.Count())
	assert.Equal(t, [32]byte{}, tree.Root())

	_, _, ok := tree.KeyRange()
	assert.False(t, ok)
}

func TestBuildDeterministic(t *testing.T) {
	entries := map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
		"c": []byte("3"),
	}

	t1 := Build(entries)
	t2 := Build(entries)

	assert.Equal(t, t1.Root(), t2.Root())
}

func TestRootDiffersWhenMapsDiffer(t *testing.T) {
	t1 := Build(map[string][]byte{"a": []byte("1")})
	t2 := Build(map[string][]byte{"a": []byte("2")})

	assert.NotEqual(t, t1.Root(), t2.Root())
}

func TestDiffIdenticalTreesIsEmpty(t *testing.T) {
	entries := map[string][]byte{"a": []byte("1"), "b": []byte("2")}

	t1 := Build(entries)
	t2 := Build(entries)

	assert.Empty(t, Diff(t1, t2))
}

func TestDiffReportsChangedValue(t *testing.T) {
	t1 := Build(map[string][]byte{"a": []byte("1"), "b": []byte("2")})
	t2 := Build(map[string][]byte{"a": []byte("1"), "b": []byte("stale")})

	diff := Diff(t1, t2)
	require.Len(t, diff, 1)
	assert.Equal(t, "b", diff[0].Key)
	assert.Equal(t, []byte("2"), diff[0].Value)
}

func TestDiffReportsMissingOnTarget(t *testing.T) {
	t1 := Build(map[string][]byte{"a": []byte("1"), "b": []byte("2"), "c": []byte("3")})
	t2 := Build(map[string][]byte{"a": []byte("1")})

	diff := Diff(t1, t2)

	keys := make(map[string]bool)
	for _, e := range diff {
		keys[e.Key] = true
	}
	assert.True(t, keys["b"])
	assert.True(t, keys["c"])
}

func TestDiffAgainstEmptyTreeReturnsAllEntries(t *testing.T) {
	t1 := Build(map[string][]byte{"a": []byte("1"), "b": []byte("2")})
	t2 := Build(map[string][]byte{})

	diff := Diff(t1, t2)
	assert.Len(t, diff, 2)
}

func TestDiffIsSourceSided(t *testing.T) {
	t1 := Build(map[string][]byte{"a": []byte("1")})
	t2 := Build(map[string][]byte{"a": []byte("1"), "b": []byte("2")})

	// t1 -> t2: t1 has nothing t2 lacks.
	assert.Empty(t, Diff(t1, t2))

	// t2 -> t1: t2 must report b back to the source.
	diff := Diff(t2, t1)
	require.Len(t, diff, 1)
	assert.Equal(t, "b", diff[0].Key)
}

func TestKeyRange(t *testing.T) {
	tree := Build(map[string][]byte{"m": []byte("x"), "a": []byte("y"), "z": []byte("w")})

	min, max, ok := tree.KeyRange()
	require.True(t, ok)
	assert.Equal(t, "a", min)
	assert.Equal(t, "z", max)
}
