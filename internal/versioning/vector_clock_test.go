package versioning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdateOnEmptyClockStartsAtOne(t *testing.T) {
	vc := Update(VectorClock{}, "n1")
	assert.Equal(t, VectorClock{"n1": 1}, vc)
}

func TestUpdateIncrementsOwnEntryAndCarriesOthersForward(t *testing.T) {
	base := VectorClock{"n1": 1, "n2": 3}
	vc := Update(base, "n1")
	assert.Equal(t, VectorClock{"n1": 2, "n2": 3}, vc)
	assert.Equal(t, uint64(1), base["n1"], "Update must not mutate its input")
}

func TestMergeTakesPointwiseMax(t *testing.T) {
	a := VectorClock{"n1": 2, "n2": 1}
	b := VectorClock{"n1": 1, "n3": 5}
	merged := Merge(a, b)
	assert.Equal(t, VectorClock{"n1": 2, "n2": 1, "n3": 5}, merged)
}

func TestCompareEqual(t *testing.T) {
	a := VectorClock{"n1": 1, "n2": 2}
	b := VectorClock{"n1": 1, "n2": 2}
	assert.Equal(t, ClockEqual, Compare(a, b))
}

func TestCompareDescendant(t *testing.T) {
	ancestor := VectorClock{"n1": 1}
	descendant := VectorClock{"n1": 2, "n2": 1}
	assert.Equal(t, ClockDescendant, Compare(descendant, ancestor))
	assert.Equal(t, ClockAncestor, Compare(ancestor, descendant))
}

func TestCompareConcurrentWhenNeitherDominates(t *testing.T) {
	a := VectorClock{"n1": 2, "n2": 1}
	b := VectorClock{"n1": 1, "n2": 2}
	assert.Equal(t, ClockConcurrent, Compare(a, b))
}

func TestIsDescendantOrEqual(t *testing.T) {
	a := VectorClock{"n1": 2}
	b := VectorClock{"n1": 1}
	assert.True(t, IsDescendantOrEqual(a, b))
	assert.False(t, IsDescendantOrEqual(b, a))
}

func TestResolveSingleResponseIsWinnerOutright(t *testing.T) {
	only := Versioned{Value: []byte("v1"), VC: VectorClock{"n1": 1}}
	res := Resolve([]Versioned{only})
	assert.Equal(t, only, res.Winner)
	assert.False(t, res.WasConcurrent)
}

func TestResolvePicksCausalWinnerWhenOneDominates(t *testing.T) {
	older := Versioned{Value: []byte("old"), VC: VectorClock{"n1": 1}, Timestamp: 1}
	newer := Versioned{Value: []byte("new"), VC: VectorClock{"n1": 2}, Timestamp: 2}

	res := Resolve([]Versioned{older, newer})
	assert.Equal(t, newer, res.Winner)
	assert.False(t, res.WasConcurrent)
}

func TestResolveFallsBackToLWWOnConcurrentVersions(t *testing.T) {
	a := Versioned{Value: []byte("a"), VC: VectorClock{"n1": 1}, Timestamp: 5}
	b := Versioned{Value: []byte("b"), VC: VectorClock{"n2": 1}, Timestamp: 9}

	res := Resolve([]Versioned{a, b})
	assert.True(t, res.WasConcurrent)
	assert.Equal(t, b, res.Winner)
	assert.Equal(t, VectorClock{"n1": 1, "n2": 1}, res.MergedVC)
}
