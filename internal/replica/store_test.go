package replica

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mini-dynamo/mini-dynamo/internal/versioning"
)

func TestStoreGetMissingKey(t *testing.T) {
	s := NewStore("node1")
	defer s.Close()

	ctx := context.Background()
	_, found, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStorePutThenGet(t *testing.T) {
	s := NewStore("node1")
	defer s.Close()

	ctx := context.Background()
	vc := versioning.VectorClock{"node1": 1}

	ok, err := s.Put(ctx, "key1", []byte("value1"), vc, 100)
	require.NoError(t, err)
	require.True(t, ok)

	v, found, err := s.Get(ctx, "key1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("value1"), v.Value)
	assert.Equal(t, int64(100), v.Timestamp)
}

func TestStorePutIsUnconditional(t *testing.T) {
	// The replica store never refuses a write on causal grounds; that is
	// the Coordinator's job. A later write with a lesser clock still
	// overwrites, per spec.md §4.4.
	s := NewStore("node1")
	defer s.Close()

	ctx := context.Background()

	_, err := s.Put(ctx, "key1", []byte("second"), versioning.VectorClock{"node1": 1}, 200)
	require.NoError(t, err)
	_, err = s.Put(ctx, "key1", []byte("first"), versioning.VectorClock{}, 50)
	require.NoError(t, err)

	v, found, err := s.Get(ctx, "key1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("first"), v.Value)
}

func TestStoreMerkleRebuildsAfterPut(t *testing.T) {
	s := NewStore("node1")
	defer s.Close()

	ctx := context.Background()

	before, err := s.GetMerkle(ctx)
	require.NoError(t, err)
	emptyRoot := before.Root()

	_, err = s.Put(ctx, "key1", []byte("value1"), versioning.VectorClock{"node1": 1}, 1)
	require.NoError(t, err)

	after, err := s.GetMerkle(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, emptyRoot, after.Root())
}

func TestStoreGetAllSnapshot(t *testing.T) {
	s := NewStore("node1")
	defer s.Close()

	ctx := context.Background()
	_, err := s.Put(ctx, "a", []byte("1"), versioning.VectorClock{"node1": 1}, 1)
	require.NoError(t, err)
	_, err = s.Put(ctx, "b", []byte("2"), versioning.VectorClock{"node1": 1}, 2)
	require.NoError(t, err)

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, []byte("1"), all["a"].Value)
}

func TestStoreClosedReturnsError(t *testing.T) {
	s := NewStore("node1")
	s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, _, err := s.Get(ctx, "key1")
	assert.ErrorIs(t, err, ErrClosed)
}
