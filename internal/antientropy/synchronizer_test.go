package antientropy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mini-dynamo/mini-dynamo/internal/replica"
	"github.com/mini-dynamo/mini-dynamo/internal/ring"
	"github.com/mini-dynamo/mini-dynamo/internal/versioning"
)

type fixtureResolver struct {
	clients map[string]replica.Client
}

func (f *fixtureResolver) ClientFor(nodeID string) (replica.Client, bool) {
	c, ok := f.clients[nodeID]
	return c, ok
}

func newFixture(t *testing.T, nodeIDs ...string) (*fixtureResolver, map[string]*replica.Store) {
	t.Helper()
	stores := make(map[string]*replica.Store, len(nodeIDs))
	resolver := &fixtureResolver{clients: make(map[string]replica.Client, len(nodeIDs))}
	for _, id := range nodeIDs {
		s := replica.NewStore(id)
		t.Cleanup(func() { s.Close() })
		stores[id] = s
		resolver.clients[id] = replica.NewLocalClient(s)
	}
	return resolver, stores
}

func TestSynchronizeNodeRepliesDivergentKeyToPeer(t *testing.T) {
	resolver, stores := newFixture(t, "n1", "n2", "n3")
	r := ring.Build([]string{"n1", "n2", "n3"}, 32)

	ctx := context.Background()
	_, err := stores["n1"].Put(ctx, "k1", []byte("v1"), versioning.VectorClock{"n1": 1}, time.Now().UnixMilli())
	require.NoError(t, err)

	sync := NewSynchronizer(resolver, time.Hour, 3, zap.NewNop().Sugar())
	sync.SynchronizeNode(ctx, r, "n1")

	for _, peer := range r.Successors("n1", 2) {
		v, found, err := stores[peer].Get(ctx, "k1")
		require.NoError(t, err)
		require.True(t, found, "expected n1's write to propagate to %s", peer)
		assert.Equal(t, []byte("v1"), v.Value)
	}
}

func TestSyncIsIdempotentWhenReplicasAlreadyAgree(t *testing.T) {
	resolver, stores := newFixture(t, "n1", "n2")
	r := ring.Build([]string{"n1", "n2"}, 32)

	ctx := context.Background()
	vc := versioning.VectorClock{"n1": 1}
	ts := time.Now().UnixMilli()
	_, err := stores["n1"].Put(ctx, "k1", []byte("v1"), vc, ts)
	require.NoError(t, err)
	_, err = stores["n2"].Put(ctx, "k1", []byte("v1"), vc, ts)
	require.NoError(t, err)

	sync := NewSynchronizer(resolver, time.Hour, 2, zap.NewNop().Sugar())
	sync.Sync(ctx, r)
	sync.Sync(ctx, r)

	v, found, err := stores["n2"].Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v1"), v.Value)
}

func TestFullSyncCopiesSourceKeysToPeer(t *testing.T) {
	resolver, stores := newFixture(t, "n1", "n2")
	ctx := context.Background()
	_, err := stores["n1"].Put(ctx, "k1", []byte("v1"), versioning.VectorClock{"n1": 1}, time.Now().UnixMilli())
	require.NoError(t, err)

	sync := NewSynchronizer(resolver, time.Hour, 2, zap.NewNop().Sugar())
	src, _ := resolver.ClientFor("n1")
	dst, _ := resolver.ClientFor("n2")
	sync.fullSync(ctx, "n1", src, "n2", dst)

	v, found, err := stores["n2"].Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v1"), v.Value)
}
