// Package scenario runs the literal end-to-end cluster scenarios against
// an in-process coordinator built from the real ring/replica/replication
// packages, using the FailInjector to control per-node write behavior.
package scenario

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mini-dynamo/mini-dynamo/internal/antientropy"
	"github.com/mini-dynamo/mini-dynamo/internal/merkle"
	"github.com/mini-dynamo/mini-dynamo/internal/replica"
	"github.com/mini-dynamo/mini-dynamo/internal/replication"
	"github.com/mini-dynamo/mini-dynamo/internal/ring"
	"github.com/mini-dynamo/mini-dynamo/internal/versioning"
)

const nodeCount = 10

func clusterNodeIDs() []string {
	ids := make([]string, nodeCount)
	for i := 0; i < nodeCount; i++ {
		ids[i] = "node" + string(rune('1'+i))
	}
	return ids
}

// cluster bundles everything a scenario needs: the ring, the coordinator,
// and direct handles to each node's FailInjector and underlying Store so
// a test can flip fail modes or write directly to a replica.
type cluster struct {
	ring        *ring.Ring
	coordinator *replication.Coordinator
	injectors   map[string]*replica.FailInjector
	stores      map[string]*replica.Store
}

// buildCluster wires nodeCount in-process nodes behind a Coordinator.
// partialTargets names the nodes whose FailInjector fails Put calls while
// that node's mode is set to FailPartial.
func buildCluster(t *testing.T, tokensPerNode int, partialTargets ...string) *cluster {
	t.Helper()

	ids := clusterNodeIDs()
	r := ring.Build(ids, tokensPerNode)
	coord := replication.NewCoordinator(ids[0], replication.Config{
		ReplicationFactor: 3,
		WriteQuorum:       2,
		DispatchDeadline:  2 * time.Second,
	}, zap.NewNop().Sugar())

	c := &cluster{
		ring:        r,
		coordinator: coord,
		injectors:   make(map[string]*replica.FailInjector, nodeCount),
		stores:      make(map[string]*replica.Store, nodeCount),
	}

	for _, id := range ids {
		store := replica.NewStore(id)
		t.Cleanup(func() { store.Close() })
		client := replica.NewLocalClient(store)
		injected := replica.NewFailInjector(id, client, partialTargets...)
		coord.RegisterNode(id, injected, nil)
		c.injectors[id] = injected
		c.stores[id] = store
	}

	return c
}

func (c *cluster) setAllMode(mode replica.FailMode) {
	for _, inj := range c.injectors {
		inj.SetMode(mode)
	}
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func TestScenarioS1AllSucceed(t *testing.T) {
	c := buildCluster(t, 10)
	ctx := context.Background()
	c.setAllMode(replica.FailAlwaysSucceed)

	require.NoError(t, c.coordinator.Put(ctx, c.ring, "test_key", []byte("test_value"), nil))

	value, _, err := c.coordinator.Get(ctx, c.ring, "test_key")
	require.NoError(t, err)
	assert.Equal(t, []byte("test_value"), value)
}

func TestScenarioS2AllFail(t *testing.T) {
	c := buildCluster(t, 10)
	ctx := context.Background()
	c.setAllMode(replica.FailAlwaysFail)

	err := c.coordinator.Put(ctx, c.ring, "key_fail", []byte("value_fail"), nil)
	assert.ErrorIs(t, err, replication.ErrQuorumNotMet)

	_, _, err = c.coordinator.Get(ctx, c.ring, "key_fail")
	assert.ErrorIs(t, err, replication.ErrNoResponses)

	replicas, rerr := c.ring.PreferenceList("key_fail", 3)
	require.NoError(t, rerr)
	require.Len(t, replicas, 3)
	assert.Equal(t, 3, c.coordinator.Hints().Count())
	assert.ElementsMatch(t, replicas, c.coordinator.Hints().Targets())
}

func TestScenarioS3PartialWithQuorum(t *testing.T) {
	failing := []string{"node1", "node2", "node4", "node5"}
	c := buildCluster(t, 10, failing...)
	ctx := context.Background()

	for id, inj := range c.injectors {
		if contains(failing, id) {
			inj.SetMode(replica.FailPartial)
		} else {
			inj.SetMode(replica.FailAlwaysSucceed)
		}
	}

	replicas, err := c.ring.PreferenceList("key_partial", 3)
	require.NoError(t, err)
	nonFailing := 0
	for _, id := range replicas {
		if !contains(failing, id) {
			nonFailing++
		}
	}
	require.GreaterOrEqual(t, nonFailing, 2, "test fixture requires >=2 non-failing replicas in the preference list")

	require.NoError(t, c.coordinator.Put(ctx, c.ring, "key_partial", []byte("value_partial"), nil))

	value, _, err := c.coordinator.Get(ctx, c.ring, "key_partial")
	require.NoError(t, err)
	assert.Equal(t, []byte("value_partial"), value)
}

func TestScenarioS4HintDrainsOnRecovery(t *testing.T) {
	c := buildCluster(t, 10)
	ctx := context.Background()
	c.setAllMode(replica.FailAlwaysFail)

	err := c.coordinator.Put(ctx, c.ring, "test_key", []byte("test_value"), nil)
	assert.ErrorIs(t, err, replication.ErrQuorumNotMet)
	require.Equal(t, 3, c.coordinator.Hints().Count())

	c.setAllMode(replica.FailAlwaysSucceed)
	c.coordinator.Hints().RetryAll(ctx)

	value, _, err := c.coordinator.Get(ctx, c.ring, "test_key")
	require.NoError(t, err)
	assert.Equal(t, []byte("test_value"), value)
	assert.Equal(t, 0, c.coordinator.Hints().Count())
}

func TestScenarioS5MerkleRepair(t *testing.T) {
	c := buildCluster(t, 10)
	ctx := context.Background()
	c.setAllMode(replica.FailAlwaysSucceed)

	replicas, err := c.ring.PreferenceList("test_key", 2)
	require.NoError(t, err)
	require.Len(t, replicas, 2)
	n1, n2 := replicas[0], replicas[1]

	_, err = c.stores[n1].Put(ctx, "test_key", []byte("original_value"), versioning.VectorClock{n1: 1}, 1)
	require.NoError(t, err)
	_, err = c.stores[n2].Put(ctx, "test_key", []byte("outdated_value"), versioning.VectorClock{n2: 1}, 2)
	require.NoError(t, err)

	tree1, err := c.stores[n1].GetMerkle(ctx)
	require.NoError(t, err)
	tree2, err := c.stores[n2].GetMerkle(ctx)
	require.NoError(t, err)

	diff := merkle.Diff(tree1, tree2)
	var found bool
	for _, e := range diff {
		if e.Key == "test_key" {
			found = true
		}
	}
	assert.True(t, found, "expected test_key in merkle diff")

	sync := antientropy.NewSynchronizer(c.coordinator, time.Hour, 3, zap.NewNop().Sugar())
	sync.SynchronizeNode(ctx, c.ring, n1)

	v, hit, err := c.stores[n2].Get(ctx, "test_key")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, []byte("original_value"), v.Value)
}

func TestScenarioS6ConcurrentLWW(t *testing.T) {
	c := buildCluster(t, 10)
	ctx := context.Background()
	c.setAllMode(replica.FailAlwaysSucceed)

	require.NoError(t, c.coordinator.Put(ctx, c.ring, "user2", []byte("Bob"), versioning.VectorClock{"client1": 1}))
	require.NoError(t, c.coordinator.Put(ctx, c.ring, "user2", []byte("Charlie"), versioning.VectorClock{"client2": 1}))

	value, _, err := c.coordinator.Get(ctx, c.ring, "user2")
	require.NoError(t, err)
	assert.Contains(t, []string{"Bob", "Charlie"}, string(value))
	first := value

	sync := antientropy.NewSynchronizer(c.coordinator, time.Hour, 3, zap.NewNop().Sugar())
	sync.Sync(ctx, c.ring)

	value2, _, err := c.coordinator.Get(ctx, c.ring, "user2")
	require.NoError(t, err)
	assert.Equal(t, first, value2, "second read after sync must deterministically match the first")
}
