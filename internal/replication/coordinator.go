package replication

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mini-dynamo/mini-dynamo/internal/gossip"
	"github.com/mini-dynamo/mini-dynamo/internal/replica"
	"github.com/mini-dynamo/mini-dynamo/internal/ring"
	"github.com/mini-dynamo/mini-dynamo/internal/versioning"
	"github.com/mini-dynamo/mini-dynamo/pkg/types"
)

// ErrNoResponses is returned by Get when every replica dispatch failed
// or timed out (spec.md §4.5.2 step 3, §7 "No successful replica
// responses").
var ErrNoResponses = errors.New("replication: no responses from any replica")

// ErrQuorumNotMet is returned by Put when fewer than W replicas
// acknowledged the write (spec.md §4.5.1 step 5).
var ErrQuorumNotMet = errors.New("replication: write quorum not met")

// nodeHandle bundles everything the Coordinator needs to reach one node:
// its replica client and (optionally) its gossip task.
type nodeHandle struct {
	client replica.Client
	gossip *gossip.Gossiper
}

// Coordinator executes spec.md §4.5's quorum read/write path: it fans a
// request out to a key's preference list, applies the configured quorum
// policy, reconciles divergent versions via the versioning package, and
// schedules hints for replicas it couldn't reach.
type Coordinator struct {
	selfID            string
	replicationFactor int           // R
	writeQuorum       int           // W
	dispatchDeadline  time.Duration // D

	nodesMu sync.RWMutex
	nodes   map[string]*nodeHandle

	hints *HintedHandoff
	log   *zap.SugaredLogger
}

// Config bundles the tunables spec.md §4.5/§6 fixes for a Coordinator.
type Config struct {
	ReplicationFactor int
	WriteQuorum       int
	DispatchDeadline  time.Duration
}

// DefaultConfig returns spec.md §4.5's literal defaults: R=3, W=2, D=5s.
func DefaultConfig() Config {
	return Config{ReplicationFactor: 3, WriteQuorum: 2, DispatchDeadline: 5 * time.Second}
}

// NewCoordinator creates a Coordinator. The hint store is created
// internally and wired back to the Coordinator as its ClientResolver, so
// RetryAll (invoked by gossip on a failed->alive transition, or by
// operational tooling) can reach any currently-registered node.
func NewCoordinator(selfID string, cfg Config, log *zap.SugaredLogger) *Coordinator {
	c := &Coordinator{
		selfID:            selfID,
		replicationFactor: cfg.ReplicationFactor,
		writeQuorum:       cfg.WriteQuorum,
		dispatchDeadline:  cfg.DispatchDeadline,
		nodes:             make(map[string]*nodeHandle),
		log:               log,
	}
	c.hints = NewHintedHandoff(NewHintStore(), c, cfg.DispatchDeadline, log)
	return c
}

// RegisterNode makes a node reachable by the Coordinator. gsp may be nil
// for a node whose gossip task is managed separately.
func (c *Coordinator) RegisterNode(nodeID string, client replica.Client, gsp *gossip.Gossiper) {
	c.nodesMu.Lock()
	defer c.nodesMu.Unlock()
	c.nodes[nodeID] = &nodeHandle{client: client, gossip: gsp}
}

// UnregisterNode removes a node from the Coordinator's registry.
func (c *Coordinator) UnregisterNode(nodeID string) {
	c.nodesMu.Lock()
	defer c.nodesMu.Unlock()
	delete(c.nodes, nodeID)
}

// NodeIDs returns every node id currently registered with the
// Coordinator, used by admin introspection.
func (c *Coordinator) NodeIDs() []string {
	c.nodesMu.RLock()
	defer c.nodesMu.RUnlock()
	ids := make([]string, 0, len(c.nodes))
	for id := range c.nodes {
		ids = append(ids, id)
	}
	return ids
}

// ClientFor implements ClientResolver for HintedHandoff and the
// anti-entropy synchronizer.
func (c *Coordinator) ClientFor(nodeID string) (replica.Client, bool) {
	c.nodesMu.RLock()
	defer c.nodesMu.RUnlock()
	h, ok := c.nodes[nodeID]
	if !ok {
		return nil, false
	}
	return h.client, true
}

// GossipFor returns the gossip task for nodeID, if one was registered.
func (c *Coordinator) GossipFor(nodeID string) (*gossip.Gossiper, bool) {
	c.nodesMu.RLock()
	defer c.nodesMu.RUnlock()
	h, ok := c.nodes[nodeID]
	if !ok || h.gossip == nil {
		return nil, false
	}
	return h.gossip, true
}

// Hints exposes the hint queue for admin introspection and explicit
// operator-triggered RetryAll calls.
func (c *Coordinator) Hints() *HintedHandoff { return c.hints }

// InitializeNodes bootstraps an in-process cluster of len(nodeIDs) nodes:
// one replica.Store and one gossip.Gossiper per id, all registered with
// this Coordinator and wired to a shared gossip.LocalRegistry so they can
// reach each other without sockets. Every node's view is seeded alive for
// every other node (spec.md §6's initialize_nodes). Each gossip task's
// onRevive callback retries every hint in this Coordinator's queue when
// any node comes back (spec.md §4.7 "automatically by the gossip component").
// This is the harness spec.md §8's scenarios S1-S6 run against; a real
// multi-process deployment bootstraps one node at a time via
// cmd/dynamo instead.
func (c *Coordinator) InitializeNodes(ctx context.Context, nodeIDs []string, failureThreshold, gossipInterval time.Duration) *gossip.LocalRegistry {
	registry := gossip.NewLocalRegistry()

	seed := make([]*types.Node, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		seed = append(seed, &types.Node{ID: id, State: types.NodeAlive})
	}

	for _, id := range nodeIDs {
		store := replica.NewStore(id)
		client := replica.NewLocalClient(store)

		g := gossip.NewGossiper(id, failureThreshold, gossipInterval, c.onReviveFor(ctx), c.log)
		g.SeedAllAlive(seed)
		registry.Register(g)

		c.RegisterNode(id, client, g)
		g.Start()
	}

	return registry
}

// onReviveFor returns the onRevive callback a node's Gossiper invokes on a
// failed->alive transition: retry every queued hint, whatever its target
// (the revived node's id is not used to filter).
func (c *Coordinator) onReviveFor(ctx context.Context) func(nodeID string) {
	return func(nodeID string) {
		c.hints.RetryAll(ctx)
	}
}

type putOutcome struct {
	node    string
	vcUsed  versioning.VectorClock
	success bool
}

// Put implements spec.md §4.5.1. If vc is nil, each replica's current
// clock is read and updated independently before the write is issued,
// so every replica stamps its own causal successor; if vc is supplied by
// the caller (e.g. read-repair healing a concurrent read), it is used
// unmodified for every replica.
func (c *Coordinator) Put(ctx context.Context, r *ring.Ring, key string, value []byte, vc versioning.VectorClock) error {
	requestID := uuid.NewString()
	replicas, err := r.PreferenceList(key, c.replicationFactor)
	if err != nil {
		return err
	}

	ts := time.Now().UnixMilli()

	outcomes := make([]putOutcome, len(replicas))
	var wg sync.WaitGroup
	for i, nodeID := range replicas {
		wg.Add(1)
		go func(i int, nodeID string) {
			defer wg.Done()
			outcomes[i] = c.putOne(ctx, requestID, nodeID, key, value, vc, ts)
		}(i, nodeID)
	}
	wg.Wait()

	successCount := 0
	for _, o := range outcomes {
		if o.success {
			successCount++
		} else {
			c.hints.Store(o.node, key, value, o.vcUsed)
		}
	}

	c.log.Infow("put completed", "request_id", requestID, "key", key,
		"successes", successCount, "required", c.writeQuorum)

	if successCount >= c.writeQuorum {
		return nil
	}
	return ErrQuorumNotMet
}

func (c *Coordinator) putOne(ctx context.Context, requestID, nodeID, key string, value []byte, vc versioning.VectorClock, ts int64) putOutcome {
	client, ok := c.ClientFor(nodeID)
	if !ok {
		return putOutcome{node: nodeID, vcUsed: vc}
	}

	vcOut := vc
	if vcOut == nil {
		gctx, cancel := context.WithTimeout(ctx, c.dispatchDeadline)
		existing, found, err := client.Get(gctx, key)
		cancel()
		base := versioning.VectorClock{}
		if err == nil && found {
			base = existing.VC
		}
		vcOut = versioning.Update(base, nodeID)
	}

	pctx, cancel := context.WithTimeout(ctx, c.dispatchDeadline)
	defer cancel()
	success, err := client.Put(pctx, key, value, vcOut, ts)
	if err != nil || !success {
		c.log.Warnw("replica put failed", "request_id", requestID, "node", nodeID, "key", key, "error", err)
		return putOutcome{node: nodeID, vcUsed: vcOut}
	}
	return putOutcome{node: nodeID, vcUsed: vcOut, success: true}
}

// Get implements spec.md §4.5.2: fan out to the preference list,
// collect successful responses within the dispatch deadline, and either
// return the sole response, the causal winner among several, or fall
// back to LWW with an async read-repair for mutually concurrent
// versions.
func (c *Coordinator) Get(ctx context.Context, r *ring.Ring, key string) ([]byte, versioning.VectorClock, error) {
	requestID := uuid.NewString()
	replicas, err := r.PreferenceList(key, c.replicationFactor)
	if err != nil {
		return nil, nil, err
	}

	type readResult struct {
		v     versioning.Versioned
		found bool
	}
	results := make([]readResult, len(replicas))
	var wg sync.WaitGroup
	for i, nodeID := range replicas {
		wg.Add(1)
		go func(i int, nodeID string) {
			defer wg.Done()
			client, ok := c.ClientFor(nodeID)
			if !ok {
				return
			}
			gctx, cancel := context.WithTimeout(ctx, c.dispatchDeadline)
			defer cancel()
			v, found, err := client.Get(gctx, key)
			if err != nil {
				c.log.Warnw("replica get failed", "request_id", requestID, "node", nodeID, "key", key, "error", err)
				return
			}
			results[i] = readResult{v: v, found: found}
		}(i, nodeID)
	}
	wg.Wait()

	var responses []versioning.Versioned
	for _, res := range results {
		if res.found {
			responses = append(responses, res.v)
		}
	}

	if len(responses) == 0 {
		return nil, nil, ErrNoResponses
	}

	resolution := versioning.Resolve(responses)
	if resolution.WasConcurrent {
		c.log.Infow("concurrent versions reconciled by LWW", "request_id", requestID, "key", key)
		healVC := resolution.MergedVC
		winnerValue := resolution.Winner.Value
		go func() {
			hctx, cancel := context.WithTimeout(context.Background(), c.dispatchDeadline)
			defer cancel()
			if err := c.Put(hctx, r, key, winnerValue, healVC); err != nil {
				c.log.Warnw("read-repair put failed", "key", key, "error", err)
			}
		}()
	}

	return resolution.Winner.Value, resolution.Winner.VC, nil
}
