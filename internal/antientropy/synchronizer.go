// Package antientropy implements the Merkle-driven anti-entropy
// synchronizer: a periodic background pass that reconciles replica pairs
// by comparing Merkle summaries instead of transferring full key-spaces
// (spec.md §4.6).
package antientropy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mini-dynamo/mini-dynamo/internal/merkle"
	"github.com/mini-dynamo/mini-dynamo/internal/replica"
	"github.com/mini-dynamo/mini-dynamo/internal/ring"
)

// merkleFetchTimeout is spec.md §4.6 step 2's fixed 5s budget for
// fetching a replica's Merkle tree before falling back to a full sync.
const merkleFetchTimeout = 5 * time.Second

// ClientResolver looks up the replica.Client serving a node id. The
// Coordinator satisfies this interface.
type ClientResolver interface {
	ClientFor(nodeID string) (replica.Client, bool)
}

// Synchronizer runs spec.md §4.6's periodic reconciliation pass over
// every (n, replica) pair the ring implies.
type Synchronizer struct {
	resolve           ClientResolver
	interval          time.Duration // I
	replicationFactor int           // R, the preference-list length walked from each token
	log               *zap.SugaredLogger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSynchronizer creates a Synchronizer. replicationFactor is the
// preference-list length R: for each token owned by an origin n, the
// first R distinct nodes clockwise from that token (n itself first) form
// the token's preference list, and every other node in any of those
// lists is a peer n is reconciled with (spec.md §4.6).
func NewSynchronizer(resolve ClientResolver, interval time.Duration, replicationFactor int, log *zap.SugaredLogger) *Synchronizer {
	return &Synchronizer{
		resolve:           resolve,
		interval:          interval,
		replicationFactor: replicationFactor,
		log:               log,
		stopCh:            make(chan struct{}),
	}
}

// Start begins the periodic synchronization loop.
func (s *Synchronizer) Start(r *ring.Ring) {
	s.wg.Add(1)
	go s.run(r)
}

// Stop halts the periodic loop and waits for it to exit.
func (s *Synchronizer) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Synchronizer) run(r *ring.Ring) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sync(context.Background(), r)
		}
	}
}

// Sync runs one full synchronization pass synchronously: every node
// known to the ring, paired with every distinct successor in its
// replica set (spec.md §4.6's manual "sync() entry point" for tests).
func (s *Synchronizer) Sync(ctx context.Context, r *ring.Ring) {
	for _, n := range r.Nodes() {
		s.SynchronizeNode(ctx, r, n)
	}
}

// SynchronizeNode reconciles every (n, replica) pair where replica is a
// node other than n in the preference list of any token n owns (spec.md
// §8 scenario S5 names this external operation directly as
// synchronize_node(ring, n1)).
func (s *Synchronizer) SynchronizeNode(ctx context.Context, r *ring.Ring, n string) {
	srcClient, ok := s.resolve.ClientFor(n)
	if !ok {
		return
	}

	tokens := r.Tokens()
	var peers []string
	added := map[string]bool{n: true}
	for i := range tokens {
		inList := map[string]bool{n: true}
		for j := 1; tokens[i].NodeID == n && j < len(tokens) && len(inList) < s.replicationFactor; j++ {
			id := tokens[(i+j)%len(tokens)].NodeID
			inList[id] = true
			if !added[id] {
				added[id] = true
				peers = append(peers, id)
			}
		}
	}
	for _, peer := range peers {
		dstClient, ok := s.resolve.ClientFor(peer)
		if !ok {
			continue
		}
		s.reconcilePair(ctx, n, srcClient, peer, dstClient)
	}
}

// reconcilePair implements spec.md §4.6 steps 1-3 for a single ordered
// (src, dst) pair: fetch both Merkle trees; on fetch failure do a full
// sync; otherwise diff and repair only the divergent keys.
func (s *Synchronizer) reconcilePair(ctx context.Context, srcID string, src replica.Client, dstID string, dst replica.Client) {
	srcTree, srcErr := fetchMerkle(ctx, src)
	dstTree, dstErr := fetchMerkle(ctx, dst)

	if srcErr != nil || dstErr != nil {
		s.log.Infow("merkle fetch timeout, falling back to full sync", "src", srcID, "dst", dstID)
		s.fullSync(ctx, srcID, src, dstID, dst)
		return
	}

	if srcTree.Root() == dstTree.Root() {
		return
	}

	diff := merkle.Diff(srcTree, dstTree)
	if len(diff) == 0 {
		return
	}

	s.log.Infow("merkle diff found", "src", srcID, "dst", dstID, "entries", len(diff))
	for _, entry := range diff {
		v, found, err := src.Get(ctx, entry.Key)
		if err != nil || !found {
			continue
		}
		if _, err := dst.Put(ctx, entry.Key, v.Value, v.VC, v.Timestamp); err != nil {
			s.log.Warnw("anti-entropy repair put failed", "dst", dstID, "key", entry.Key, "error", err)
		}
	}
}

// fullSync streams every key from src into dst, used when a Merkle tree
// could not be fetched from either side within merkleFetchTimeout.
func (s *Synchronizer) fullSync(ctx context.Context, srcID string, src replica.Client, dstID string, dst replica.Client) {
	all, err := src.GetAll(ctx)
	if err != nil {
		s.log.Warnw("full sync source unavailable", "src", srcID, "error", err)
		return
	}
	for key, v := range all {
		if _, err := dst.Put(ctx, key, v.Value, v.VC, v.Timestamp); err != nil {
			s.log.Warnw("full sync put failed", "dst", dstID, "key", key, "error", err)
		}
	}
}

func fetchMerkle(ctx context.Context, c replica.Client) (*merkle.Tree, error) {
	fctx, cancel := context.WithTimeout(ctx, merkleFetchTimeout)
	defer cancel()
	return c.GetMerkle(fctx)
}
