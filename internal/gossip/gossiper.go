package gossip

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mini-dynamo/mini-dynamo/pkg/types"
)

// Transport delivers a gossip exchange to a peer (spec.md §9 "dynamic
// dispatch to replica module", applied here to gossip peers: an explicit
// capability interface rather than reflection-based task lookup). The
// in-process test/bench harness uses LocalRegistry; a real multi-process
// deployment uses UDPTransport.
type Transport interface {
	SendGossip(ctx context.Context, peerID string, view map[string]types.NodeInfo) (map[string]types.NodeInfo, error)
}

type gossipRequest struct {
	view  map[string]types.NodeInfo
	reply chan map[string]types.NodeInfo
}

// Gossiper drives one node's round of spec.md §4.8: refresh self, gossip
// to a random peer, accept inbound exchanges for up to acceptWindow,
// apply the failure threshold, replay hints on any failed->alive
// transition, then sleep interval.
type Gossiper struct {
	selfID       string
	membership   *MembershipList
	detector     *FailureDetector
	transport    Transport
	interval     time.Duration // G
	acceptWindow time.Duration // spec.md's fixed 100ms
	inbox        chan gossipRequest
	stopCh       chan struct{}
	wg           sync.WaitGroup
	log          *zap.SugaredLogger
}

// NewGossiper creates a Gossiper seeded with only itself alive. onRevive
// is invoked once per failed->alive transition observed during a round
// (spec.md §4.8 step 5); callers wire this to HintedHandoff.RetryAll.
func NewGossiper(selfID string, failureThreshold, interval time.Duration, onRevive func(nodeID string), log *zap.SugaredLogger) *Gossiper {
	membership := NewMembershipList(selfID)
	detector := NewFailureDetector(membership, failureThreshold, onRevive, log)
	return &Gossiper{
		selfID:       selfID,
		membership:   membership,
		detector:     detector,
		interval:     interval,
		acceptWindow: 100 * time.Millisecond,
		inbox:        make(chan gossipRequest),
		stopCh:       make(chan struct{}),
		log:          log,
	}
}

// SetTransport wires the transport used to reach peers. Must be called
// before Start.
func (g *Gossiper) SetTransport(t Transport) { g.transport = t }

// Membership exposes the underlying view for seeding and introspection.
func (g *Gossiper) Membership() *MembershipList { return g.membership }

// View returns the externally-visible Membership View (spec.md §3).
func (g *Gossiper) View() map[string]types.NodeState { return g.membership.View() }

// NodeID returns this gossip task's own node id.
func (g *Gossiper) NodeID() string { return g.selfID }

// Start begins the round loop in its own goroutine.
func (g *Gossiper) Start() {
	g.wg.Add(1)
	go g.run()
}

// Stop halts the round loop and waits for it to exit.
func (g *Gossiper) Stop() {
	close(g.stopCh)
	g.wg.Wait()
}

func (g *Gossiper) run() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.round()
		}
	}
}

// round executes one pass of spec.md §4.8 steps 1-5. Step 6 (sleep G) is
// the caller's ticker.
func (g *Gossiper) round() {
	g.membership.RefreshSelf()

	if peer := g.pickRandomPeer(); peer != "" && g.transport != nil {
		ctx, cancel := context.WithTimeout(context.Background(), g.acceptWindow)
		inbound, err := g.transport.SendGossip(ctx, peer, g.membership.ToGossipFormat())
		cancel()
		if err == nil {
			g.membership.Merge(inbound)
			g.membership.RecordHeard(peer)
		}
	}

	deadline := time.After(g.acceptWindow)
acceptLoop:
	for {
		select {
		case req := <-g.inbox:
			g.membership.Merge(req.view)
			req.reply <- g.membership.ToGossipFormat()
		case <-deadline:
			break acceptLoop
		}
	}

	g.detector.Tick()
}

// HandleGossip implements the inbound side of a gossip exchange: merge
// the peer's view and reply with this node's current view. If the round
// loop isn't in its accept window right now, the merge still happens —
// gossip messages are best-effort and Merge is idempotent (spec.md §4.8
// "Ordering and delivery") — just without the synchronized reply path.
func (g *Gossiper) HandleGossip(ctx context.Context, view map[string]types.NodeInfo) map[string]types.NodeInfo {
	reply := make(chan map[string]types.NodeInfo, 1)
	select {
	case g.inbox <- gossipRequest{view: view, reply: reply}:
		select {
		case r := <-reply:
			return r
		case <-ctx.Done():
			return g.membership.ToGossipFormat()
		}
	default:
		g.membership.Merge(view)
		return g.membership.ToGossipFormat()
	}
}

// SeedAllAlive pre-populates the view for InitializeNodes-style
// in-process cluster bootstrap (spec.md §6).
func (g *Gossiper) SeedAllAlive(nodes []*types.Node) {
	g.membership.SeedAllAlive(nodes)
}

func (g *Gossiper) pickRandomPeer() string {
	peers := g.membership.PeerIDs()
	if len(peers) == 0 {
		return ""
	}
	return peers[rand.Intn(len(peers))]
}
