package gossip

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mini-dynamo/mini-dynamo/pkg/types"
)

// FailureDetector implements round step 4/5 of spec.md §4.8: mark any
// entry whose last-heard exceeds the failure threshold as failed, and
// notify onRevive for any entry that transitions failed -> alive so the
// caller can trigger hinted-handoff replay.
type FailureDetector struct {
	mu         sync.Mutex
	membership *MembershipList
	threshold  time.Duration
	onRevive   func(nodeID string)
	log        *zap.SugaredLogger

	// lastKnown holds the state each node was in as of the end of the
	// previous Tick, so a revival that happened between calls (via
	// RecordHeard/Merge, which always run before Tick in Gossiper.round)
	// is still visible as a failed->alive transition when Tick runs.
	lastKnown map[string]types.NodeState
}

// NewFailureDetector creates a detector over membership using threshold
// F as the failure cutoff. onRevive is invoked (if non-nil) for every
// node observed transitioning from failed back to alive.
func NewFailureDetector(membership *MembershipList, threshold time.Duration, onRevive func(nodeID string), log *zap.SugaredLogger) *FailureDetector {
	return &FailureDetector{
		membership: membership,
		threshold:  threshold,
		onRevive:   onRevive,
		log:        log,
		lastKnown:  membership.View(),
	}
}

// Tick runs one failure-detection pass: applies the threshold, marking
// stale entries failed, then reports any failed->alive transitions
// observed since the previous Tick (typically via gossip/heartbeats
// received between calls).
func (fd *FailureDetector) Tick() {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	before := fd.lastKnown

	justFailed := fd.membership.ApplyThreshold(fd.threshold)
	for _, id := range justFailed {
		fd.log.Warnw("node marked failed", "node_id", id, "threshold", fd.threshold)
	}

	after := fd.membership.View()
	for id, state := range after {
		if before[id] == types.NodeDead && state == types.NodeAlive {
			fd.log.Infow("node revived", "node_id", id)
			if fd.onRevive != nil {
				fd.onRevive(id)
			}
		}
	}

	fd.lastKnown = after
}

// GetNodeState returns the externally-visible state of a node.
func (fd *FailureDetector) GetNodeState(nodeID string) types.NodeState {
	view := fd.membership.View()
	state, ok := view[nodeID]
	if !ok {
		return types.NodeDead
	}
	return state
}

// FailedNodes returns every node currently considered failed.
func (fd *FailureDetector) FailedNodes() []string {
	var failed []string
	for id, state := range fd.membership.View() {
		if state == types.NodeDead {
			failed = append(failed, id)
		}
	}
	return failed
}
