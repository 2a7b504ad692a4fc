package gossip

import (
	"sync"
	"time"

	"github.com/mini-dynamo/mini-dynamo/pkg/types"
)

// MemberInfo is one node's entry in a MembershipList.
type MemberInfo struct {
	Node       *types.Node
	LastHeard  time.Time
	Incarnation uint64
}

// MembershipList is the per-node gossip task's owned view of the
// cluster (spec.md §4.8). It is owned by its own task; external access
// goes through View/Merge, matching §5's "Gossip view is owned by its
// own task" resource rule.
type MembershipList struct {
	mu      sync.RWMutex
	members map[string]*MemberInfo
	selfID  string
}

// NewMembershipList creates a view seeded with selfID alive.
func NewMembershipList(selfID string) *MembershipList {
	ml := &MembershipList{
		members: make(map[string]*MemberInfo),
		selfID:  selfID,
	}
	ml.members[selfID] = &MemberInfo{
		Node:      &types.Node{ID: selfID, State: types.NodeAlive},
		LastHeard: time.Now(),
	}
	return ml
}

// SeedAllAlive adds every node in nodeIDs (other than self) to the view
// as alive, used by Coordinator.InitializeNodes to start a gossip task
// with a fully-populated starting view (spec.md §6).
func (ml *MembershipList) SeedAllAlive(nodes []*types.Node) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := time.Now()
	for _, n := range nodes {
		if n.ID == ml.selfID {
			continue
		}
		ml.members[n.ID] = &MemberInfo{
			Node:      &types.Node{ID: n.ID, Address: n.Address, Port: n.Port, State: types.NodeAlive, LastSeen: now},
			LastHeard: now,
		}
	}
}

// RefreshSelf updates this node's own record to (alive, now) — round
// step 1 of spec.md §4.8.
func (ml *MembershipList) RefreshSelf() {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	self := ml.members[ml.selfID]
	self.Node.State = types.NodeAlive
	self.LastHeard = time.Now()
}

// MarkSuspect flags a peer as transport-suspect without changing its
// externally-visible state; it is never surfaced by View. Nothing in
// this module calls it: the UDP transport does not mark peers suspect.
func (ml *MembershipList) MarkSuspect(nodeID string) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if m, ok := ml.members[nodeID]; ok && m.Node.State == types.NodeAlive {
		m.Node.State = types.NodeSuspect
	}
}

// RecordHeard updates nodeID's last-heard time and clears any suspect
// flag, adding a new alive entry if nodeID was previously unknown.
func (ml *MembershipList) RecordHeard(nodeID string) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := time.Now()
	if m, ok := ml.members[nodeID]; ok {
		m.LastHeard = now
		m.Node.State = types.NodeAlive
		return
	}
	ml.members[nodeID] = &MemberInfo{
		Node:      &types.Node{ID: nodeID, State: types.NodeAlive, LastSeen: now},
		LastHeard: now,
	}
}

// ApplyThreshold marks every non-self entry whose LastHeard is older
// than threshold as failed, returning the node ids that transitioned
// failed -> alive is handled separately by RecordHeard; this only ever
// moves entries toward failed. It returns the ids that just became
// failed this call, for logging.
func (ml *MembershipList) ApplyThreshold(threshold time.Duration) []string {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := time.Now()
	var justFailed []string
	for id, m := range ml.members {
		if id == ml.selfID {
			continue
		}
		if m.Node.State != types.NodeDead && now.Sub(m.LastHeard) > threshold {
			m.Node.State = types.NodeDead
			justFailed = append(justFailed, id)
		}
	}
	return justFailed
}

// View returns the externally-visible Membership View: every known
// node mapped to alive or failed only. NodeSuspect entries report as
// alive, since the Membership View contract (spec.md §3) recognizes no
// third state.
func (ml *MembershipList) View() map[string]types.NodeState {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	out := make(map[string]types.NodeState, len(ml.members))
	for id, m := range ml.members {
		if m.Node.State == types.NodeDead {
			out[id] = types.NodeDead
		} else {
			out[id] = types.NodeAlive
		}
	}
	return out
}

// IsAlive reports whether nodeID is currently considered alive.
func (ml *MembershipList) IsAlive(nodeID string) bool {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	m, ok := ml.members[nodeID]
	return ok && m.Node.State != types.NodeDead
}

// PeerIDs returns every known node id other than self.
func (ml *MembershipList) PeerIDs() []string {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	ids := make([]string, 0, len(ml.members))
	for id := range ml.members {
		if id != ml.selfID {
			ids = append(ids, id)
		}
	}
	return ids
}

// Merge applies an inbound gossip view: per node, keep the record with
// the larger last-heard time (spec.md §4.8 step 3). Merge is
// commutative, associative, and idempotent, so reordering and
// duplication of gossip messages converge.
func (ml *MembershipList) Merge(other map[string]types.NodeInfo) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	for nodeID, info := range other {
		if nodeID == ml.selfID {
			continue
		}

		existing, exists := ml.members[nodeID]
		if !exists {
			state := types.NodeAlive
			if info.State == types.NodeDead.String() {
				state = types.NodeDead
			}
			ml.members[nodeID] = &MemberInfo{
				Node:      &types.Node{ID: nodeID, Address: info.Address, State: state, LastSeen: info.LastSeen},
				LastHeard: info.LastSeen,
			}
			continue
		}

		if info.LastSeen.After(existing.LastHeard) {
			existing.LastHeard = info.LastSeen
			existing.Node.Address = info.Address
			if info.State == types.NodeDead.String() {
				existing.Node.State = types.NodeDead
			} else {
				existing.Node.State = types.NodeAlive
			}
		}
	}
}

// ToGossipFormat renders the current view as the wire format gossiped
// to peers.
func (ml *MembershipList) ToGossipFormat() map[string]types.NodeInfo {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	out := make(map[string]types.NodeInfo, len(ml.members))
	for nodeID, m := range ml.members {
		out[nodeID] = types.NodeInfo{
			ID:       nodeID,
			Address:  m.Node.Address,
			State:    m.Node.State.String(),
			LastSeen: m.LastHeard,
		}
	}
	return out
}

// Size returns the number of known members, including self.
func (ml *MembershipList) Size() int {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	return len(ml.members)
}
