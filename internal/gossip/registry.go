package gossip

import (
	"context"
	"fmt"
	"sync"

	"github.com/mini-dynamo/mini-dynamo/pkg/types"
)

// LocalRegistry is the in-process Transport used by the single-process
// multi-node test/bench harness (spec.md §9 "Gossip task registry ...
// express as an explicit registry keyed on NodeId returning a
// channel/handle; avoid reflection"). Coordinator.InitializeNodes
// registers one Gossiper per node here instead of opening real sockets.
type LocalRegistry struct {
	mu        sync.RWMutex
	gossipers map[string]*Gossiper
}

// NewLocalRegistry creates an empty registry.
func NewLocalRegistry() *LocalRegistry {
	return &LocalRegistry{gossipers: make(map[string]*Gossiper)}
}

// Register adds g under its own node id and wires g to use this registry
// as its transport.
func (r *LocalRegistry) Register(g *Gossiper) {
	r.mu.Lock()
	r.gossipers[g.NodeID()] = g
	r.mu.Unlock()
	g.SetTransport(r)
}

// SendGossip implements Transport by calling directly into the target
// Gossiper's HandleGossip, skipping serialization entirely.
func (r *LocalRegistry) SendGossip(ctx context.Context, peerID string, view map[string]types.NodeInfo) (map[string]types.NodeInfo, error) {
	r.mu.RLock()
	peer, ok := r.gossipers[peerID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("gossip: unknown peer %q", peerID)
	}
	return peer.HandleGossip(ctx, view), nil
}
