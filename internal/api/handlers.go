package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/mini-dynamo/mini-dynamo/internal/replication"
	"github.com/mini-dynamo/mini-dynamo/internal/versioning"
	"github.com/mini-dynamo/mini-dynamo/pkg/types"
)

type putRequest struct {
	Value string `json:"value"`
}

type getResponse struct {
	Key       string            `json:"key"`
	Value     string            `json:"value"`
	VC        map[string]uint64 `json:"vc"`
	Timestamp int64             `json:"timestamp,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

type statusResponse struct {
	NodeID  string      `json:"node_id"`
	Address string      `json:"address"`
	Uptime  string      `json:"uptime"`
	Hints   int         `json:"pending_hints"`
	Cluster clusterInfo `json:"cluster"`
}

type clusterInfo struct {
	Size  int      `json:"size"`
	Nodes []string `json:"nodes"`
}

// handleHealth reports liveness without touching the replica store, so
// it stays cheap for load balancer probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"node":   s.cfg.NodeID,
	})
}

// handleGet implements the client-facing read path: spec.md §4.5.2's
// quorum fan-out through the Coordinator.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	value, vc, err := s.coordinator.Get(r.Context(), s.ring, key)
	if err != nil {
		if errors.Is(err, replication.ErrNoResponses) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, getResponse{
		Key:   key,
		Value: string(value),
		VC:    vc,
	})
}

// handlePut implements the client-facing write path: spec.md §4.5.1's
// quorum fan-out through the Coordinator. vc is always nil here so the
// Coordinator stamps a fresh per-replica vector clock (spec.md §4.1).
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10*1024*1024))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer r.Body.Close()

	var req putRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Value == "" {
		req.Value = string(body)
	}
	if req.Value == "" {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}

	if err := s.coordinator.Put(r.Context(), s.ring, key, []byte(req.Value), nil); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("X-Request-Id", uuid.NewString())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "key": key})
}

// handleStatus reports this node's identity, uptime, and cluster view.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	nodes := s.coordinator.NodeIDs()
	writeJSON(w, http.StatusOK, statusResponse{
		NodeID:  s.cfg.NodeID,
		Address: s.cfg.FullAddress(),
		Uptime:  formatUptime(s.Uptime()),
		Hints:   s.coordinator.Hints().Count(),
		Cluster: clusterInfo{Size: len(nodes), Nodes: nodes},
	})
}

// handleRing exposes the ring's token ranges and load distribution,
// grounded on spec.md §4.2's vnode model (internal/ring's [ADD] surface).
func (s *Server) handleRing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes":            s.ring.Nodes(),
		"size":             s.ring.Size(),
		"load_distribution": s.ring.LoadDistribution(),
	})
}

// handleKeys lists every key held by this node's local replica (debug
// endpoint; fine for an in-memory store sized for testing/dev clusters).
func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	client, ok := s.coordinator.ClientFor(s.cfg.NodeID)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "local replica unavailable")
		return
	}
	all, err := client.GetAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"keys": keys, "count": len(keys)})
}

// handleStats reports replica-local sizing, used alongside handleStatus
// for operator-facing node introspection.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	client, ok := s.coordinator.ClientFor(s.cfg.NodeID)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "local replica unavailable")
		return
	}
	all, err := client.GetAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key_count": len(all)})
}

// handleHints exposes the hinted-handoff queue (spec.md §4.7's [ADD]
// introspection surface) so operators can see which targets have work
// pending and how much.
func (s *Server) handleHints(w http.ResponseWriter, r *http.Request) {
	h := s.coordinator.Hints()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   h.Count(),
		"targets": h.Targets(),
	})
}

// handleReplicate is the internal replica-to-replica write path:
// the replica module's direct "write this version" contract (spec.md
// §4.4 Replica.put), invoked by a remote Coordinator or the anti-entropy
// synchronizer rather than by a client.
func (s *Server) handleReplicate(w http.ResponseWriter, r *http.Request) {
	client, ok := s.coordinator.ClientFor(s.cfg.NodeID)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "local replica unavailable")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer r.Body.Close()

	var req types.ReplicationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request format")
		return
	}

	success, err := client.Put(r.Context(), req.Key, req.Value, versioning.VectorClock(req.VC), req.Timestamp)
	if err != nil {
		writeJSON(w, http.StatusOK, types.ReplicationResponse{Success: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, types.ReplicationResponse{Success: success})
}

// handleInternalRead is the replica module's direct "read this key"
// contract (spec.md §4.4 Replica.get), used by a remote Coordinator
// fanning a read out to this node.
func (s *Server) handleInternalRead(w http.ResponseWriter, r *http.Request) {
	client, ok := s.coordinator.ClientFor(s.cfg.NodeID)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "local replica unavailable")
		return
	}

	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	v, found, err := client.Get(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, types.ReadResponse{
		Found:     found,
		Key:       key,
		Value:     v.Value,
		VC:        map[string]uint64(v.VC),
		Timestamp: v.Timestamp,
	})
}

// handleMerkle exposes this node's Merkle root for the anti-entropy
// synchronizer's fetch-and-compare step (spec.md §4.6 step 1).
func (s *Server) handleMerkle(w http.ResponseWriter, r *http.Request) {
	client, ok := s.coordinator.ClientFor(s.cfg.NodeID)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "local replica unavailable")
		return
	}
	tree, err := client.GetMerkle(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	root := tree.Root()
	minKey, maxKey, ok := tree.KeyRange()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"root":    root[:],
		"count":   tree.Count(),
		"min_key": minKey,
		"max_key": maxKey,
		"has_range": ok,
	})
}

// handleGetAll streams every versioned record this node holds, used by
// the anti-entropy synchronizer's full-sync fallback (spec.md §4.6
// "if a Merkle tree cannot be fetched within the timeout, fall back to
// transferring every key").
func (s *Server) handleGetAll(w http.ResponseWriter, r *http.Request) {
	client, ok := s.coordinator.ClientFor(s.cfg.NodeID)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "local replica unavailable")
		return
	}
	all, err := client.GetAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make(map[string]getResponse, len(all))
	for k, v := range all {
		out[k] = getResponse{Key: k, Value: string(v.Value), VC: v.VC, Timestamp: v.Timestamp}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGossip is the debug endpoint SPEC_FULL.md's domain stack adds:
// it lets an operator or test harness push a view into this node's
// gossip task over HTTP instead of the UDP transport, and returns the
// merged result in the same response.
func (s *Server) handleGossip(w http.ResponseWriter, r *http.Request) {
	g, ok := s.coordinator.GossipFor(s.cfg.NodeID)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "gossip task unavailable")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer r.Body.Close()

	var view map[string]types.NodeInfo
	if err := json.Unmarshal(body, &view); err != nil {
		writeError(w, http.StatusBadRequest, "invalid gossip payload")
		return
	}

	merged := g.HandleGossip(r.Context(), view)
	writeJSON(w, http.StatusOK, merged)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorResponse{
		Error:   http.StatusText(statusCode),
		Code:    statusCode,
		Message: message,
	})
}
