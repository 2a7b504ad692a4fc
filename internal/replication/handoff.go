// Package replication implements the Coordinator that executes quorum
// reads/writes (spec.md §4.5) and the Hinted Handoff queue that buffers
// writes a replica couldn't accept (spec.md §4.7).
package replication

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mini-dynamo/mini-dynamo/internal/replica"
	"github.com/mini-dynamo/mini-dynamo/internal/versioning"
)

// maxHintRetries is spec.md §3/§4.7's retry_count >= 5 cutoff.
const maxHintRetries = 5

// Hint is a buffered write for a replica that could not be reached at
// write time (spec.md §3). ID is a request-tracing identifier, not part
// of the dedup key.
type Hint struct {
	ID         string
	Target     string
	Key        string
	Value      []byte
	VC         versioning.VectorClock
	RetryCount int
}

// hintKey is the dedup key spec.md §9 fixes hints on: (target, key).
type hintKey struct {
	target string
	key    string
}

// HintStore is the process-wide table of pending hints (spec.md §3/§4.7).
// Insert on (target, key) is an upsert: a new hint for the same pair
// replaces the old one rather than queuing alongside it, per spec.md §9's
// "Source fixes dedup" open-question resolution.
type HintStore struct {
	mu    sync.Mutex
	hints map[hintKey]*Hint
}

// NewHintStore creates an empty hint table.
func NewHintStore() *HintStore {
	return &HintStore{hints: make(map[hintKey]*Hint)}
}

// Store upserts a hint for target/key, resetting RetryCount to 0.
func (s *HintStore) Store(target, key string, value []byte, vc versioning.VectorClock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hints[hintKey{target, key}] = &Hint{
		ID:     uuid.NewString(),
		Target: target,
		Key:    key,
		Value:  value,
		VC:     vc.Copy(),
	}
}

// Get returns the hint stored for (target, key), if any.
func (s *HintStore) Get(target, key string) (Hint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hints[hintKey{target, key}]
	if !ok {
		return Hint{}, false
	}
	return *h, true
}

// Delete removes the hint for (target, key), if present.
func (s *HintStore) Delete(target, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hints, hintKey{target, key})
}

// Count returns the total number of pending hints across all targets.
func (s *HintStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hints)
}

// Targets returns the distinct set of nodes with at least one pending hint.
func (s *HintStore) Targets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for k := range s.hints {
		if !seen[k.target] {
			seen[k.target] = true
			out = append(out, k.target)
		}
	}
	return out
}

// snapshot returns a point-in-time copy of every hint, so RetryAll can
// release the lock before making network calls (spec.md §9's "retry
// consumes a snapshot to avoid holding the lock during network calls").
func (s *HintStore) snapshot() []Hint {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Hint, 0, len(s.hints))
	for _, h := range s.hints {
		out = append(out, *h)
	}
	return out
}

func (s *HintStore) setRetryCount(target, key string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hints[hintKey{target, key}]; ok {
		h.RetryCount = n
	}
}

// HintedHandoff owns the HintStore and the retry loop that replays it
// against a ClientResolver (spec.md §4.7).
type HintedHandoff struct {
	store    *HintStore
	resolve  ClientResolver
	deadline time.Duration
	log      *zap.SugaredLogger
}

// ClientResolver looks up the replica.Client for a node id. The
// Coordinator implements this by delegating to its own node registry.
type ClientResolver interface {
	ClientFor(nodeID string) (replica.Client, bool)
}

// NewHintedHandoff creates a handoff queue over store, replaying hints
// through resolve with per-attempt deadline.
func NewHintedHandoff(store *HintStore, resolve ClientResolver, deadline time.Duration, log *zap.SugaredLogger) *HintedHandoff {
	return &HintedHandoff{store: store, resolve: resolve, deadline: deadline, log: log}
}

// Store upserts a hint (spec.md §4.7 Store).
func (h *HintedHandoff) Store(target, key string, value []byte, vc versioning.VectorClock) {
	h.store.Store(target, key, value, vc)
	h.log.Infow("hint stored", "target", target, "key", key)
}

// Count and Targets expose introspection for /admin/hints.
func (h *HintedHandoff) Count() int        { return h.store.Count() }
func (h *HintedHandoff) Targets() []string { return h.store.Targets() }

// RetryAll implements spec.md §4.7 retry_all: for every hint with
// RetryCount < 5, stamp a fresh timestamp and attempt delivery; on
// success the hint is deleted, on failure RetryCount is incremented and
// the hint re-stored, and at >= 5 it is left in place (logged) and no
// longer retried.
func (h *HintedHandoff) RetryAll(ctx context.Context) {
	for _, hint := range h.store.snapshot() {
		if hint.RetryCount >= maxHintRetries {
			continue
		}

		client, ok := h.resolve.ClientFor(hint.Target)
		if !ok {
			h.bumpOrExhaust(hint)
			continue
		}

		dctx, cancel := context.WithTimeout(ctx, h.deadline)
		ts := time.Now().UnixMilli()
		success, err := client.Put(dctx, hint.Key, hint.Value, hint.VC, ts)
		cancel()

		if err == nil && success {
			h.store.Delete(hint.Target, hint.Key)
			h.log.Infow("hint delivered", "target", hint.Target, "key", hint.Key)
			continue
		}
		h.bumpOrExhaust(hint)
	}
}

func (h *HintedHandoff) bumpOrExhaust(hint Hint) {
	hint.RetryCount++
	h.store.setRetryCount(hint.Target, hint.Key, hint.RetryCount)
	if hint.RetryCount >= maxHintRetries {
		// Left in place but skipped by future RetryAll passes until an
		// operator/topology action clears it (spec.md §4.7, §9 open
		// question 4).
		h.log.Warnw("hint retries exhausted", "target", hint.Target, "key", hint.Key, "retry_count", hint.RetryCount)
	}
}
