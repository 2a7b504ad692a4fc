package replica

import (
	"context"
	"errors"
	"sync"

	"github.com/mini-dynamo/mini-dynamo/internal/merkle"
	"github.com/mini-dynamo/mini-dynamo/internal/versioning"
)

// ErrInjected is returned by Put when the FailInjector is configured to
// fail the call, modeling an unreachable or misbehaving replica.
var ErrInjected = errors.New("replica: injected failure")

// FailMode selects the node_fail_mode test-injection switch (spec.md §6).
type FailMode string

const (
	FailAlwaysSucceed FailMode = "always_succeed"
	FailAlwaysFail    FailMode = "always_fail"
	FailPartial       FailMode = "partial"
)

// FailInjector wraps a Client and, per the configured FailMode, fails
// Put calls before they reach the underlying replica. It is read only
// at replica-put time, matching spec.md §6's "a test-only injection
// switch read at replica-put time"; Get/GetAll/GetMerkle always pass
// through so a failing node's existing data remains observable to
// anti-entropy and to tests asserting on its prior state.
type FailInjector struct {
	mu             sync.RWMutex
	mode           FailMode
	partialTargets map[string]bool
	nodeID         string
	inner          Client
}

// NewFailInjector wraps inner for nodeID, starting in always_succeed
// mode. partialTargets names the nodes that fail their Put calls while
// in FailPartial mode.
func NewFailInjector(nodeID string, inner Client, partialTargets ...string) *FailInjector {
	targets := make(map[string]bool, len(partialTargets))
	for _, t := range partialTargets {
		targets[t] = true
	}
	return &FailInjector{
		mode:           FailAlwaysSucceed,
		partialTargets: targets,
		nodeID:         nodeID,
		inner:          inner,
	}
}

// SetMode changes the injection mode at runtime, as the test harness
// does between scenario steps (e.g. S4 "hint drains on recovery").
func (f *FailInjector) SetMode(mode FailMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = mode
}

func (f *FailInjector) shouldFail() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	switch f.mode {
	case FailAlwaysFail:
		return true
	case FailPartial:
		return f.partialTargets[f.nodeID]
	default:
		return false
	}
}

func (f *FailInjector) Get(ctx context.Context, key string) (versioning.Versioned, bool, error) {
	return f.inner.Get(ctx, key)
}

func (f *FailInjector) Put(ctx context.Context, key string, value []byte, vc versioning.VectorClock, ts int64) (bool, error) {
	if f.shouldFail() {
		return false, ErrInjected
	}
	return f.inner.Put(ctx, key, value, vc, ts)
}

func (f *FailInjector) GetAll(ctx context.Context) (map[string]versioning.Versioned, error) {
	return f.inner.GetAll(ctx)
}

func (f *FailInjector) GetMerkle(ctx context.Context) (*merkle.Tree, error) {
	return f.inner.GetMerkle(ctx)
}
