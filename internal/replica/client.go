package replica

import (
	"context"

	"github.com/mini-dynamo/mini-dynamo/internal/merkle"
	"github.com/mini-dynamo/mini-dynamo/internal/versioning"
)

// Client is the capability interface the Coordinator and anti-entropy
// synchronizer use to reach a replica (spec.md §9 "dynamic dispatch to
// replica module"). In this in-process build a Client is backed
// directly by a *Store; a networked deployment would instead implement
// Client over the external transport's wire calls — that boundary is an
// external collaborator this module only specifies the contract for.
type Client interface {
	Get(ctx context.Context, key string) (versioning.Versioned, bool, error)
	Put(ctx context.Context, key string, value []byte, vc versioning.VectorClock, ts int64) (bool, error)
	GetAll(ctx context.Context) (map[string]versioning.Versioned, error)
	GetMerkle(ctx context.Context) (*merkle.Tree, error)
}

// LocalClient adapts a *Store to the Client interface. It is the
// identity adapter used when Coordinator and Store run in the same
// process, as they do in this build and in the test harness.
type LocalClient struct {
	store *Store
}

// NewLocalClient wraps store as a Client.
func NewLocalClient(store *Store) *LocalClient {
	return &LocalClient{store: store}
}

func (c *LocalClient) Get(ctx context.Context, key string) (versioning.Versioned, bool, error) {
	return c.store.Get(ctx, key)
}

func (c *LocalClient) Put(ctx context.Context, key string, value []byte, vc versioning.VectorClock, ts int64) (bool, error) {
	return c.store.Put(ctx, key, value, vc, ts)
}

func (c *LocalClient) GetAll(ctx context.Context) (map[string]versioning.Versioned, error) {
	return c.store.GetAll(ctx)
}

func (c *LocalClient) GetMerkle(ctx context.Context) (*merkle.Tree, error) {
	return c.store.GetMerkle(ctx)
}
