package replica

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mini-dynamo/mini-dynamo/internal/versioning"
)

func TestFailInjectorAlwaysSucceed(t *testing.T) {
	s := NewStore("node1")
	defer s.Close()
	fi := NewFailInjector("node1", NewLocalClient(s))

	ok, err := fi.Put(context.Background(), "k", []byte("v"), versioning.VectorClock{"node1": 1}, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFailInjectorAlwaysFail(t *testing.T) {
	s := NewStore("node1")
	defer s.Close()
	fi := NewFailInjector("node1", NewLocalClient(s))
	fi.SetMode(FailAlwaysFail)

	_, err := fi.Put(context.Background(), "k", []byte("v"), versioning.VectorClock{"node1": 1}, 1)
	assert.ErrorIs(t, err, ErrInjected)
}

func TestFailInjectorPartialFailsOnlyTargets(t *testing.T) {
	healthy := NewStore("node3")
	defer healthy.Close()
	failing := NewStore("node1")
	defer failing.Close()

	fiHealthy := NewFailInjector("node3", NewLocalClient(healthy), "node1", "node2")
	fiFailing := NewFailInjector("node1", NewLocalClient(failing), "node1", "node2")
	fiHealthy.SetMode(FailPartial)
	fiFailing.SetMode(FailPartial)

	ok, err := fiHealthy.Put(context.Background(), "k", []byte("v"), versioning.VectorClock{"node3": 1}, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = fiFailing.Put(context.Background(), "k", []byte("v"), versioning.VectorClock{"node1": 1}, 1)
	assert.ErrorIs(t, err, ErrInjected)
}

func TestFailInjectorPassesThroughReads(t *testing.T) {
	s := NewStore("node1")
	defer s.Close()
	fi := NewFailInjector("node1", NewLocalClient(s))
	fi.SetMode(FailAlwaysFail)

	ctx := context.Background()
	_, err := fi.GetAll(ctx)
	assert.NoError(t, err)
	_, err = fi.GetMerkle(ctx)
	assert.NoError(t, err)
	_, _, err = fi.Get(ctx, "k")
	assert.NoError(t, err)
}
