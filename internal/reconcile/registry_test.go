package reconcile

import (
	"context"
	"testing"

	"github.com/phrazzld/genjob-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_PerSessionDeltas(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryJobStore(50, testLogger())
	reg, err := NewRegistry(s, 2, testLogger())
	require.NoError(t, err)

	createJob(t, s, "alice")
	createJob(t, s, "bob")

	changes, err := reg.Changes(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "alice", changes[0].Job.Owner)

	changes, err = reg.Changes(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, changes)

	changes, err = reg.Changes(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, changes, 1)
	assert.Equal(t, 2, reg.Len())
}

func TestRegistry_EvictsLeastRecentSession(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryJobStore(50, testLogger())
	reg, err := NewRegistry(s, 1, testLogger())
	require.NoError(t, err)

	createJob(t, s, "alice")
	_, err = reg.Changes(ctx, "alice")
	require.NoError(t, err)
	_, err = reg.Changes(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())

	// alice starts over and sees the job again.
	changes, err := reg.Changes(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, changes, 1)

	reg.Forget("alice")
	assert.Zero(t, reg.Len())

	for _, session := range []string{"alice", "bob"} {
		_, err = reg.Changes(ctx, session)
		require.NoError(t, err)
	}
	require.Equal(t, 2, reg.Len())
	reg.Forget("")
	assert.Zero(t, reg.Len())
}
