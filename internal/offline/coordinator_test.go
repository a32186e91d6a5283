package offline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemcad/tandem/pkg/collab"
)

func setupTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	return NewCoordinator("doc-1", NewBuffer(64), nil, nil, nil)
}

func moveOp(objectID, userID string, position collab.Point3D, ts time.Time) *collab.Operation {
	return &collab.Operation{
		ID:        uuid.NewString(),
		Kind:      collab.OpMove,
		ObjectID:  objectID,
		UserID:    userID,
		Timestamp: ts,
		Parameters: map[string]interface{}{
			"position": position,
		},
	}
}

func deltaMoveOp(objectID, userID string, delta collab.Point3D, ts time.Time) *collab.Operation {
	return &collab.Operation{
		ID:        uuid.NewString(),
		Kind:      collab.OpMove,
		ObjectID:  objectID,
		UserID:    userID,
		Timestamp: ts,
		Parameters: map[string]interface{}{
			"delta": delta,
		},
	}
}

func deleteOp(objectID, userID string, ts time.Time) *collab.Operation {
	return &collab.Operation{
		ID:        uuid.NewString(),
		Kind:      collab.OpDelete,
		ObjectID:  objectID,
		UserID:    userID,
		Timestamp: ts,
	}
}

func TestRegisterAndConnectivity(t *testing.T) {
	c := setupTestCoordinator(t)

	t.Run("register creates an online state", func(t *testing.T) {
		state, err := c.Register("client-1")
		require.NoError(t, err)
		assert.True(t, state.Online())
		assert.Equal(t, int64(0), state.LastSyncVersion)
		assert.NotEmpty(t, state.Checksum)
	})

	t.Run("register is idempotent", func(t *testing.T) {
		first, err := c.Register("client-1")
		require.NoError(t, err)
		second, err := c.Register("client-1")
		require.NoError(t, err)
		assert.Equal(t, first.LastSyncVersion, second.LastSyncVersion)
	})

	t.Run("offline and online are mutually exclusive", func(t *testing.T) {
		require.NoError(t, c.SetOffline("client-1"))
		state, ok := c.State("client-1")
		require.True(t, ok)
		assert.NotNil(t, state.OfflineSince)
		assert.Nil(t, state.OnlineSince)

		require.NoError(t, c.SetOnline("client-1"))
		state, ok = c.State("client-1")
		require.True(t, ok)
		assert.Nil(t, state.OfflineSince)
		assert.NotNil(t, state.OnlineSince)
	})

	t.Run("unknown clients are rejected", func(t *testing.T) {
		assert.Error(t, c.SetOffline("ghost"))
		assert.Error(t, c.SetOnline("ghost"))
		_, err := c.Checksum("ghost")
		assert.Error(t, err)
	})
}

func TestBufferOffline(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("queues pending edits", func(t *testing.T) {
		c := setupTestCoordinator(t)
		_, err := c.Register("client-1")
		require.NoError(t, err)
		require.NoError(t, c.SetOffline("client-1"))

		require.NoError(t, c.BufferOffline("client-1", deltaMoveOp("obj-1", "alice", collab.Point3D{X: 1}, now)))
		state, ok := c.State("client-1")
		require.True(t, ok)
		assert.Len(t, state.PendingOperations, 1)
	})

	t.Run("no-ops are filtered before queueing", func(t *testing.T) {
		c := setupTestCoordinator(t)
		_, err := c.Register("client-1")
		require.NoError(t, err)

		noop := deltaMoveOp("obj-1", "alice", collab.Point3D{}, now)
		require.NoError(t, c.BufferOffline("client-1", noop))
		state, ok := c.State("client-1")
		require.True(t, ok)
		assert.Empty(t, state.PendingOperations)
	})

	t.Run("duplicate IDs are ignored", func(t *testing.T) {
		c := setupTestCoordinator(t)
		_, err := c.Register("client-1")
		require.NoError(t, err)

		op := deltaMoveOp("obj-1", "alice", collab.Point3D{X: 1}, now)
		require.NoError(t, c.BufferOffline("client-1", op))
		require.NoError(t, c.BufferOffline("client-1", op))
		state, ok := c.State("client-1")
		require.True(t, ok)
		assert.Len(t, state.PendingOperations, 1)
	})
}

func TestHandleReconnection(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("checksum mismatch forces a full resync", func(t *testing.T) {
		c := setupTestCoordinator(t)
		_, err := c.Register("client-1")
		require.NoError(t, err)
		require.NoError(t, c.BufferOffline("client-1", deltaMoveOp("obj-1", "alice", collab.Point3D{X: 1}, now)))

		res, err := c.HandleReconnection(ctx, "client-1", nil, "not-the-right-checksum")
		require.NoError(t, err)
		assert.True(t, res.FullResync)
		assert.Empty(t, res.Applied)

		state, ok := c.State("client-1")
		require.True(t, ok)
		assert.Empty(t, state.PendingOperations)
		assert.True(t, state.Online())
	})

	t.Run("offline edits on untouched objects apply cleanly", func(t *testing.T) {
		c := setupTestCoordinator(t)
		state, err := c.Register("client-1")
		require.NoError(t, err)

		// Another user works while client-1 is away.
		c.RecordApplied(moveOp("obj-server", "bob", collab.Point3D{X: 5}, now))

		offline := deltaMoveOp("obj-client", "alice", collab.Point3D{X: 1}, now.Add(time.Second))
		res, err := c.HandleReconnection(ctx, "client-1", []*collab.Operation{offline}, state.Checksum)
		require.NoError(t, err)

		assert.False(t, res.FullResync)
		require.Len(t, res.Applied, 1)
		assert.Empty(t, res.Rejected)
		// old(0) + fetched(1) + applied(1).
		assert.Equal(t, int64(2), res.NewVersion)
		assert.Equal(t, int64(2), res.Applied[0].Version)
	})

	t.Run("relative moves compose with server moves", func(t *testing.T) {
		c := setupTestCoordinator(t)
		state, err := c.Register("client-1")
		require.NoError(t, err)

		c.RecordApplied(deltaMoveOp("obj-1", "bob", collab.Point3D{X: 5}, now))

		offline := deltaMoveOp("obj-1", "alice", collab.Point3D{Y: 3}, now.Add(time.Second))
		res, err := c.HandleReconnection(ctx, "client-1", []*collab.Operation{offline}, state.Checksum)
		require.NoError(t, err)
		require.Len(t, res.Applied, 1)
		assert.Empty(t, res.Rejected)
	})

	t.Run("conflicting absolute moves resolve to the midpoint", func(t *testing.T) {
		c := setupTestCoordinator(t)
		state, err := c.Register("client-1")
		require.NoError(t, err)

		c.RecordApplied(moveOp("obj-1", "bob", collab.Point3D{X: 10}, now))

		offline := moveOp("obj-1", "alice", collab.Point3D{Y: 10}, now.Add(time.Second))
		res, err := c.HandleReconnection(ctx, "client-1", []*collab.Operation{offline}, state.Checksum)
		require.NoError(t, err)

		require.Len(t, res.Applied, 1)
		require.Len(t, res.Resolutions, 1)
		assert.Equal(t, collab.ResolutionSuccess, res.Resolutions[0].Outcome)

		merged, ok := collab.PointParam(res.Applied[0].Parameters, "position")
		require.True(t, ok)
		assert.InDelta(t, 5.0, merged.X, 1e-9)
		assert.InDelta(t, 5.0, merged.Y, 1e-9)
	})

	t.Run("editing a server-deleted object is rejected for review", func(t *testing.T) {
		c := setupTestCoordinator(t)
		state, err := c.Register("client-1")
		require.NoError(t, err)

		c.RecordApplied(deleteOp("obj-1", "bob", now))

		offline := moveOp("obj-1", "alice", collab.Point3D{X: 1}, now.Add(time.Second))
		res, err := c.HandleReconnection(ctx, "client-1", []*collab.Operation{offline}, state.Checksum)
		require.NoError(t, err)

		assert.Empty(t, res.Applied)
		require.Len(t, res.Rejected, 1)
		require.Len(t, res.Resolutions, 1)
		assert.Equal(t, collab.ResolutionPending, res.Resolutions[0].Outcome)
	})

	t.Run("deleting an already-deleted object vanishes quietly", func(t *testing.T) {
		c := setupTestCoordinator(t)
		state, err := c.Register("client-1")
		require.NoError(t, err)

		c.RecordApplied(deleteOp("obj-1", "bob", now))

		offline := deleteOp("obj-1", "alice", now.Add(time.Second))
		res, err := c.HandleReconnection(ctx, "client-1", []*collab.Operation{offline}, state.Checksum)
		require.NoError(t, err)

		assert.Empty(t, res.Applied)
		assert.Empty(t, res.Rejected)
		assert.Equal(t, int64(1), res.NewVersion)
	})

	t.Run("reconnect with nothing to say succeeds", func(t *testing.T) {
		c := setupTestCoordinator(t)
		state, err := c.Register("client-1")
		require.NoError(t, err)

		res, err := c.HandleReconnection(ctx, "client-1", nil, state.Checksum)
		require.NoError(t, err)
		assert.False(t, res.FullResync)
		assert.Empty(t, res.Applied)
		assert.Empty(t, res.Rejected)
	})

	t.Run("apply failure leaves the sync state untouched", func(t *testing.T) {
		applyErr := assert.AnError
		c := NewCoordinator("doc-1", NewBuffer(64), nil, ApplierFunc(func(context.Context, *collab.Operation) error {
			return applyErr
		}), nil)

		state, err := c.Register("client-1")
		require.NoError(t, err)

		offline := deltaMoveOp("obj-1", "alice", collab.Point3D{X: 1}, now)
		_, err = c.HandleReconnection(ctx, "client-1", []*collab.Operation{offline}, state.Checksum)
		require.Error(t, err)

		after, ok := c.State("client-1")
		require.True(t, ok)
		assert.Equal(t, state.LastSyncVersion, after.LastSyncVersion)
		assert.Equal(t, state.Checksum, after.Checksum)
	})
}

func TestHandlePartialSync(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	c := setupTestCoordinator(t)
	_, err := c.Register("client-1")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		c.RecordApplied(deltaMoveOp("obj-server", "bob", collab.Point3D{X: 1}, now))
	}

	t.Run("reconciles against a bounded window", func(t *testing.T) {
		offline := deltaMoveOp("obj-client", "alice", collab.Point3D{X: 1}, now.Add(time.Second))
		res, err := c.HandlePartialSync(ctx, "client-1", []*collab.Operation{offline}, 0, 2)
		require.NoError(t, err)
		require.Len(t, res.Applied, 1)
		// old(0) + window(2) + applied(1).
		assert.Equal(t, int64(3), res.NewVersion)
	})

	t.Run("inverted windows are rejected", func(t *testing.T) {
		_, err := c.HandlePartialSync(ctx, "client-1", nil, 5, 2)
		assert.Error(t, err)
	})
}

func TestChecksum(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("identical histories produce identical digests", func(t *testing.T) {
		c1 := setupTestCoordinator(t)
		c2 := setupTestCoordinator(t)
		_, err := c1.Register("client-1")
		require.NoError(t, err)
		_, err = c2.Register("client-1")
		require.NoError(t, err)

		for _, c := range []*Coordinator{c1, c2} {
			c.RecordApplied(&collab.Operation{
				ID: uuid.NewString(), Kind: collab.OpMove, ObjectID: "obj-1", UserID: "alice",
				Timestamp: now, Parameters: map[string]interface{}{"delta": collab.Point3D{X: 1}},
			})
			c.RecordApplied(&collab.Operation{
				ID: uuid.NewString(), Kind: collab.OpMove, ObjectID: "obj-2", UserID: "bob",
				Timestamp: now, Parameters: map[string]interface{}{"delta": collab.Point3D{X: 1}},
			})
		}

		sum1, err := c1.Checksum("client-1")
		require.NoError(t, err)
		sum2, err := c2.Checksum("client-1")
		require.NoError(t, err)
		assert.Equal(t, sum1, sum2)
	})

	t.Run("digest changes when history advances", func(t *testing.T) {
		c := setupTestCoordinator(t)
		_, err := c.Register("client-1")
		require.NoError(t, err)

		before, err := c.Checksum("client-1")
		require.NoError(t, err)

		c.RecordApplied(deltaMoveOp("obj-1", "alice", collab.Point3D{X: 1}, now))
		after, err := c.Checksum("client-1")
		require.NoError(t, err)
		assert.NotEqual(t, before, after)
	})
}
