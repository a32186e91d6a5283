package collab

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestMirror creates a mirror connected to a miniredis instance
func setupTestMirror(t *testing.T) (*Mirror, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	mirror := NewMirror(&redis.Options{Addr: mr.Addr()}, 0, 0)
	t.Cleanup(func() { mirror.Close() })

	return mirror, mr
}

func TestMirrorPing(t *testing.T) {
	mirror, _ := setupTestMirror(t)
	assert.NoError(t, mirror.Ping(context.Background()))
}

func TestMirrorPresenceProjection(t *testing.T) {
	mirror, mr := setupTestMirror(t)
	ctx := context.Background()

	presences := []*UserPresence{
		{UserID: "user-a", Name: "Ada", Status: StatusActive},
		{UserID: "user-b", Name: "Ben", Status: StatusIdle},
	}

	t.Run("write and read back", func(t *testing.T) {
		err := mirror.WritePresence(ctx, "doc-1", presences)
		require.NoError(t, err)

		got, err := mirror.ReadPresence(ctx, "doc-1")
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("sets presence TTL", func(t *testing.T) {
		ttl := mr.TTL(PresenceKey("doc-1"))
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, DefaultPresenceTTL)
	})

	t.Run("remove single user", func(t *testing.T) {
		err := mirror.RemovePresence(ctx, "doc-1", "user-a")
		require.NoError(t, err)

		got, err := mirror.ReadPresence(ctx, "doc-1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "user-b", got[0].UserID)
	})

	t.Run("empty write clears the key", func(t *testing.T) {
		err := mirror.WritePresence(ctx, "doc-1", nil)
		require.NoError(t, err)

		_, err = mirror.ReadPresence(ctx, "doc-1")
		assert.True(t, IsNotFound(err))
	})

	t.Run("missing document is not found", func(t *testing.T) {
		_, err := mirror.ReadPresence(ctx, "no-such-doc")
		assert.True(t, IsNotFound(err))
	})
}

func TestMirrorLockProjection(t *testing.T) {
	mirror, mr := setupTestMirror(t)
	ctx := context.Background()

	locks := []*ObjectLock{
		{ObjectID: "object-1", UserID: "user-a", LockType: LockExclusive, AcquiredAt: time.Now()},
		{ObjectID: "object-2", UserID: "user-b", LockType: LockShared, Holders: []string{"user-b"}, AcquiredAt: time.Now()},
	}

	err := mirror.WriteLocks(ctx, "doc-1", locks)
	require.NoError(t, err)

	got, err := mirror.ReadLocks(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	ttl := mr.TTL(LocksKey("doc-1"))
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, DefaultLockTTL)

	// A full rewrite replaces the previous projection rather than merging.
	err = mirror.WriteLocks(ctx, "doc-1", locks[:1])
	require.NoError(t, err)

	got, err = mirror.ReadLocks(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "object-1", got[0].ObjectID)
}

func TestMirrorEvents(t *testing.T) {
	mirror, _ := setupTestMirror(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := mirror.SubscribeEvents(ctx, "doc-1")
	require.NoError(t, err)
	defer sub.Close()

	event := &Event{
		Type:       EventLockGranted,
		DocumentID: "doc-1",
		UserID:     "user-a",
		ObjectID:   "object-1",
		Timestamp:  time.Now(),
	}
	require.NoError(t, mirror.Broadcast(ctx, event))

	select {
	case got := <-sub.Events():
		require.NotNil(t, got)
		assert.Equal(t, EventLockGranted, got.Type)
		assert.Equal(t, "user-a", got.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMirrorBroadcastNilEvent(t *testing.T) {
	mirror, _ := setupTestMirror(t)
	assert.Error(t, mirror.Broadcast(context.Background(), nil))
}
