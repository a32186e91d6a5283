package printer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemcad/tandem/pkg/collab"
)

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title when including suggestions", func(t *testing.T) {
		err := Error("Test Error", "Explanation", []string{"Try this fix"})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title for multiple suggestions", func(t *testing.T) {
		err := Error("Test Error", "Explanation", []string{
			"First option",
			"Second option",
		})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})
}

func TestFormatEvent(t *testing.T) {
	t.Run("includes user, object and known payload keys", func(t *testing.T) {
		line := FormatEvent(&collab.Event{
			Type:     collab.EventLockGranted,
			UserID:   "alice",
			ObjectID: "obj-1",
			Payload:  map[string]interface{}{"lock_type": "exclusive"},
		})
		assert.Contains(t, line, "lock_granted")
		assert.Contains(t, line, "user=alice")
		assert.Contains(t, line, "object=obj-1")
		assert.Contains(t, line, "lock_type=exclusive")
	})

	t.Run("omits empty fields", func(t *testing.T) {
		line := FormatEvent(&collab.Event{Type: collab.EventUserJoined, UserID: "alice"})
		assert.NotContains(t, line, "object=")
	})
}

func TestPresenceLine(t *testing.T) {
	p := &collab.UserPresence{
		UserID:          "alice",
		Status:          collab.StatusActive,
		Color:           "#e6194b",
		CursorPosition:  &collab.Point3D{X: 1.5, Y: 2, Z: 0},
		SelectedObjects: []string{"obj-1", "obj-2"},
	}
	line := PresenceLine(p)
	assert.Contains(t, line, "alice")
	assert.Contains(t, line, "active")
	assert.Contains(t, line, "#e6194b")
	assert.Contains(t, line, "cursor=(1.5, 2.0, 0.0)")
	assert.Contains(t, line, "selected=obj-1,obj-2")
}

func TestLockLine(t *testing.T) {
	expires := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	l := &collab.ObjectLock{
		ObjectID:  "obj-1",
		UserID:    "alice",
		LockType:  collab.LockShared,
		Holders:   []string{"alice", "bob"},
		ExpiresAt: &expires,
	}
	line := LockLine(l)
	assert.Contains(t, line, "obj-1")
	assert.Contains(t, line, "shared")
	assert.Contains(t, line, "held_by=alice,bob")
	assert.Contains(t, line, "expires=12:30:00")
}
