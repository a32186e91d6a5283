package offline

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemcad/tandem/pkg/collab"
)

func modifyOp(objectID, userID string, params map[string]interface{}, ts time.Time) *collab.Operation {
	return &collab.Operation{
		ID:         uuid.NewString(),
		Kind:       collab.OpModify,
		ObjectID:   objectID,
		UserID:     userID,
		Timestamp:  ts,
		Parameters: params,
	}
}

func TestCompact(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("a run of modifies folds into one", func(t *testing.T) {
		op1 := modifyOp("obj-1", "alice", map[string]interface{}{"width": 1.0, "height": 2.0}, now)
		op2 := modifyOp("obj-1", "alice", map[string]interface{}{"width": 3.0}, now.Add(time.Second))
		op3 := modifyOp("obj-1", "alice", map[string]interface{}{"depth": 4.0}, now.Add(2*time.Second))

		compacted, notes := Compact([]*collab.Operation{op1, op2, op3})
		assert.Empty(t, notes)
		require.Len(t, compacted, 1)

		merged := compacted[0]
		// The latest op's identity survives, with the union of parameters
		// and the later value on the contested key.
		assert.Equal(t, op3.ID, merged.ID)
		assert.Equal(t, 3.0, merged.Parameters["width"])
		assert.Equal(t, 2.0, merged.Parameters["height"])
		assert.Equal(t, 4.0, merged.Parameters["depth"])
	})

	t.Run("mixed kinds fold only within same-kind runs", func(t *testing.T) {
		move1 := deltaMoveOp("obj-1", "alice", collab.Point3D{X: 1}, now)
		move2 := deltaMoveOp("obj-1", "alice", collab.Point3D{X: 2}, now.Add(time.Second))
		mod := modifyOp("obj-1", "alice", map[string]interface{}{"width": 1.0}, now.Add(2*time.Second))

		compacted, notes := Compact([]*collab.Operation{move1, move2, mod})
		assert.Empty(t, notes)
		require.Len(t, compacted, 2)
		assert.Equal(t, collab.OpMove, compacted[0].Kind)
		assert.Equal(t, collab.OpModify, compacted[1].Kind)
	})

	t.Run("multi-user groups are left alone with a note", func(t *testing.T) {
		op1 := modifyOp("obj-1", "alice", map[string]interface{}{"width": 1.0}, now)
		op2 := modifyOp("obj-1", "bob", map[string]interface{}{"width": 2.0}, now.Add(time.Second))

		compacted, notes := Compact([]*collab.Operation{op1, op2})
		require.Len(t, compacted, 2)
		require.Len(t, notes, 1)
		assert.Contains(t, notes[0], "obj-1")
	})

	t.Run("DELETE mixed with edits is left alone with a note", func(t *testing.T) {
		op1 := modifyOp("obj-1", "alice", map[string]interface{}{"width": 1.0}, now)
		op2 := deleteOp("obj-1", "alice", now.Add(time.Second))

		compacted, notes := Compact([]*collab.Operation{op1, op2})
		require.Len(t, compacted, 2)
		require.Len(t, notes, 1)
		assert.Contains(t, notes[0], "DELETE")
	})

	t.Run("separate objects compact independently", func(t *testing.T) {
		a1 := modifyOp("obj-a", "alice", map[string]interface{}{"width": 1.0}, now)
		b1 := modifyOp("obj-b", "alice", map[string]interface{}{"width": 1.0}, now.Add(time.Second))
		a2 := modifyOp("obj-a", "alice", map[string]interface{}{"width": 2.0}, now.Add(2*time.Second))

		compacted, notes := Compact([]*collab.Operation{a1, b1, a2})
		assert.Empty(t, notes)
		require.Len(t, compacted, 2)
		assert.Equal(t, "obj-a", compacted[0].ObjectID)
		assert.Equal(t, 2.0, compacted[0].Parameters["width"])
		assert.Equal(t, "obj-b", compacted[1].ObjectID)
	})

	t.Run("single operations pass through untouched", func(t *testing.T) {
		op := modifyOp("obj-1", "alice", map[string]interface{}{"width": 1.0}, now)
		compacted, notes := Compact([]*collab.Operation{op})
		assert.Empty(t, notes)
		require.Len(t, compacted, 1)
		assert.Same(t, op, compacted[0])
	})
}
