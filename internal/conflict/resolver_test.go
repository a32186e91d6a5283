package conflict

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandemcad/tandem/pkg/collab"
)

func conflictBetween(op1, op2 *collab.Operation, t collab.ConflictType) *collab.Conflict {
	return &collab.Conflict{
		ID:              uuid.New().String(),
		Type:            t,
		Op1:             op1,
		Op2:             op2,
		DetectedAt:      time.Now(),
		AffectedObjects: []string{op1.ObjectID},
		Severity:        collab.SeverityMedium,
	}
}

func TestResolveTimestamp(t *testing.T) {
	r := NewResolver()

	t.Run("later timestamp wins", func(t *testing.T) {
		early := op(collab.OpModify, "object-1", "user-a", map[string]interface{}{"material": "steel"})
		late := op(collab.OpModify, "object-1", "user-b", map[string]interface{}{"material": "brass"})
		late.Timestamp = early.Timestamp.Add(time.Second)

		res, err := r.Resolve(conflictBetween(early, late, collab.ConflictProperty), collab.StrategyTimestamp, nil)
		require.NoError(t, err)
		assert.Equal(t, collab.ResolutionSuccess, res.Outcome)
		assert.Equal(t, late.ID, res.ResolvedOperation.ID)

		// The winning operation's timestamp is >= the loser's.
		assert.False(t, res.ResolvedOperation.Timestamp.Before(early.Timestamp))
	})

	t.Run("exact tie breaks by greater operation ID", func(t *testing.T) {
		ts := time.Now()
		op1 := op(collab.OpModify, "object-1", "user-a", map[string]interface{}{"material": "steel"})
		op2 := op(collab.OpModify, "object-1", "user-b", map[string]interface{}{"material": "brass"})
		op1.Timestamp = ts
		op2.Timestamp = ts

		expected := op1
		if op2.ID > op1.ID {
			expected = op2
		}

		res, err := r.Resolve(conflictBetween(op1, op2, collab.ConflictProperty), collab.StrategyTimestamp, nil)
		require.NoError(t, err)
		assert.Equal(t, expected.ID, res.ResolvedOperation.ID)
	})
}

func TestResolvePriority(t *testing.T) {
	r := NewResolver()

	op1 := op(collab.OpModify, "object-1", "user-a", map[string]interface{}{"material": "steel"})
	op2 := op(collab.OpModify, "object-1", "user-b", map[string]interface{}{"material": "brass"})

	t.Run("higher context priority wins", func(t *testing.T) {
		ctx := &Context{Priorities: map[string]int{"user-a": 10, "user-b": 1}}
		res, err := r.Resolve(conflictBetween(op1, op2, collab.ConflictProperty), collab.StrategyPriority, ctx)
		require.NoError(t, err)
		assert.Equal(t, op1.ID, res.ResolvedOperation.ID)
	})

	t.Run("registered priority used when context is empty", func(t *testing.T) {
		r.SetUserPriority("user-b", 5)
		res, err := r.Resolve(conflictBetween(op1, op2, collab.ConflictProperty), collab.StrategyPriority, nil)
		require.NoError(t, err)
		assert.Equal(t, op2.ID, res.ResolvedOperation.ID)
	})

	t.Run("equal priority falls back to timestamp", func(t *testing.T) {
		r2 := NewResolver()
		later := op2.Clone()
		later.Timestamp = op1.Timestamp.Add(time.Second)

		res, err := r2.Resolve(conflictBetween(op1, later, collab.ConflictProperty), collab.StrategyPriority, nil)
		require.NoError(t, err)
		assert.Equal(t, later.ID, res.ResolvedOperation.ID)
		assert.Equal(t, string(collab.StrategyTimestamp), res.Metadata["fallback"])
	})
}

func TestResolveManual(t *testing.T) {
	r := NewResolver()

	op1 := op(collab.OpModify, "object-1", "user-a", map[string]interface{}{"material": "steel"})
	op2 := op(collab.OpModify, "object-1", "user-b", map[string]interface{}{"material": "brass"})
	c := conflictBetween(op1, op2, collab.ConflictProperty)

	res, err := r.Resolve(c, collab.StrategyManual, nil)
	require.NoError(t, err)
	assert.Equal(t, collab.ResolutionPending, res.Outcome)

	queue := r.ManualQueue()
	require.Len(t, queue, 1)
	assert.Equal(t, c.ID, queue[0].ID)

	t.Run("manual completion resolves the conflict", func(t *testing.T) {
		final := op(collab.OpModify, "object-1", "user-c", map[string]interface{}{"material": "titanium"})
		done, err := r.ResolveManually(c.ID, final, "user-c")
		require.NoError(t, err)
		assert.Equal(t, collab.ResolutionSuccess, done.Outcome)
		assert.Equal(t, "user-c", done.ResolvedBy)
		assert.Empty(t, r.ManualQueue())
	})

	t.Run("unknown conflict is rejected", func(t *testing.T) {
		final := op(collab.OpModify, "object-1", "user-c", nil)
		_, err := r.ResolveManually(uuid.New().String(), final, "user-c")
		assert.ErrorIs(t, err, ErrConflictNotQueued)
	})

	t.Run("completed conflicts leave no queue residue", func(t *testing.T) {
		r2 := NewResolver()
		final := op(collab.OpModify, "object-1", "user-c", map[string]interface{}{"material": "titanium"})

		for i := 0; i < 10; i++ {
			a := op(collab.OpModify, "object-1", "user-a", map[string]interface{}{"material": "steel"})
			b := op(collab.OpModify, "object-1", "user-b", map[string]interface{}{"material": "brass"})
			queued := conflictBetween(a, b, collab.ConflictProperty)
			_, err := r2.Resolve(queued, collab.StrategyManual, nil)
			require.NoError(t, err)
			_, err = r2.ResolveManually(queued.ID, final, "user-c")
			require.NoError(t, err)
		}

		assert.Empty(t, r2.ManualQueue())
		assert.Empty(t, r2.manualOrder)
	})
}

func TestResolveVoting(t *testing.T) {
	r := NewResolver()

	op1 := op(collab.OpModify, "object-1", "user-a", map[string]interface{}{"material": "steel"})
	op2 := op(collab.OpModify, "object-1", "user-b", map[string]interface{}{"material": "brass"})

	t.Run("majority wins", func(t *testing.T) {
		ctx := &Context{Votes: map[string]int{op1.ID: 3, op2.ID: 1}}
		res, err := r.Resolve(conflictBetween(op1, op2, collab.ConflictProperty), collab.StrategyVoting, ctx)
		require.NoError(t, err)
		assert.Equal(t, op1.ID, res.ResolvedOperation.ID)
	})

	t.Run("tie falls back to timestamp", func(t *testing.T) {
		later := op2.Clone()
		later.Timestamp = op1.Timestamp.Add(time.Second)
		ctx := &Context{Votes: map[string]int{op1.ID: 2, later.ID: 2}}

		res, err := r.Resolve(conflictBetween(op1, later, collab.ConflictProperty), collab.StrategyVoting, ctx)
		require.NoError(t, err)
		assert.Equal(t, later.ID, res.ResolvedOperation.ID)
	})

	t.Run("no votes falls back to manual", func(t *testing.T) {
		res, err := r.Resolve(conflictBetween(op1, op2, collab.ConflictProperty), collab.StrategyVoting, nil)
		require.NoError(t, err)
		assert.Equal(t, collab.ResolutionPending, res.Outcome)
	})
}

func TestResolveExpert(t *testing.T) {
	r := NewResolver()

	op1 := op(collab.OpModify, "object-1", "user-a", map[string]interface{}{"material": "steel"})
	op2 := op(collab.OpModify, "object-1", "user-b", map[string]interface{}{"material": "brass"})

	t.Run("explicit choice resolves immediately", func(t *testing.T) {
		ctx := &Context{Expert: &ExpertDecision{Choice: ExpertKeepOp2, DecidedBy: "lead-engineer"}}
		res, err := r.Resolve(conflictBetween(op1, op2, collab.ConflictProperty), collab.StrategyExpert, ctx)
		require.NoError(t, err)
		assert.Equal(t, op2.ID, res.ResolvedOperation.ID)
		assert.Equal(t, "lead-engineer", res.ResolvedBy)
	})

	t.Run("custom operation", func(t *testing.T) {
		custom := op(collab.OpModify, "object-1", "lead-engineer", map[string]interface{}{"material": "titanium"})
		ctx := &Context{Expert: &ExpertDecision{Choice: ExpertKeepOther, Custom: custom, DecidedBy: "lead-engineer"}}

		res, err := r.Resolve(conflictBetween(op1, op2, collab.ConflictProperty), collab.StrategyExpert, ctx)
		require.NoError(t, err)
		assert.Equal(t, custom.ID, res.ResolvedOperation.ID)
	})

	t.Run("absent decision falls back to manual", func(t *testing.T) {
		res, err := r.Resolve(conflictBetween(op1, op2, collab.ConflictProperty), collab.StrategyExpert, nil)
		require.NoError(t, err)
		assert.Equal(t, collab.ResolutionPending, res.Outcome)
	})
}

func TestResolveFailureSemantics(t *testing.T) {
	r := NewResolver()

	t.Run("missing operand fails fast", func(t *testing.T) {
		op1 := op(collab.OpModify, "object-1", "user-a", map[string]interface{}{"material": "steel"})
		c := conflictBetween(op1, op1, collab.ConflictProperty)
		c.Op2 = nil

		_, err := r.Resolve(c, collab.StrategyTimestamp, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing operation")
	})

	t.Run("unknown strategy is rejected", func(t *testing.T) {
		op1 := op(collab.OpModify, "object-1", "user-a", map[string]interface{}{"material": "steel"})
		op2 := op(collab.OpModify, "object-1", "user-b", map[string]interface{}{"material": "brass"})

		_, err := r.Resolve(conflictBetween(op1, op2, collab.ConflictProperty), collab.Strategy("coin-flip"), nil)
		assert.Error(t, err)
	})
}

func TestResolutionHistoryIsAppendOnly(t *testing.T) {
	r := NewResolver()

	op1 := op(collab.OpModify, "object-1", "user-a", map[string]interface{}{"material": "steel"})
	op2 := op(collab.OpModify, "object-1", "user-b", map[string]interface{}{"material": "brass"})

	_, err := r.Resolve(conflictBetween(op1, op2, collab.ConflictProperty), collab.StrategyTimestamp, nil)
	require.NoError(t, err)
	_, err = r.Resolve(conflictBetween(op1, op2, collab.ConflictProperty), collab.StrategyManual, nil)
	require.NoError(t, err)

	history := r.History()
	require.Len(t, history, 2)
	assert.Equal(t, collab.ResolutionSuccess, history[0].Outcome)
	assert.Equal(t, collab.ResolutionPending, history[1].Outcome)

	// The returned slice is a copy; mutating it must not corrupt the record.
	history[0] = nil
	assert.NotNil(t, r.History()[0])
}
