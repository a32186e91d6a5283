// Package transform implements the best-effort operational-transform engine.
// Given two operations generated concurrently against the same base version,
// it produces a version of the first that is safe to apply after the second
// has already been applied. This is a per-pair heuristic rebase, not a
// provably convergent OT system: when no reasonable transform exists the
// engine reports failure so the caller can escalate to conflict resolution.
package transform

import (
	"github.com/tandemcad/tandem/pkg/collab"
)

// Engine rebases operations pairwise. The engine is stateless and safe for
// concurrent use.
type Engine struct{}

// New returns a transform engine.
func New() *Engine {
	return &Engine{}
}

// Transform produces a version of opA that can be applied after opB.
//
// Returns (opA', true) when the pair composes cleanly, (nil, true) when opB
// made opA redundant (both deleted the same object), and (nil, false) when no
// reasonable transform exists and the pair must go through conflict
// resolution. Inputs are never mutated; a successful transform returns a
// fresh copy carrying the original ID.
func (e *Engine) Transform(opA, opB *collab.Operation) (*collab.Operation, bool) {
	if opA == nil || opB == nil {
		return nil, false
	}

	// A no-op rebases over anything.
	if opA.IsNoOp() {
		return opA.Clone(), true
	}

	// Constraint operations can collide through their reference sets even
	// when their target objects differ.
	if opA.Kind.IsConstraint() && opB.Kind.IsConstraint() {
		if referencesIntersect(opA, opB) {
			return nil, false
		}
		return opA.Clone(), true
	}

	// Operations on disjoint objects are independent.
	if opA.ObjectID != opB.ObjectID {
		return opA.Clone(), true
	}

	switch {
	case opA.Kind == collab.OpDelete && opB.Kind == collab.OpDelete:
		// opB already removed the object; opA has nothing left to do.
		return nil, true

	case opA.Kind == collab.OpDelete || opB.Kind == collab.OpDelete:
		// Editing a deleted object, or deleting an edited one, needs a
		// resolution decision.
		return nil, false

	case opA.Kind == collab.OpMove && opB.Kind == collab.OpMove:
		return transformMoveMove(opA, opB)

	case opA.Kind.IsPositional() && opB.Kind.IsPositional():
		// Rotate/scale pairs and mixed positional pairs have no safe
		// composition at this layer.
		return nil, false

	case isPropertyKind(opA.Kind) && isPropertyKind(opB.Kind):
		if parameterKeysIntersect(opA, opB) {
			return nil, false
		}
		return opA.Clone(), true

	default:
		// Unrelated aspects of the same object (a move and a property
		// change, a constraint and a move) compose without adjustment.
		return opA.Clone(), true
	}
}

// transformMoveMove rebases one move over another. Relative moves (delta
// parameters) compose naturally: applying opA's delta after opB's delta
// reaches the position both users intended. Two absolute target positions
// cannot be reconciled here and escalate to resolution.
func transformMoveMove(opA, opB *collab.Operation) (*collab.Operation, bool) {
	_, aDelta := collab.PointParam(opA.Parameters, "delta")
	_, bDelta := collab.PointParam(opB.Parameters, "delta")

	if aDelta && bDelta {
		return opA.Clone(), true
	}

	// An absolute move on either side pins the object to a specific point;
	// replaying the other move would silently discard one user's intent.
	return nil, false
}

func isPropertyKind(k collab.OperationKind) bool {
	return k == collab.OpModify || k == collab.OpPropertyChange
}

// parameterKeysIntersect reports whether the two operations touch any common
// parameter key.
func parameterKeysIntersect(opA, opB *collab.Operation) bool {
	if len(opA.Parameters) == 0 || len(opB.Parameters) == 0 {
		return false
	}
	for key := range opA.Parameters {
		if _, ok := opB.Parameters[key]; ok {
			return true
		}
	}
	return false
}

// referencesIntersect reports whether two constraint operations span any
// common object.
func referencesIntersect(opA, opB *collab.Operation) bool {
	seen := make(map[string]bool)
	for _, ref := range opA.References() {
		seen[ref] = true
	}
	for _, ref := range opB.References() {
		if seen[ref] {
			return true
		}
	}
	return false
}
