// Package conflict implements conflict detection between concurrent
// operations and the pluggable strategies that resolve them. Detection
// classifies an incompatible pair (deletion, property, position, constraint);
// resolution picks one surviving operation via an interchangeable strategy and
// records every attempt in an append-only history for auditing.
package conflict

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tandemcad/tandem/pkg/collab"
)

// Detect decides whether two operations conflict and classifies the pair.
// Returns nil when the operations can both apply as-is.
//
// Classification for same-object pairs, in precedence order:
//   - any DELETE paired with anything  -> deletion conflict, severity high
//   - two modifications with intersecting parameter keys -> property, medium
//   - two positional operations (move/rotate/scale)      -> position, low
//
// Constraint add/remove pairs conflict when their referenced-object sets
// intersect, regardless of target object: constraint, medium, with
// affected_objects set to the union of references.
//
// No-op operations never conflict.
func Detect(op1, op2 *collab.Operation) *collab.Conflict {
	if op1 == nil || op2 == nil {
		return nil
	}

	if op1.IsNoOp() || op2.IsNoOp() {
		return nil
	}

	if op1.Kind.IsConstraint() && op2.Kind.IsConstraint() {
		if union, intersects := referenceUnion(op1, op2); intersects {
			return newConflict(collab.ConflictConstraint, op1, op2, union, collab.SeverityMedium)
		}
		return nil
	}

	if op1.ObjectID != op2.ObjectID {
		return nil
	}

	affected := []string{op1.ObjectID}

	if op1.Kind == collab.OpDelete || op2.Kind == collab.OpDelete {
		return newConflict(collab.ConflictDeletion, op1, op2, affected, collab.SeverityHigh)
	}

	if isPropertyKind(op1.Kind) && isPropertyKind(op2.Kind) {
		if parameterKeysIntersect(op1, op2) {
			return newConflict(collab.ConflictProperty, op1, op2, affected, collab.SeverityMedium)
		}
		return nil
	}

	if op1.Kind.IsPositional() && op2.Kind.IsPositional() {
		return newConflict(collab.ConflictPosition, op1, op2, affected, collab.SeverityLow)
	}

	return nil
}

func newConflict(t collab.ConflictType, op1, op2 *collab.Operation, affected []string, severity collab.Severity) *collab.Conflict {
	return &collab.Conflict{
		ID:              uuid.New().String(),
		Type:            t,
		Op1:             op1,
		Op2:             op2,
		DetectedAt:      time.Now(),
		AffectedObjects: affected,
		Severity:        severity,
	}
}

func isPropertyKind(k collab.OperationKind) bool {
	return k == collab.OpModify || k == collab.OpPropertyChange
}

func parameterKeysIntersect(op1, op2 *collab.Operation) bool {
	if len(op1.Parameters) == 0 || len(op2.Parameters) == 0 {
		return false
	}
	for key := range op1.Parameters {
		if _, ok := op2.Parameters[key]; ok {
			return true
		}
	}
	return false
}

// referenceUnion returns the sorted union of both operations' referenced
// objects and whether the two sets intersect.
func referenceUnion(op1, op2 *collab.Operation) ([]string, bool) {
	seen := make(map[string]bool)
	for _, ref := range op1.References() {
		seen[ref] = true
	}

	intersects := false
	for _, ref := range op2.References() {
		if seen[ref] {
			intersects = true
		}
		seen[ref] = true
	}

	union := make([]string, 0, len(seen))
	for ref := range seen {
		union = append(union, ref)
	}
	sort.Strings(union)

	return union, intersects
}
