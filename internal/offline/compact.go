package offline

import (
	"fmt"
	"sort"

	"github.com/tandemcad/tandem/pkg/collab"
)

// Compact collapses redundant runs within an offline operation batch before
// it is shipped for reconciliation. Consecutive MODIFY+MODIFY and MOVE+MOVE
// pairs on the same object fold into one operation carrying the later op's
// identity and the union of both parameter sets, later keys winning.
//
// Compaction is conservative: a group touched by more than one user, or one
// that mixes a DELETE with any other kind, is left exactly as it arrived and
// a review note is recorded instead. Nothing is ever merged silently.
func Compact(ops []*collab.Operation) ([]*collab.Operation, []string) {
	type group struct {
		objectID string
		ops      []*collab.Operation
	}

	var order []*group
	byObject := make(map[string]*group)
	for _, op := range ops {
		if op == nil {
			continue
		}
		g, ok := byObject[op.ObjectID]
		if !ok {
			g = &group{objectID: op.ObjectID}
			byObject[op.ObjectID] = g
			order = append(order, g)
		}
		g.ops = append(g.ops, op)
	}

	var compacted []*collab.Operation
	var notes []string

	for _, g := range order {
		if len(g.ops) == 1 {
			compacted = append(compacted, g.ops[0])
			continue
		}

		if note := compactGuard(g.objectID, g.ops); note != "" {
			notes = append(notes, note)
			compacted = append(compacted, g.ops...)
			continue
		}

		sorted := append([]*collab.Operation{}, g.ops...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		})

		folded := []*collab.Operation{sorted[0]}
		for _, op := range sorted[1:] {
			last := folded[len(folded)-1]
			if last.Kind == op.Kind && (op.Kind == collab.OpModify || op.Kind == collab.OpMove) {
				folded[len(folded)-1] = foldPair(last, op)
				continue
			}
			folded = append(folded, op)
		}
		compacted = append(compacted, folded...)
	}

	return compacted, notes
}

// compactGuard returns a review note when a group must not be compacted.
func compactGuard(objectID string, ops []*collab.Operation) string {
	users := make(map[string]bool)
	deletes := 0
	for _, op := range ops {
		users[op.UserID] = true
		if op.Kind == collab.OpDelete {
			deletes++
		}
	}
	if len(users) > 1 {
		return fmt.Sprintf("object %s: operations from %d users, left uncompacted", objectID, len(users))
	}
	if deletes > 0 && deletes < len(ops) {
		return fmt.Sprintf("object %s: DELETE mixed with other edits, left uncompacted", objectID)
	}
	return ""
}

// foldPair merges two same-kind operations into one. The later operation's
// identity wins; parameters are the union with the later value taken on any
// shared key.
func foldPair(earlier, later *collab.Operation) *collab.Operation {
	merged := later.Clone()
	if merged.Parameters == nil {
		merged.Parameters = make(map[string]interface{})
	}
	for key, value := range earlier.Parameters {
		if _, ok := merged.Parameters[key]; !ok {
			merged.Parameters[key] = value
		}
	}
	return merged
}
