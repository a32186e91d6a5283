package conflict

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tandemcad/tandem/pkg/collab"
)

// ErrConflictNotQueued is returned by ResolveManually for a conflict that is
// not waiting in the manual queue.
var ErrConflictNotQueued = errors.New("conflict is not in the manual queue")

// errUnmergeable marks a pair the merge strategy cannot combine; the resolver
// converts it into a manual-queue fallback rather than a failure.
var errUnmergeable = errors.New("operations cannot be merged")

// ExpertChoice selects which operation an expert decision keeps.
type ExpertChoice string

const (
	ExpertKeepOp1   ExpertChoice = "op1"
	ExpertKeepOp2   ExpertChoice = "op2"
	ExpertKeepOther ExpertChoice = "custom"
)

// ExpertDecision is an explicit human decision for the expert strategy.
type ExpertDecision struct {
	Choice    ExpertChoice
	Custom    *collab.Operation // required when Choice is ExpertKeepOther
	DecidedBy string
}

// Context carries strategy-specific inputs. Each strategy reads only the
// fields it needs; unused fields are ignored.
type Context struct {
	// Priorities maps user ID to priority for the priority strategy.
	// Higher values win. Falls back to the resolver's registered priorities,
	// then to the operations' "priority" metadata.
	Priorities map[string]int

	// Votes maps operation ID to vote count for the voting strategy.
	Votes map[string]int

	// Expert is the explicit decision for the expert strategy.
	Expert *ExpertDecision
}

// Resolver resolves conflicts using interchangeable strategies and keeps an
// append-only resolution history. Conflicts that automatic strategies cannot
// settle are parked in a manual queue until a human supplies the final
// operation. The resolver is safe for concurrent use.
type Resolver struct {
	mu          sync.Mutex
	history     []*collab.Resolution
	manualQueue map[string]*collab.Conflict
	manualOrder []string
	priorities  map[string]int
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{
		manualQueue: make(map[string]*collab.Conflict),
		priorities:  make(map[string]int),
	}
}

// SetUserPriority registers a per-user priority used by the priority strategy
// when the call context supplies none.
func (r *Resolver) SetUserPriority(userID string, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.priorities[userID] = priority
}

// Resolve resolves a conflict with the given strategy. Strategy-specific data
// travels in ctx (nil is valid and means "no extra inputs").
//
// A strategy error or panic is converted into a failed Resolution with the
// message preserved in metadata - it never aborts the caller's processing of
// other conflicts. A missing operand is a caller bug and fails fast instead.
func (r *Resolver) Resolve(conflict *collab.Conflict, strategy collab.Strategy, ctx *Context) (res *collab.Resolution, err error) {
	if conflict == nil {
		return nil, fmt.Errorf("nil conflict")
	}
	if conflict.Op1 == nil || conflict.Op2 == nil {
		return nil, fmt.Errorf("conflict %s references a missing operation", conflict.ID)
	}
	if err := strategy.Validate(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = &Context{}
	}

	defer func() {
		if rec := recover(); rec != nil {
			res = r.record(failedResolution(conflict, strategy, fmt.Sprintf("panic: %v", rec)))
			err = nil
		}
	}()

	resolution, strategyErr := r.dispatch(conflict, strategy, ctx)
	if strategyErr != nil {
		return r.record(failedResolution(conflict, strategy, strategyErr.Error())), nil
	}

	return r.record(resolution), nil
}

func (r *Resolver) dispatch(conflict *collab.Conflict, strategy collab.Strategy, ctx *Context) (*collab.Resolution, error) {
	switch strategy {
	case collab.StrategyTimestamp:
		return r.resolveByTimestamp(conflict), nil
	case collab.StrategyPriority:
		return r.resolveByPriority(conflict, ctx), nil
	case collab.StrategyMerge:
		return r.resolveByMerge(conflict)
	case collab.StrategyManual:
		return r.queueForManual(conflict, collab.StrategyManual), nil
	case collab.StrategyVoting:
		return r.resolveByVoting(conflict, ctx), nil
	case collab.StrategyExpert:
		return r.resolveByExpert(conflict, ctx), nil
	default:
		return nil, fmt.Errorf("unknown strategy: %q", strategy)
	}
}

// resolveByTimestamp keeps the operation with the strictly later timestamp.
// Exact ties are broken deterministically: the lexicographically greater
// operation ID wins, so every replica reaches the same decision.
func (r *Resolver) resolveByTimestamp(conflict *collab.Conflict) *collab.Resolution {
	winner := laterOf(conflict.Op1, conflict.Op2)
	return successResolution(conflict, collab.StrategyTimestamp, winner, "")
}

func (r *Resolver) resolveByPriority(conflict *collab.Conflict, ctx *Context) *collab.Resolution {
	p1 := r.priorityFor(conflict.Op1, ctx)
	p2 := r.priorityFor(conflict.Op2, ctx)

	switch {
	case p1 > p2:
		return successResolution(conflict, collab.StrategyPriority, conflict.Op1, "")
	case p2 > p1:
		return successResolution(conflict, collab.StrategyPriority, conflict.Op2, "")
	default:
		// Equal priority falls back to timestamp.
		winner := laterOf(conflict.Op1, conflict.Op2)
		res := successResolution(conflict, collab.StrategyPriority, winner, "")
		res.Metadata["fallback"] = string(collab.StrategyTimestamp)
		return res
	}
}

func (r *Resolver) priorityFor(op *collab.Operation, ctx *Context) int {
	if p, ok := ctx.Priorities[op.UserID]; ok {
		return p
	}

	r.mu.Lock()
	p, ok := r.priorities[op.UserID]
	r.mu.Unlock()
	if ok {
		return p
	}

	if raw, ok := op.Metadata["priority"]; ok {
		switch v := raw.(type) {
		case int:
			return v
		case float64:
			return int(v)
		}
	}
	return 0
}

func (r *Resolver) resolveByMerge(conflict *collab.Conflict) (*collab.Resolution, error) {
	merged, err := mergeOperations(conflict)
	if errors.Is(err, errUnmergeable) {
		// Unmergeable pairs are a normal outcome, not a failure.
		res := r.queueForManual(conflict, collab.StrategyMerge)
		res.Metadata["fallback"] = string(collab.StrategyManual)
		res.Metadata["reason"] = err.Error()
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	return successResolution(conflict, collab.StrategyMerge, merged, ""), nil
}

func (r *Resolver) resolveByVoting(conflict *collab.Conflict, ctx *Context) *collab.Resolution {
	v1 := ctx.Votes[conflict.Op1.ID]
	v2 := ctx.Votes[conflict.Op2.ID]

	switch {
	case v1 == 0 && v2 == 0:
		res := r.queueForManual(conflict, collab.StrategyVoting)
		res.Metadata["fallback"] = string(collab.StrategyManual)
		return res
	case v1 > v2:
		return successResolution(conflict, collab.StrategyVoting, conflict.Op1, "")
	case v2 > v1:
		return successResolution(conflict, collab.StrategyVoting, conflict.Op2, "")
	default:
		winner := laterOf(conflict.Op1, conflict.Op2)
		res := successResolution(conflict, collab.StrategyVoting, winner, "")
		res.Metadata["fallback"] = string(collab.StrategyTimestamp)
		return res
	}
}

func (r *Resolver) resolveByExpert(conflict *collab.Conflict, ctx *Context) *collab.Resolution {
	if ctx.Expert == nil {
		res := r.queueForManual(conflict, collab.StrategyExpert)
		res.Metadata["fallback"] = string(collab.StrategyManual)
		return res
	}

	var chosen *collab.Operation
	switch ctx.Expert.Choice {
	case ExpertKeepOp1:
		chosen = conflict.Op1
	case ExpertKeepOp2:
		chosen = conflict.Op2
	case ExpertKeepOther:
		chosen = ctx.Expert.Custom
	}

	if chosen == nil {
		res := r.queueForManual(conflict, collab.StrategyExpert)
		res.Metadata["fallback"] = string(collab.StrategyManual)
		return res
	}

	return successResolution(conflict, collab.StrategyExpert, chosen, ctx.Expert.DecidedBy)
}

// queueForManual parks the conflict for human review and returns a pending
// resolution. Queueing is idempotent per conflict ID.
func (r *Resolver) queueForManual(conflict *collab.Conflict, strategy collab.Strategy) *collab.Resolution {
	r.mu.Lock()
	if _, queued := r.manualQueue[conflict.ID]; !queued {
		r.manualQueue[conflict.ID] = conflict
		r.manualOrder = append(r.manualOrder, conflict.ID)
	}
	r.mu.Unlock()

	return &collab.Resolution{
		ID:           uuid.New().String(),
		ConflictID:   conflict.ID,
		Outcome:      collab.ResolutionPending,
		StrategyUsed: strategy,
		ResolvedAt:   time.Now(),
		Metadata:     map[string]interface{}{},
	}
}

// ManualQueue returns the conflicts awaiting a human decision, in queue order.
func (r *Resolver) ManualQueue() []*collab.Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()

	queue := make([]*collab.Conflict, 0, len(r.manualOrder))
	for _, id := range r.manualOrder {
		if c, ok := r.manualQueue[id]; ok {
			queue = append(queue, c)
		}
	}
	return queue
}

// ResolveManually completes a queued conflict with a human-supplied final
// operation. Returns ErrConflictNotQueued if the conflict is unknown.
func (r *Resolver) ResolveManually(conflictID string, finalOp *collab.Operation, resolvedBy string) (*collab.Resolution, error) {
	if finalOp == nil {
		return nil, fmt.Errorf("final operation cannot be nil")
	}

	r.mu.Lock()
	conflict, ok := r.manualQueue[conflictID]
	if ok {
		delete(r.manualQueue, conflictID)
		for i, id := range r.manualOrder {
			if id == conflictID {
				r.manualOrder = append(r.manualOrder[:i], r.manualOrder[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConflictNotQueued, conflictID)
	}

	res := successResolution(conflict, collab.StrategyManual, finalOp, resolvedBy)
	return r.record(res), nil
}

// History returns a copy of the append-only resolution history.
func (r *Resolver) History() []*collab.Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()

	history := make([]*collab.Resolution, len(r.history))
	copy(history, r.history)
	return history
}

func (r *Resolver) record(res *collab.Resolution) *collab.Resolution {
	r.mu.Lock()
	r.history = append(r.history, res)
	r.mu.Unlock()
	return res
}

func successResolution(conflict *collab.Conflict, strategy collab.Strategy, op *collab.Operation, resolvedBy string) *collab.Resolution {
	return &collab.Resolution{
		ID:                uuid.New().String(),
		ConflictID:        conflict.ID,
		Outcome:           collab.ResolutionSuccess,
		StrategyUsed:      strategy,
		ResolvedOperation: op,
		ResolvedBy:        resolvedBy,
		ResolvedAt:        time.Now(),
		Metadata:          map[string]interface{}{},
	}
}

func failedResolution(conflict *collab.Conflict, strategy collab.Strategy, message string) *collab.Resolution {
	return &collab.Resolution{
		ID:           uuid.New().String(),
		ConflictID:   conflict.ID,
		Outcome:      collab.ResolutionFailed,
		StrategyUsed: strategy,
		ResolvedAt:   time.Now(),
		Metadata:     map[string]interface{}{"error": message},
	}
}

// laterOf returns the operation with the strictly later timestamp, breaking
// exact ties by the greater operation ID.
func laterOf(op1, op2 *collab.Operation) *collab.Operation {
	if op1.Timestamp.After(op2.Timestamp) {
		return op1
	}
	if op2.Timestamp.After(op1.Timestamp) {
		return op2
	}
	if op1.ID > op2.ID {
		return op1
	}
	return op2
}
