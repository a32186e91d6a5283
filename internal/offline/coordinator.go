package offline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/tandemcad/tandem/internal/conflict"
	"github.com/tandemcad/tandem/internal/transform"
	"github.com/tandemcad/tandem/pkg/collab"
)

// Applier is the downstream sink that makes an operation real, typically the
// geometry engine. The coordinator never applies an operation twice with the
// same ID.
type Applier interface {
	Apply(ctx context.Context, op *collab.Operation) error
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(ctx context.Context, op *collab.Operation) error

func (f ApplierFunc) Apply(ctx context.Context, op *collab.Operation) error { return f(ctx, op) }

// nopApplier accepts everything. Used when no geometry engine is wired in.
type nopApplier struct{}

func (nopApplier) Apply(context.Context, *collab.Operation) error { return nil }

// SyncResult reports the outcome of a reconnection or partial sync pass.
type SyncResult struct {
	// FullResync is true when the client's checksum did not match and its
	// state was rebuilt from server truth with no transform pass.
	FullResync bool

	// Applied holds the offline operations that survived transformation and
	// were applied, in apply order, with their assigned versions.
	Applied []*collab.Operation

	// Rejected holds the offline operations that could not be reconciled.
	Rejected []*collab.Operation

	// Resolutions holds every resolution produced while reconciling.
	Resolutions []*collab.Resolution

	// NewVersion is the client's sync version after the pass.
	NewVersion int64

	// Checksum is the client's state checksum after the pass.
	Checksum string
}

// CoordinatorOptions configures a Coordinator. The zero value selects the
// defaults.
type CoordinatorOptions struct {
	// DefaultStrategy is used to resolve conflicts found during
	// reconciliation. Defaults to merge.
	DefaultStrategy collab.Strategy

	// PendingLimit bounds each client's offline queue. Defaults to the
	// buffer capacity.
	PendingLimit int

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Coordinator reconciles offline edits for one document. It owns the
// per-client sync states, the document version counter, and the version
// vector the state checksum is computed over. Safe for concurrent use.
type Coordinator struct {
	mu         sync.Mutex
	documentID string
	buffer     *Buffer
	engine     *transform.Engine
	resolver   *conflict.Resolver
	applier    Applier
	opts       CoordinatorOptions

	states  map[string]*collab.SyncState
	version int64
	vector  map[string]int64 // user ID -> highest version applied for that user
}

// NewCoordinator creates a coordinator for one document. A nil resolver or
// applier gets a default; the buffer is required.
func NewCoordinator(documentID string, buffer *Buffer, resolver *conflict.Resolver, applier Applier, opts *CoordinatorOptions) *Coordinator {
	options := CoordinatorOptions{}
	if opts != nil {
		options = *opts
	}
	if options.DefaultStrategy == "" {
		options.DefaultStrategy = collab.StrategyMerge
	}
	if options.PendingLimit <= 0 {
		options.PendingLimit = buffer.capacity
	}
	if options.Clock == nil {
		options.Clock = time.Now
	}
	if resolver == nil {
		resolver = conflict.NewResolver()
	}
	if applier == nil {
		applier = nopApplier{}
	}
	return &Coordinator{
		documentID: documentID,
		buffer:     buffer,
		engine:     transform.New(),
		resolver:   resolver,
		applier:    applier,
		opts:       options,
		states:     make(map[string]*collab.SyncState),
		vector:     make(map[string]int64),
	}
}

// Register creates the sync state for a client, online as of now. Registering
// an already known client returns its existing state unchanged.
func (c *Coordinator) Register(clientID string) (*collab.SyncState, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client ID cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if state, ok := c.states[clientID]; ok {
		return cloneState(state), nil
	}

	now := c.opts.Clock()
	state := &collab.SyncState{
		ClientID:          clientID,
		LastSyncVersion:   c.version,
		LastSyncTimestamp: now,
		OnlineSince:       &now,
		PendingOperations: []*collab.Operation{},
		Checksum:          c.checksumLocked(),
	}
	c.states[clientID] = state
	return cloneState(state), nil
}

// SetOffline marks a client as disconnected.
func (c *Coordinator) SetOffline(clientID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.states[clientID]
	if !ok {
		return fmt.Errorf("unknown client %s", clientID)
	}
	now := c.opts.Clock()
	state.OfflineSince = &now
	state.OnlineSince = nil
	return nil
}

// SetOnline marks a client as connected.
func (c *Coordinator) SetOnline(clientID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.states[clientID]
	if !ok {
		return fmt.Errorf("unknown client %s", clientID)
	}
	now := c.opts.Clock()
	state.OnlineSince = &now
	state.OfflineSince = nil
	return nil
}

// State returns a copy of a client's sync state.
func (c *Coordinator) State(clientID string) (*collab.SyncState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.states[clientID]
	if !ok {
		return nil, false
	}
	return cloneState(state), true
}

// BufferOffline queues an edit a client made while disconnected. No-ops are
// filtered out before queueing and duplicate IDs are ignored. A full queue
// evicts its oldest entry.
func (c *Coordinator) BufferOffline(clientID string, op *collab.Operation) error {
	if op == nil {
		return fmt.Errorf("operation cannot be nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.states[clientID]
	if !ok {
		return fmt.Errorf("unknown client %s", clientID)
	}

	if op.IsNoOp() {
		return nil
	}
	for _, pending := range state.PendingOperations {
		if pending.ID == op.ID {
			return nil
		}
	}

	if len(state.PendingOperations) >= c.opts.PendingLimit {
		evicted := state.PendingOperations[0]
		state.PendingOperations = state.PendingOperations[1:]
		log.Printf("[Offline] client %s pending queue full, evicted oldest operation %s", clientID, evicted.ID)
	}
	state.PendingOperations = append(state.PendingOperations, op.Clone())
	return nil
}

// RecordApplied assigns the next document version to an operation that was
// applied through the online path and adds it to the replay log. Returns the
// assigned version.
func (c *Coordinator) RecordApplied(op *collab.Operation) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordLocked(op)
}

// Version returns the current document version.
func (c *Coordinator) Version() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Checksum returns the deterministic state digest for a client's document.
// Identical version vectors produce identical digests on any process.
func (c *Coordinator) Checksum(clientID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.states[clientID]; !ok {
		return "", fmt.Errorf("unknown client %s", clientID)
	}
	return c.checksumLocked(), nil
}

// HandleReconnection reconciles a client's offline edits against everything
// the server applied while it was away.
//
// A checksum mismatch means the client's base state diverged and no transform
// can be trusted: pending edits are discarded and the client is reset to
// server truth. Otherwise each offline operation is rebased over the missed
// server operations; pairs the transform engine cannot compose go through
// conflict resolution with the default strategy. Survivors are applied,
// versioned, and logged. The sync state is updated only when the whole pass
// succeeds.
func (c *Coordinator) HandleReconnection(ctx context.Context, clientID string, offlineOps []*collab.Operation, clientChecksum string) (*SyncResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.states[clientID]
	if !ok {
		return nil, fmt.Errorf("unknown client %s", clientID)
	}

	now := c.opts.Clock()

	if clientChecksum != state.Checksum {
		log.Printf("[Offline] client %s checksum mismatch, forcing full resync", clientID)
		state.PendingOperations = nil
		state.LastSyncVersion = c.version
		state.LastSyncTimestamp = now
		state.Checksum = c.checksumLocked()
		state.OnlineSince = &now
		state.OfflineSince = nil
		return &SyncResult{
			FullResync: true,
			NewVersion: state.LastSyncVersion,
			Checksum:   state.Checksum,
		}, nil
	}

	serverOps := c.buffer.OpsSince(state.LastSyncVersion)
	return c.syncLocked(ctx, state, offlineOps, serverOps, now)
}

// HandlePartialSync reconciles a client against a bounded window of server
// history, from (exclusive) to to (inclusive). Used when a client streams its
// backlog in chunks.
func (c *Coordinator) HandlePartialSync(ctx context.Context, clientID string, offlineOps []*collab.Operation, from, to int64) (*SyncResult, error) {
	if from > to {
		return nil, fmt.Errorf("invalid sync window: from %d > to %d", from, to)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.states[clientID]
	if !ok {
		return nil, fmt.Errorf("unknown client %s", clientID)
	}

	serverOps := c.buffer.OpsBetween(from, to)
	return c.syncLocked(ctx, state, offlineOps, serverOps, c.opts.Clock())
}

// syncLocked runs the shared reconciliation pass. Callers hold c.mu.
func (c *Coordinator) syncLocked(ctx context.Context, state *collab.SyncState, offlineOps []*collab.Operation, serverOps []*collab.Operation, now time.Time) (*SyncResult, error) {
	// Combine the explicit batch with anything buffered server-side,
	// dropping duplicates so an op sent both ways applies once.
	combined := make([]*collab.Operation, 0, len(state.PendingOperations)+len(offlineOps))
	seen := make(map[string]bool)
	for _, op := range append(append([]*collab.Operation{}, state.PendingOperations...), offlineOps...) {
		if op == nil || seen[op.ID] {
			continue
		}
		seen[op.ID] = true
		combined = append(combined, op)
	}

	result := &SyncResult{}

	// Phase one: rebase each offline op over the missed server history.
	var survivors []*collab.Operation
	for _, op := range combined {
		if op.IsNoOp() {
			continue
		}

		current := op.Clone()
		rejected := false
		for _, serverOp := range serverOps {
			transformed, ok := c.engine.Transform(current, serverOp)
			if ok {
				if transformed == nil {
					// The server already did this work.
					current = nil
					break
				}
				current = transformed
				continue
			}

			found := conflict.Detect(current, serverOp)
			if found == nil {
				continue
			}
			resolution, err := c.resolver.Resolve(found, c.opts.DefaultStrategy, nil)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve conflict during sync: %w", err)
			}
			result.Resolutions = append(result.Resolutions, resolution)
			if resolution.Outcome != collab.ResolutionSuccess || resolution.ResolvedOperation == nil {
				rejected = true
				break
			}
			current = resolution.ResolvedOperation
		}

		if rejected {
			result.Rejected = append(result.Rejected, op)
			continue
		}
		if current != nil && !current.IsNoOp() {
			survivors = append(survivors, current)
		}
	}

	// Phase two: apply the survivors. An apply failure aborts the pass with
	// the sync state untouched, so the client retries from the same base.
	for _, op := range survivors {
		if err := c.applier.Apply(ctx, op); err != nil {
			return nil, fmt.Errorf("failed to apply operation %s during sync: %w", op.ID, err)
		}
		c.recordLocked(op)
		result.Applied = append(result.Applied, op)
	}

	// Phase three: commit the client's new position.
	state.LastSyncVersion += int64(len(serverOps)) + int64(len(result.Applied))
	state.LastSyncTimestamp = now
	state.PendingOperations = nil
	state.Checksum = c.checksumLocked()
	state.OnlineSince = &now
	state.OfflineSince = nil

	result.NewVersion = state.LastSyncVersion
	result.Checksum = state.Checksum

	if len(result.Applied) > 0 || len(result.Rejected) > 0 {
		log.Printf("[Offline] client %s synced: %d applied, %d rejected, version %d",
			state.ClientID, len(result.Applied), len(result.Rejected), result.NewVersion)
	}
	return result, nil
}

// recordLocked assigns the next version, stores the op in the replay log, and
// advances the author's entry in the version vector. Callers hold c.mu.
func (c *Coordinator) recordLocked(op *collab.Operation) int64 {
	c.version++
	op.Version = c.version
	c.buffer.Append(op)
	if op.UserID != "" {
		c.vector[op.UserID] = c.version
	}
	return c.version
}

// checksumLocked digests the version vector with sorted keys, so the result
// is independent of map iteration order. Callers hold c.mu.
func (c *Coordinator) checksumLocked() string {
	users := make([]string, 0, len(c.vector))
	for user := range c.vector {
		users = append(users, user)
	}
	sort.Strings(users)

	h := sha256.New()
	for _, user := range users {
		fmt.Fprintf(h, "%s=%d;", user, c.vector[user])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func cloneState(state *collab.SyncState) *collab.SyncState {
	out := *state
	if state.OfflineSince != nil {
		t := *state.OfflineSince
		out.OfflineSince = &t
	}
	if state.OnlineSince != nil {
		t := *state.OnlineSince
		out.OnlineSince = &t
	}
	out.PendingOperations = make([]*collab.Operation, 0, len(state.PendingOperations))
	for _, op := range state.PendingOperations {
		out.PendingOperations = append(out.PendingOperations, op.Clone())
	}
	return &out
}
