// Package session hosts the per-document authority. A Session owns the
// presence manager, the operation buffer, and the offline coordinator for one
// document and serializes every mutation through them. Redis only ever sees a
// projection of this state; no decision is made from it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tandemcad/tandem/internal/config"
	"github.com/tandemcad/tandem/internal/conflict"
	"github.com/tandemcad/tandem/internal/offline"
	"github.com/tandemcad/tandem/internal/presence"
	"github.com/tandemcad/tandem/internal/transform"
	"github.com/tandemcad/tandem/pkg/collab"
)

// ErrObjectLocked is returned when an operation targets an object another
// user holds an exclusive lock on.
var ErrObjectLocked = errors.New("object is exclusively locked by another user")

// SubmitResult reports what happened to a submitted operation.
type SubmitResult struct {
	// Applied is true when the operation (possibly transformed or merged)
	// took effect.
	Applied bool

	// Duplicate is true when the operation's ID was seen before and the
	// submission was ignored.
	Duplicate bool

	// Version is the document version assigned to the applied operation.
	Version int64

	// Resolution is set when the operation collided with concurrent work and
	// went through conflict resolution.
	Resolution *collab.Resolution
}

// Session is the single in-memory authority for one document.
type Session struct {
	// mu serializes Submit end to end. The buffer and coordinator have their
	// own locks, but the rebase-apply-record sequence must observe and extend
	// the history atomically or two concurrent submissions could each miss
	// the other and skip conflict detection.
	mu sync.Mutex

	documentID  string
	cfg         *config.TandemConfig
	presence    *presence.Manager
	buffer      *offline.Buffer
	coordinator *offline.Coordinator
	engine      *transform.Engine
	resolver    *conflict.Resolver
	applier     offline.Applier
	broadcaster collab.Broadcaster
	mirror      *collab.Mirror
}

// New creates a session for one document. The mirror may be nil, in which
// case no Redis projection is kept and events go to the broadcaster only.
func New(documentID string, cfg *config.TandemConfig, applier offline.Applier, mirror *collab.Mirror) *Session {
	if cfg == nil {
		cfg = config.Default()
	}

	var broadcaster collab.Broadcaster = collab.LogBroadcaster{}
	if mirror != nil {
		broadcaster = mirror
	}

	buffer := offline.NewBuffer(*cfg.Sync.BufferCapacity)
	resolver := conflict.NewResolver()
	coordinator := offline.NewCoordinator(documentID, buffer, resolver, applier, &offline.CoordinatorOptions{
		DefaultStrategy: cfg.DefaultStrategy(),
	})

	return &Session{
		documentID: documentID,
		cfg:        cfg,
		presence: presence.NewManager(documentID, broadcaster, &presence.Options{
			IdleThreshold:    cfg.IdleThreshold(),
			CursorRateLimit:  *cfg.Presence.CursorRateLimit,
			SelectionLockTTL: cfg.LockTTL(),
		}),
		buffer:      buffer,
		coordinator: coordinator,
		engine:      transform.New(),
		resolver:    resolver,
		applier:     coordinatorApplier(applier),
		broadcaster: broadcaster,
		mirror:      mirror,
	}
}

func coordinatorApplier(applier offline.Applier) offline.Applier {
	if applier == nil {
		return offline.ApplierFunc(func(context.Context, *collab.Operation) error { return nil })
	}
	return applier
}

// DocumentID returns the document this session is the authority for.
func (s *Session) DocumentID() string { return s.documentID }

// Presence returns the session's presence and lock manager.
func (s *Session) Presence() *presence.Manager { return s.presence }

// Coordinator returns the session's offline sync coordinator.
func (s *Session) Coordinator() *offline.Coordinator { return s.coordinator }

// Resolver returns the session's conflict resolver, for manual resolution
// and priority registration.
func (s *Session) Resolver() *conflict.Resolver { return s.resolver }

// Submit runs the online fast path for one operation: filter no-ops and
// duplicates, honor exclusive locks, rebase over concurrent operations the
// submitter had not seen, resolve what cannot be rebased, then apply,
// version, and broadcast.
//
// The operation's Version field carries the document version the client last
// saw; everything applied after it counts as concurrent.
func (s *Session) Submit(ctx context.Context, op *collab.Operation) (*SubmitResult, error) {
	if op == nil {
		return nil, fmt.Errorf("operation cannot be nil")
	}
	if err := op.Validate(); err != nil {
		return nil, fmt.Errorf("invalid operation: %w", err)
	}

	if op.IsNoOp() {
		return &SubmitResult{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.buffer.Get(op.ID); dup {
		return &SubmitResult{Duplicate: true}, nil
	}

	if lock, held := s.presence.Lock(op.ObjectID); held {
		if lock.LockType == collab.LockExclusive && !lock.HeldBy(op.UserID) {
			return nil, fmt.Errorf("%w: object %s held by %s", ErrObjectLocked, op.ObjectID, lock.UserID)
		}
	}

	result := &SubmitResult{}

	// Rebase over everything applied since the client's base version.
	current := op.Clone()
	for _, concurrent := range s.buffer.OpsSince(op.Version) {
		transformed, ok := s.engine.Transform(current, concurrent)
		if ok {
			if transformed == nil {
				// Concurrent work made this operation redundant.
				return result, nil
			}
			current = transformed
			continue
		}

		found := conflict.Detect(current, concurrent)
		if found == nil {
			continue
		}
		resolution, err := s.resolver.Resolve(found, s.cfg.DefaultStrategy(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve conflict: %w", err)
		}
		result.Resolution = resolution
		if resolution.Outcome != collab.ResolutionSuccess || resolution.ResolvedOperation == nil {
			// Parked for manual review; nothing is applied.
			if err := s.broadcaster.Broadcast(ctx, &collab.Event{
				Type:       collab.EventConflictQueued,
				DocumentID: s.documentID,
				UserID:     op.UserID,
				ObjectID:   op.ObjectID,
				Payload: map[string]interface{}{
					"conflict_id":   found.ID,
					"conflict_type": string(found.Type),
					"severity":      string(found.Severity),
				},
				Timestamp: time.Now(),
			}); err != nil {
				log.Printf("[Session] failed to broadcast conflict_queued for doc %s: %v", s.documentID, err)
			}
			return result, nil
		}
		current = resolution.ResolvedOperation
	}

	if current.IsNoOp() {
		return result, nil
	}

	if err := s.applier.Apply(ctx, current); err != nil {
		return nil, fmt.Errorf("failed to apply operation %s: %w", current.ID, err)
	}
	result.Applied = true
	result.Version = s.coordinator.RecordApplied(current)

	if err := s.broadcaster.Broadcast(ctx, &collab.Event{
		Type:       collab.EventOperationApplied,
		DocumentID: s.documentID,
		UserID:     current.UserID,
		ObjectID:   current.ObjectID,
		Payload: map[string]interface{}{
			"operation_id": current.ID,
			"kind":         string(current.Kind),
			"version":      result.Version,
		},
		Timestamp: time.Now(),
	}); err != nil {
		log.Printf("[Session] failed to broadcast operation_applied for doc %s: %v", s.documentID, err)
	}

	return result, nil
}

// Run starts the session's background loops and blocks until the context is
// cancelled: the idle sweep, the lock expiry sweep, and the Redis mirror
// sync. Foreground work never waits on any of them.
func (s *Session) Run(ctx context.Context) error {
	log.Printf("[Session] Starting background loops for document '%s'", s.documentID)

	idleTicker := time.NewTicker(s.cfg.IdleSweepInterval())
	defer idleTicker.Stop()
	lockTicker := time.NewTicker(s.cfg.LockSweepInterval())
	defer lockTicker.Stop()
	mirrorTicker := time.NewTicker(s.cfg.MirrorSyncInterval())
	defer mirrorTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Session] Shutting down document '%s'", s.documentID)
			return nil

		case <-idleTicker.C:
			if n := s.presence.SweepIdle(ctx); n > 0 {
				log.Printf("[Session] doc %s: %d users went idle", s.documentID, n)
			}

		case <-lockTicker.C:
			if n := s.presence.SweepExpired(ctx); n > 0 {
				log.Printf("[Session] doc %s: %d locks expired", s.documentID, n)
			}

		case <-mirrorTicker.C:
			s.syncMirror(ctx)
		}
	}
}

// syncMirror projects current presence and lock state into Redis. Failures
// are logged and retried on the next tick; the authority is unaffected.
func (s *Session) syncMirror(ctx context.Context) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.WritePresence(ctx, s.documentID, s.presence.Presences()); err != nil {
		log.Printf("[Session] doc %s: presence mirror sync failed: %v", s.documentID, err)
	}
	if err := s.mirror.WriteLocks(ctx, s.documentID, s.presence.Locks()); err != nil {
		log.Printf("[Session] doc %s: lock mirror sync failed: %v", s.documentID, err)
	}
}
