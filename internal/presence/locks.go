package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/tandemcad/tandem/pkg/collab"
)

// queueGrant records a wait-queue entry granted during a release or sweep.
type queueGrant struct {
	objectID string
	userID   string
	lockType collab.LockType
}

// grantsFor replays an object's wait queue and reports the grants. Callers
// hold m.mu.
func (m *Manager) grantsFor(objectID string) []queueGrant {
	var out []queueGrant
	for _, req := range m.replayQueueLocked(objectID) {
		out = append(out, queueGrant{objectID: objectID, userID: req.userID, lockType: req.lockType})
	}
	return out
}

func (m *Manager) emitGrants(ctx context.Context, grants []queueGrant) {
	for _, g := range grants {
		m.emit(ctx, collab.EventLockGranted, g.userID, g.objectID, map[string]interface{}{
			"lock_type": string(g.lockType),
		})
	}
}

// AcquireResult reports the outcome of a lock acquisition attempt.
type AcquireResult struct {
	// Granted is true when the requester now holds the lock.
	Granted bool

	// QueuePosition is the requester's 1-based position in the wait queue
	// when the request was queued instead of granted.
	QueuePosition int
}

// Acquire attempts to take a lock on an object. Grants are immediate when the
// object is free, when the requester already holds a compatible lock, or when
// a shared request joins an existing shared lock. Contended requests join a
// FIFO wait queue and are granted automatically on release or expiry.
// A ttl of zero means the lock never expires on its own.
func (m *Manager) Acquire(ctx context.Context, objectID, userID string, lockType collab.LockType, ttl time.Duration) (AcquireResult, error) {
	if err := lockType.Validate(); err != nil {
		return AcquireResult{}, err
	}
	if objectID == "" || userID == "" {
		return AcquireResult{}, fmt.Errorf("object ID and user ID cannot be empty")
	}

	m.mu.Lock()
	now := m.opts.Clock()

	if m.acquireLocked(objectID, userID, lockType, ttl, now) {
		// An explicit grant makes the hold explicit; deselection must not
		// release it anymore.
		delete(m.selectionHolds[userID], objectID)
		if p, ok := m.presences[userID]; ok {
			m.refreshLockedObjects(p)
			m.touchLocked(p, now)
		}
		m.mu.Unlock()
		m.emit(ctx, collab.EventLockGranted, userID, objectID, map[string]interface{}{
			"lock_type": string(lockType),
		})
		return AcquireResult{Granted: true}, nil
	}

	// Contended. Queue the request unless the same user already has an
	// identical request waiting.
	queue := m.waiting[objectID]
	position := 0
	for i, req := range queue {
		if req.userID == userID && req.lockType == lockType {
			position = i + 1
			break
		}
	}
	if position == 0 {
		m.waiting[objectID] = append(queue, &lockRequest{
			userID:   userID,
			lockType: lockType,
			ttl:      ttl,
			queuedAt: now,
		})
		position = len(m.waiting[objectID])
	}
	m.mu.Unlock()

	m.emit(ctx, collab.EventLockQueued, userID, objectID, map[string]interface{}{
		"lock_type":      string(lockType),
		"queue_position": position,
	})
	return AcquireResult{Granted: false, QueuePosition: position}, nil
}

// Release gives up a user's hold on an object's lock. When the last holder
// releases, the wait queue is replayed and the next compatible batch of
// requests is granted. Returns false if the user held no lock on the object.
func (m *Manager) Release(ctx context.Context, objectID, userID string) (bool, error) {
	m.mu.Lock()
	lock, ok := m.locks[objectID]
	if !ok || !lock.HeldBy(userID) {
		m.mu.Unlock()
		return false, nil
	}

	m.releaseLocked(objectID, userID)
	delete(m.selectionHolds[userID], objectID)
	grants := m.grantsFor(objectID)
	if p, ok := m.presences[userID]; ok {
		m.refreshLockedObjects(p)
	}
	for _, g := range grants {
		if p, ok := m.presences[g.userID]; ok {
			m.refreshLockedObjects(p)
		}
	}
	m.mu.Unlock()

	m.emit(ctx, collab.EventLockReleased, userID, objectID, nil)
	m.emitGrants(ctx, grants)
	return true, nil
}

// Lock returns a copy of the lock on an object, if any.
func (m *Manager) Lock(objectID string) (*collab.ObjectLock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[objectID]
	if !ok {
		return nil, false
	}
	snapshot := *lock
	snapshot.Holders = append([]string(nil), lock.Holders...)
	return &snapshot, true
}

// Locks returns a copy of every held lock.
func (m *Manager) Locks() []*collab.ObjectLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*collab.ObjectLock, 0, len(m.locks))
	for _, lock := range m.locks {
		snapshot := *lock
		snapshot.Holders = append([]string(nil), lock.Holders...)
		out = append(out, &snapshot)
	}
	return out
}

// SweepExpired drops locks past their expiry and replays the wait queues of
// freed objects. Returns how many locks expired.
func (m *Manager) SweepExpired(ctx context.Context) int {
	m.mu.Lock()
	now := m.opts.Clock()

	type expiry struct {
		objectID string
		userID   string
	}
	var expired []expiry
	var grants []queueGrant

	for objectID, lock := range m.locks {
		if !lock.Expired(now) {
			continue
		}
		expired = append(expired, expiry{objectID: objectID, userID: lock.UserID})
		for _, holder := range lock.Holders {
			delete(m.selectionHolds[holder], objectID)
		}
		delete(m.locks, objectID)
		grants = append(grants, m.grantsFor(objectID)...)
	}
	if len(expired) > 0 {
		for _, p := range m.presences {
			m.refreshLockedObjects(p)
		}
	}
	m.mu.Unlock()

	for _, e := range expired {
		m.emit(ctx, collab.EventLockReleased, e.userID, e.objectID, map[string]interface{}{
			"reason": "expired",
		})
	}
	m.emitGrants(ctx, grants)
	return len(expired)
}

// acquireLocked applies the grant rules against the lock table. It never
// queues; callers decide what to do with a refusal. Callers hold m.mu.
//
// Grant rules, in order:
//  1. no lock on the object: grant.
//  2. requester already holds the lock: idempotent refresh. An upgrade to
//     exclusive applies when the requester is the sole holder.
//  3. exclusive lock held by someone else: refuse.
//  4. shared lock, shared request: join as an additional holder.
//  5. shared lock, exclusive request: refuse.
func (m *Manager) acquireLocked(objectID, userID string, lockType collab.LockType, ttl time.Duration, now time.Time) bool {
	lock, exists := m.locks[objectID]
	if exists && lock.Expired(now) {
		delete(m.locks, objectID)
		exists = false
	}

	var expiresAt *time.Time
	if ttl > 0 {
		t := now.Add(ttl)
		expiresAt = &t
	}

	if !exists {
		m.locks[objectID] = &collab.ObjectLock{
			ObjectID:   objectID,
			UserID:     userID,
			LockType:   lockType,
			Holders:    []string{userID},
			AcquiredAt: now,
			ExpiresAt:  expiresAt,
		}
		return true
	}

	if lock.HeldBy(userID) {
		if lockType == collab.LockExclusive && lock.LockType == collab.LockShared && len(lock.Holders) == 1 {
			lock.LockType = collab.LockExclusive
			lock.UserID = userID
		}
		lock.ExpiresAt = expiresAt
		return true
	}

	if lock.LockType == collab.LockExclusive {
		return false
	}
	if lockType == collab.LockExclusive {
		return false
	}

	lock.Holders = append(lock.Holders, userID)
	switch {
	case lock.ExpiresAt == nil:
		// already never expires
	case expiresAt == nil, expiresAt.After(*lock.ExpiresAt):
		lock.ExpiresAt = expiresAt
	}
	return true
}

// releaseLocked removes one holder from an object's lock, deleting the lock
// when the last holder goes. Returns true if the user held the lock. Callers
// hold m.mu.
func (m *Manager) releaseLocked(objectID, userID string) bool {
	lock, ok := m.locks[objectID]
	if !ok || !lock.HeldBy(userID) {
		return false
	}

	holders := lock.Holders[:0]
	for _, h := range lock.Holders {
		if h != userID {
			holders = append(holders, h)
		}
	}
	lock.Holders = holders

	if len(lock.Holders) == 0 {
		delete(m.locks, objectID)
		return true
	}
	if lock.UserID == userID {
		lock.UserID = lock.Holders[0]
	}
	return true
}

// replayQueueLocked grants waiting requests after an object frees up. An
// exclusive request at the head is granted alone; a run of shared requests at
// the head is granted as a batch. Callers hold m.mu.
func (m *Manager) replayQueueLocked(objectID string) []*lockRequest {
	queue := m.waiting[objectID]
	if len(queue) == 0 {
		return nil
	}

	now := m.opts.Clock()
	var granted []*lockRequest

	for len(queue) > 0 {
		head := queue[0]
		if !m.acquireLocked(objectID, head.userID, head.lockType, head.ttl, now) {
			break
		}
		granted = append(granted, head)
		queue = queue[1:]
	}

	if len(queue) == 0 {
		delete(m.waiting, objectID)
	} else {
		m.waiting[objectID] = queue
	}
	return granted
}
