// Package presence tracks who is working in a document and what they hold.
// One Manager exists per document and is that document's single authority for
// presence state and object locks: the Redis projection written by the session
// loop is advisory only and never consulted for grant decisions.
package presence

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/tandemcad/tandem/pkg/collab"
)

// Defaults for manager options.
const (
	DefaultIdleThreshold    = 60 * time.Second
	DefaultCursorRateLimit  = 30 // broadcasts per second per user
	DefaultSelectionLockTTL = 5 * time.Minute
)

// Options configures a Manager. The zero value selects the defaults.
type Options struct {
	// IdleThreshold is how long without activity before a user flips to idle.
	IdleThreshold time.Duration

	// CursorRateLimit caps cursor broadcasts per user per second. Updates
	// above the limit still store the latest position but are not broadcast.
	CursorRateLimit int

	// SelectionLockTTL is the expiry applied to shared locks acquired
	// implicitly by selection.
	SelectionLockTTL time.Duration

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

func (o *Options) withDefaults() Options {
	opts := Options{}
	if o != nil {
		opts = *o
	}
	if opts.IdleThreshold <= 0 {
		opts.IdleThreshold = DefaultIdleThreshold
	}
	if opts.CursorRateLimit <= 0 {
		opts.CursorRateLimit = DefaultCursorRateLimit
	}
	if opts.SelectionLockTTL <= 0 {
		opts.SelectionLockTTL = DefaultSelectionLockTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return opts
}

// Manager tracks per-user presence and arbitrates object locks for one
// document. All state is mutated under a single mutex; background sweeps and
// foreground requests serialize through it. The manager is safe for
// concurrent use.
type Manager struct {
	mu          sync.Mutex
	documentID  string
	broadcaster collab.Broadcaster
	opts        Options

	presences map[string]*collab.UserPresence
	locks     map[string]*collab.ObjectLock
	waiting   map[string][]*lockRequest

	// selectionHolds marks, per user, the objects whose shared lock exists
	// only because the user selected them. Deselection may release these and
	// nothing else; an explicit Acquire on the same object clears the mark.
	selectionHolds map[string]map[string]bool

	lastCursorBroadcast map[string]time.Time
}

// lockRequest is a queued lock acquisition waiting for the object to free up.
type lockRequest struct {
	userID   string
	lockType collab.LockType
	ttl      time.Duration
	queuedAt time.Time
}

// NewManager creates a presence and lock manager for one document.
// A nil broadcaster falls back to logging.
func NewManager(documentID string, broadcaster collab.Broadcaster, opts *Options) *Manager {
	if broadcaster == nil {
		broadcaster = collab.LogBroadcaster{}
	}
	return &Manager{
		documentID:          documentID,
		broadcaster:         broadcaster,
		opts:                opts.withDefaults(),
		presences:           make(map[string]*collab.UserPresence),
		locks:               make(map[string]*collab.ObjectLock),
		waiting:             make(map[string][]*lockRequest),
		selectionHolds:      make(map[string]map[string]bool),
		lastCursorBroadcast: make(map[string]time.Time),
	}
}

// UpdatePresence creates or refreshes a user's presence record. The first
// update for a user assigns their stable display color and broadcasts a join
// event. Any update counts as activity.
func (m *Manager) UpdatePresence(ctx context.Context, userID, name string) (*collab.UserPresence, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID cannot be empty")
	}

	m.mu.Lock()
	now := m.opts.Clock()

	p, exists := m.presences[userID]
	if !exists {
		p = &collab.UserPresence{
			UserID:          userID,
			Name:            name,
			Color:           UserColor(userID),
			Status:          collab.StatusActive,
			SelectedObjects: []string{},
			LockedObjects:   []string{},
		}
		m.presences[userID] = p
	}
	if name != "" {
		p.Name = name
	}
	m.touchLocked(p, now)
	snapshot := *p
	m.mu.Unlock()

	if !exists {
		m.emit(ctx, collab.EventUserJoined, userID, "", map[string]interface{}{
			"name":  snapshot.Name,
			"color": snapshot.Color,
		})
	}

	return &snapshot, nil
}

// UpdateCursor stores a user's cursor position and viewport. Updates arriving
// faster than the rate limit keep the stored position current but are not
// broadcast, so a fast mouse cannot cause a broadcast storm.
func (m *Manager) UpdateCursor(ctx context.Context, userID string, pos collab.Point3D, viewport *collab.Viewport) error {
	m.mu.Lock()
	p, ok := m.presences[userID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("no presence for user %s", userID)
	}

	now := m.opts.Clock()
	p.CursorPosition = &pos
	if viewport != nil {
		p.Viewport = viewport
	}
	m.touchLocked(p, now)

	interval := time.Second / time.Duration(m.opts.CursorRateLimit)
	broadcast := now.Sub(m.lastCursorBroadcast[userID]) >= interval
	if broadcast {
		m.lastCursorBroadcast[userID] = now
	}
	m.mu.Unlock()

	if broadcast {
		m.emit(ctx, collab.EventCursorMoved, userID, "", map[string]interface{}{
			"position": pos,
		})
	}

	return nil
}

// Select replaces a user's selection set, implicitly acquiring a shared lock
// on each newly selected object and releasing the shared locks of deselected
// ones. Objects exclusively locked by another user are silently excluded from
// the resulting selection. Returns the granted selection.
func (m *Manager) Select(ctx context.Context, userID string, objectIDs []string) ([]string, error) {
	m.mu.Lock()
	p, ok := m.presences[userID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("no presence for user %s", userID)
	}

	now := m.opts.Clock()

	requested := make(map[string]bool, len(objectIDs))
	for _, id := range objectIDs {
		requested[id] = true
	}

	// Release the shared locks this user's selection itself acquired on
	// objects leaving the selection. Explicitly acquired locks survive
	// deselection; only an explicit Release or expiry takes those.
	var freed []string
	var grants []queueGrant
	for _, id := range p.SelectedObjects {
		if requested[id] || !m.selectionHolds[userID][id] {
			continue
		}
		delete(m.selectionHolds[userID], id)
		if lock, exists := m.locks[id]; exists && lock.LockType == collab.LockShared {
			if m.releaseLocked(id, userID) {
				freed = append(freed, id)
				grants = append(grants, m.grantsFor(id)...)
			}
		}
	}

	// Acquire shared locks for the new selection. Contended objects are
	// excluded rather than queued: a selection is a lightweight intent, not
	// a claim worth waiting on. Objects the user already holds a lock on are
	// selected as-is; the selection TTL never touches an explicit lock.
	granted := make([]string, 0, len(objectIDs))
	for _, id := range objectIDs {
		if lock, exists := m.locks[id]; exists && lock.HeldBy(userID) {
			granted = append(granted, id)
			if m.selectionHolds[userID][id] && lock.LockType == collab.LockShared {
				m.extendSelectionHoldLocked(lock, now)
			}
			continue
		}
		if m.acquireLocked(id, userID, collab.LockShared, m.opts.SelectionLockTTL, now) {
			granted = append(granted, id)
			m.markSelectionHoldLocked(userID, id)
		}
	}

	p.SelectedObjects = granted
	m.refreshLockedObjects(p)
	for _, g := range grants {
		if holder, ok := m.presences[g.userID]; ok {
			m.refreshLockedObjects(holder)
		}
	}
	m.touchLocked(p, now)
	m.mu.Unlock()

	for _, id := range freed {
		m.emit(ctx, collab.EventLockReleased, userID, id, nil)
	}
	m.emitGrants(ctx, grants)
	m.emit(ctx, collab.EventSelectionChanged, userID, "", map[string]interface{}{
		"selected_objects": granted,
	})

	return granted, nil
}

// markSelectionHoldLocked records that a user's hold on an object exists only
// through their selection. Callers hold m.mu.
func (m *Manager) markSelectionHoldLocked(userID, objectID string) {
	holds := m.selectionHolds[userID]
	if holds == nil {
		holds = make(map[string]bool)
		m.selectionHolds[userID] = holds
	}
	holds[objectID] = true
}

// extendSelectionHoldLocked pushes a selection-held shared lock's expiry out
// to a fresh selection TTL. A lock that never expires stays that way, and an
// expiry further out than the selection TTL is never pulled in. Callers hold
// m.mu.
func (m *Manager) extendSelectionHoldLocked(lock *collab.ObjectLock, now time.Time) {
	if lock.ExpiresAt == nil {
		return
	}
	t := now.Add(m.opts.SelectionLockTTL)
	if t.After(*lock.ExpiresAt) {
		lock.ExpiresAt = &t
	}
}

// SetStatus explicitly sets a user's status (for example "away" when the
// client window loses focus).
func (m *Manager) SetStatus(ctx context.Context, userID string, status collab.PresenceStatus) error {
	if err := status.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	p, ok := m.presences[userID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("no presence for user %s", userID)
	}

	changed := p.Status != status
	p.Status = status
	if status == collab.StatusActive {
		p.LastActivity = m.opts.Clock()
	}
	m.mu.Unlock()

	if changed {
		m.emit(ctx, collab.EventStatusChanged, userID, "", map[string]interface{}{
			"status": string(status),
		})
	}

	return nil
}

// Remove drops a user from the document, releasing every lock they hold and
// replaying the affected wait queues.
func (m *Manager) Remove(ctx context.Context, userID string) {
	m.mu.Lock()
	_, known := m.presences[userID]
	delete(m.presences, userID)
	delete(m.lastCursorBroadcast, userID)
	delete(m.selectionHolds, userID)

	var freed []string
	var grants []queueGrant
	for objectID, lock := range m.locks {
		if lock.HeldBy(userID) {
			if m.releaseLocked(objectID, userID) {
				freed = append(freed, objectID)
				grants = append(grants, m.grantsFor(objectID)...)
			}
		}
	}
	for _, g := range grants {
		if holder, ok := m.presences[g.userID]; ok {
			m.refreshLockedObjects(holder)
		}
	}
	m.mu.Unlock()

	if !known {
		return
	}

	for _, objectID := range freed {
		m.emit(ctx, collab.EventLockReleased, userID, objectID, nil)
	}
	m.emitGrants(ctx, grants)
	m.emit(ctx, collab.EventUserLeft, userID, "", nil)
}

// Presence returns a copy of one user's presence record.
func (m *Manager) Presence(userID string) (*collab.UserPresence, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.presences[userID]
	if !ok {
		return nil, false
	}
	snapshot := *p
	return &snapshot, true
}

// Presences returns a copy of every presence record, sorted by user ID so
// output is stable.
func (m *Manager) Presences() []*collab.UserPresence {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*collab.UserPresence, 0, len(m.presences))
	for _, p := range m.presences {
		snapshot := *p
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// SweepIdle flips users whose last activity is older than the idle threshold
// from active to idle. Returns how many users changed status.
func (m *Manager) SweepIdle(ctx context.Context) int {
	m.mu.Lock()
	now := m.opts.Clock()
	var flipped []string
	for _, p := range m.presences {
		if p.Status == collab.StatusActive && now.Sub(p.LastActivity) > m.opts.IdleThreshold {
			p.Status = collab.StatusIdle
			flipped = append(flipped, p.UserID)
		}
	}
	m.mu.Unlock()

	for _, userID := range flipped {
		m.emit(ctx, collab.EventStatusChanged, userID, "", map[string]interface{}{
			"status": string(collab.StatusIdle),
		})
	}
	return len(flipped)
}

// touchLocked records activity for a user, flipping idle users back to
// active. Callers hold m.mu.
func (m *Manager) touchLocked(p *collab.UserPresence, now time.Time) {
	p.LastActivity = now
	if p.Status == collab.StatusIdle {
		p.Status = collab.StatusActive
	}
}

// refreshLockedObjects recomputes a presence record's held-lock list from the
// lock table. Callers hold m.mu.
func (m *Manager) refreshLockedObjects(p *collab.UserPresence) {
	held := []string{}
	for objectID, lock := range m.locks {
		if lock.HeldBy(p.UserID) {
			held = append(held, objectID)
		}
	}
	sort.Strings(held)
	p.LockedObjects = held
}

func (m *Manager) emit(ctx context.Context, eventType collab.EventType, userID, objectID string, payload map[string]interface{}) {
	event := &collab.Event{
		Type:       eventType,
		DocumentID: m.documentID,
		UserID:     userID,
		ObjectID:   objectID,
		Payload:    payload,
		Timestamp:  m.opts.Clock(),
	}
	if err := m.broadcaster.Broadcast(ctx, event); err != nil {
		log.Printf("[Presence] failed to broadcast %s for doc %s: %v", eventType, m.documentID, err)
	}
}
