package session

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/tandemcad/tandem/internal/config"
	"github.com/tandemcad/tandem/internal/offline"
	"github.com/tandemcad/tandem/pkg/collab"
)

// Manager hands out one Session per document, creating it on first use and
// running its background loops until Close.
type Manager struct {
	mu       sync.RWMutex
	cfg      *config.TandemConfig
	applier  offline.Applier
	mirror   *collab.Mirror
	sessions map[string]*managedSession
	closed   bool
}

type managedSession struct {
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager creates a session manager. The applier and mirror are shared by
// every session it creates; either may be nil.
func NewManager(cfg *config.TandemConfig, applier offline.Applier, mirror *collab.Mirror) *Manager {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Manager{
		cfg:      cfg,
		applier:  applier,
		mirror:   mirror,
		sessions: make(map[string]*managedSession),
	}
}

// GetOrCreate returns the session for a document, creating and starting it if
// this is the first request for that document.
func (m *Manager) GetOrCreate(documentID string) (*Session, error) {
	if documentID == "" {
		return nil, fmt.Errorf("document ID cannot be empty")
	}

	m.mu.RLock()
	if ms, ok := m.sessions[documentID]; ok {
		m.mu.RUnlock()
		return ms.session, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("session manager is closed")
	}
	// Another caller may have won the race between the two locks.
	if ms, ok := m.sessions[documentID]; ok {
		return ms.session, nil
	}

	s := New(documentID, m.cfg, m.applier, m.mirror)
	ctx, cancel := context.WithCancel(context.Background())
	ms := &managedSession{session: s, cancel: cancel, done: make(chan struct{})}
	m.sessions[documentID] = ms

	go func() {
		defer close(ms.done)
		if err := s.Run(ctx); err != nil {
			log.Printf("[SessionManager] session for doc %s exited: %v", documentID, err)
		}
	}()

	return s, nil
}

// Get returns the session for a document if one exists.
func (m *Manager) Get(documentID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.sessions[documentID]
	if !ok {
		return nil, false
	}
	return ms.session, true
}

// Close stops every session's background loops and waits for them to exit.
// The manager refuses new sessions afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	stopping := make([]*managedSession, 0, len(m.sessions))
	for _, ms := range m.sessions {
		stopping = append(stopping, ms)
	}
	m.mu.Unlock()

	for _, ms := range stopping {
		ms.cancel()
		<-ms.done
	}
	log.Printf("[SessionManager] closed %d session(s)", len(stopping))
	return nil
}
