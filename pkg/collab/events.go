package collab

import (
	"context"
	"fmt"
	"log"
	"time"
)

// EventType identifies an outbound session event.
type EventType string

const (
	EventUserJoined       EventType = "user_joined"
	EventUserLeft         EventType = "user_left"
	EventCursorMoved      EventType = "cursor_moved"
	EventSelectionChanged EventType = "selection_changed"
	EventStatusChanged    EventType = "status_changed"
	EventLockGranted      EventType = "lock_granted"
	EventLockQueued       EventType = "lock_queued"
	EventLockReleased     EventType = "lock_released"
	EventOperationApplied EventType = "operation_applied"
	EventConflictQueued   EventType = "conflict_queued"
)

// Event is the payload pushed to the broadcast sink: cursor updates, selection
// changes, lock grants/releases, join/leave and applied operations. The core
// defines the event shapes; the transport that carries them is a deployment
// concern.
type Event struct {
	Type       EventType              `json:"type"`
	DocumentID string                 `json:"document_id"`
	UserID     string                 `json:"user_id,omitempty"`
	ObjectID   string                 `json:"object_id,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Broadcaster is the outbound port for session events. Implementations must
// not block the caller for long: event delivery is advisory and never gates a
// lock or sync decision.
type Broadcaster interface {
	Broadcast(ctx context.Context, event *Event) error
}

// LogBroadcaster writes events to the process log. It is the default sink for
// deployments that have not wired a real transport, and for tests.
type LogBroadcaster struct{}

// Broadcast implements Broadcaster.
func (LogBroadcaster) Broadcast(_ context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("nil event")
	}
	log.Printf("[Broadcast] %s doc=%s user=%s object=%s",
		event.Type, event.DocumentID, event.UserID, event.ObjectID)
	return nil
}
