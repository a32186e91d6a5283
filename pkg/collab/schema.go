package collab

import "fmt"

// Redis key pattern helpers
//
// The distributed cache is a read projection for horizontal scaling and crash
// recovery, never the authority for presence or lock decisions. Keys are
// scoped per document:
//
//	presence:{document_id}  - hash of user_id -> presence JSON, short TTL
//	locks:{document_id}     - hash of object_id -> lock JSON, short TTL
//	events:{document_id}    - Pub/Sub channel carrying session events

// PresenceKey returns the Redis key for a document's presence projection.
// Pattern: presence:{document_id}
func PresenceKey(documentID string) string {
	return fmt.Sprintf("presence:%s", documentID)
}

// LocksKey returns the Redis key for a document's lock projection.
// Pattern: locks:{document_id}
func LocksKey(documentID string) string {
	return fmt.Sprintf("locks:%s", documentID)
}

// EventsChannel returns the Pub/Sub channel name for a document's session
// events (cursor moves, selection changes, lock grants, join/leave).
// Pattern: events:{document_id}
func EventsChannel(documentID string) string {
	return fmt.Sprintf("events:%s", documentID)
}
