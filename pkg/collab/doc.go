// Package collab defines the shared data model and Redis schema for the
// Tandem collaboration core.
//
// # Overview
//
// Tandem lets several users edit the same 3D CAD document at once. Every
// change travels as an immutable Operation; incompatible concurrent operations
// become Conflicts; presence and lock records track who is looking at or
// holding which objects. This package holds the types every other component
// speaks, plus the projection of that state into Redis.
//
// # Core Concepts
//
// Operations are the fundamental unit of change. They are immutable once
// created: transformation and merging always produce new operations, with
// provenance recorded in the "merged_from" metadata key. Identity is by ID, so
// duplicate delivery of the same operation is a no-op.
//
// Conflicts classify an incompatibility between two concurrent operations
// (deletion, property, position, constraint, ...). Resolutions record how a
// conflict was settled and by which strategy; the resolver keeps them as an
// append-only audit history.
//
// UserPresence and ObjectLock records are owned by the per-document session in
// memory. The session is the single authority: lock-grant decisions are never
// taken from the cache.
//
// # Redis Projection
//
// The Mirror writes short-TTL projections of presence and lock state for
// horizontal read scaling and crash recovery, and carries session events over
// Pub/Sub:
//
//	presence:{document_id}  hash of user_id -> presence JSON (TTL ~60s)
//	locks:{document_id}     hash of object_id -> lock JSON (TTL ~300s)
//	events:{document_id}    Pub/Sub channel of session events
//
// A multi-instance deployment shards by document ID and treats these keys as a
// read projection only - using them for grant decisions would reintroduce
// split-brain locking.
//
// # Usage Example
//
//	op := &collab.Operation{
//		ID:       uuid.New().String(),
//		Kind:     collab.OpMove,
//		ObjectID: "bracket-7",
//		UserID:   "user-a",
//		Timestamp: time.Now(),
//		Parameters: map[string]interface{}{
//			"position": collab.Point3D{X: 10, Y: 0, Z: 2},
//		},
//	}
//	if err := op.Validate(); err != nil {
//		log.Fatal(err)
//	}
package collab
