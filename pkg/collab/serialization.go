package collab

import (
	"encoding/json"
	"fmt"
)

// Serialization helpers for the Redis projection
//
// Presence and lock projections are stored as Redis hashes keyed by user ID
// and object ID respectively. Hash values are JSON-encoded records: the
// projection is read by other instances and by operator tooling, so the wire
// form must stay self-describing.

// PresenceToHash converts a set of presence records to Redis hash format
// (user_id -> presence JSON).
func PresenceToHash(presences []*UserPresence) (map[string]interface{}, error) {
	hash := make(map[string]interface{}, len(presences))
	for _, p := range presences {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid presence: %w", err)
		}
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal presence for %s: %w", p.UserID, err)
		}
		hash[p.UserID] = string(data)
	}
	return hash, nil
}

// HashToPresence converts a Redis hash back to presence records.
func HashToPresence(hash map[string]string) ([]*UserPresence, error) {
	presences := make([]*UserPresence, 0, len(hash))
	for userID, raw := range hash {
		var p UserPresence
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal presence for %s: %w", userID, err)
		}
		presences = append(presences, &p)
	}
	return presences, nil
}

// LocksToHash converts a set of lock records to Redis hash format
// (object_id -> lock JSON).
func LocksToHash(locks []*ObjectLock) (map[string]interface{}, error) {
	hash := make(map[string]interface{}, len(locks))
	for _, l := range locks {
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("invalid lock: %w", err)
		}
		data, err := json.Marshal(l)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal lock for %s: %w", l.ObjectID, err)
		}
		hash[l.ObjectID] = string(data)
	}
	return hash, nil
}

// HashToLocks converts a Redis hash back to lock records.
func HashToLocks(hash map[string]string) ([]*ObjectLock, error) {
	locks := make([]*ObjectLock, 0, len(hash))
	for objectID, raw := range hash {
		var l ObjectLock
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			return nil, fmt.Errorf("failed to unmarshal lock for %s: %w", objectID, err)
		}
		locks = append(locks, &l)
	}
	return locks, nil
}
