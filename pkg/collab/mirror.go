package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default projection TTLs. The mirror is refreshed every couple of seconds by
// the session's background loop, so a missed refresh ages out quickly instead
// of serving stale presence forever.
const (
	DefaultPresenceTTL = 60 * time.Second
	DefaultLockTTL     = 300 * time.Second
)

// Mirror maintains the distributed-cache projection of per-document presence
// and lock state, and carries session events over Redis Pub/Sub for
// cross-instance fan-out.
//
// The mirror is eventually consistent and advisory only: every authoritative
// decision (lock grants, sync state) is taken against the single in-memory
// session for the document. The mirror is thread-safe.
type Mirror struct {
	rdb         *redis.Client
	presenceTTL time.Duration
	lockTTL     time.Duration
}

// NewMirror creates a projection mirror over the given Redis connection
// options. Zero TTLs fall back to the defaults (60s presence, 300s locks).
func NewMirror(redisOpts *redis.Options, presenceTTL, lockTTL time.Duration) *Mirror {
	if presenceTTL <= 0 {
		presenceTTL = DefaultPresenceTTL
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &Mirror{
		rdb:         redis.NewClient(redisOpts),
		presenceTTL: presenceTTL,
		lockTTL:     lockTTL,
	}
}

// Close closes the Redis connection. Implements io.Closer.
func (m *Mirror) Close() error {
	return m.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (m *Mirror) Ping(ctx context.Context) error {
	return m.rdb.Ping(ctx).Err()
}

// WritePresence replaces a document's presence projection with the given
// records and refreshes the TTL. An empty set deletes the key.
func (m *Mirror) WritePresence(ctx context.Context, documentID string, presences []*UserPresence) error {
	key := PresenceKey(documentID)

	if len(presences) == 0 {
		if err := m.rdb.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to clear presence projection: %w", err)
		}
		return nil
	}

	hash, err := PresenceToHash(presences)
	if err != nil {
		return fmt.Errorf("failed to serialize presence: %w", err)
	}

	pipe := m.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, hash)
	pipe.Expire(ctx, key, m.presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write presence projection: %w", err)
	}

	return nil
}

// ReadPresence reads a document's presence projection.
// Returns (nil, redis.Nil) if no projection exists. Use IsNotFound to check.
func (m *Mirror) ReadPresence(ctx context.Context, documentID string) ([]*UserPresence, error) {
	key := PresenceKey(documentID)

	hash, err := m.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence projection: %w", err)
	}

	// HGetAll returns an empty map for missing keys
	if len(hash) == 0 {
		return nil, redis.Nil
	}

	presences, err := HashToPresence(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize presence: %w", err)
	}

	return presences, nil
}

// RemovePresence drops a single user from a document's presence projection.
func (m *Mirror) RemovePresence(ctx context.Context, documentID, userID string) error {
	key := PresenceKey(documentID)
	if err := m.rdb.HDel(ctx, key, userID).Err(); err != nil {
		return fmt.Errorf("failed to remove presence for %s: %w", userID, err)
	}
	return nil
}

// WriteLocks replaces a document's lock projection with the given records and
// refreshes the TTL. An empty set deletes the key.
func (m *Mirror) WriteLocks(ctx context.Context, documentID string, locks []*ObjectLock) error {
	key := LocksKey(documentID)

	if len(locks) == 0 {
		if err := m.rdb.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to clear lock projection: %w", err)
		}
		return nil
	}

	hash, err := LocksToHash(locks)
	if err != nil {
		return fmt.Errorf("failed to serialize locks: %w", err)
	}

	pipe := m.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, hash)
	pipe.Expire(ctx, key, m.lockTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write lock projection: %w", err)
	}

	return nil
}

// ReadLocks reads a document's lock projection.
// Returns (nil, redis.Nil) if no projection exists.
func (m *Mirror) ReadLocks(ctx context.Context, documentID string) ([]*ObjectLock, error) {
	key := LocksKey(documentID)

	hash, err := m.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read lock projection: %w", err)
	}

	if len(hash) == 0 {
		return nil, redis.Nil
	}

	locks, err := HashToLocks(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize locks: %w", err)
	}

	return locks, nil
}

// Broadcast publishes a session event to the document's events channel.
// Implements Broadcaster, so a Mirror can be wired directly as a session's
// outbound event sink.
func (m *Mirror) Broadcast(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("nil event")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := EventsChannel(event.DocumentID)
	if err := m.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Subscription represents an active Pub/Sub subscription to a document's
// session events. Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *Event
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of session events.
// The channel is closed when the subscription is closed or the context is
// cancelled.
func (s *Subscription) Events() <-chan *Event {
	return s.events
}

// Errors returns the channel of subscription errors. Errors are non-fatal
// (bad payloads are skipped); the subscription continues after an error.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeEvents subscribes to a document's session events.
// Events are delivered on a buffered channel (size 16); Redis Pub/Sub is
// at-most-once, so a slow subscriber may miss events.
func (m *Mirror) SubscribeEvents(ctx context.Context, documentID string) (*Subscription, error) {
	channel := EventsChannel(documentID)
	pubsub := m.rdb.Subscribe(ctx, channel)

	eventsChan := make(chan *Event, 16)
	errorsChan := make(chan error, 16)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error
// (redis.Nil). Use this to check ReadPresence/ReadLocks results.
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
