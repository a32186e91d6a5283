package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/tandemcad/tandem/pkg/collab"
)

// PollForLockGrant polls the Redis projection until a user appears among the
// holders of an object's lock. Returns the observed lock or an error if the
// timeout elapses. Polls every 200ms for the specified timeout duration.
//
// The projection trails the authority by up to one mirror sync interval, so
// this is a convenience for CLI scripting, not a correctness primitive.
func PollForLockGrant(ctx context.Context, mirror *collab.Mirror, documentID, objectID, userID string, timeout time.Duration) (*collab.ObjectLock, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for lock grant after %v", timeout)

		case <-ticker.C:
			locks, err := mirror.ReadLocks(ctx, documentID)
			if err != nil {
				if collab.IsNotFound(err) {
					// Projection not written yet, continue polling
					continue
				}
				return nil, fmt.Errorf("failed to read lock projection: %w", err)
			}

			for _, lock := range locks {
				if lock.ObjectID == objectID && lock.HeldBy(userID) {
					return lock, nil
				}
			}
		}
	}
}
