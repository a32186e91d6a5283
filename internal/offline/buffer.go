// Package offline buffers operations made while disconnected and reconciles
// them against the server's history when the client comes back. The buffer is
// also the server-side applied-operation log that reconnection reads from.
package offline

import (
	"log"
	"sync"

	"github.com/tandemcad/tandem/pkg/collab"
)

// DefaultBufferCapacity bounds how many applied operations are retained for
// replay. A client offline long enough to fall off the end of the buffer gets
// a full resync instead of an incremental one.
const DefaultBufferCapacity = 1024

// Buffer is a capacity-bounded ordered log of operations with an ID index.
// When full it evicts the oldest entry; evictions are counted and logged
// rather than lost silently. Safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	ops      []*collab.Operation
	index    map[string]*collab.Operation
	evicted  uint64
}

// NewBuffer creates a buffer. A non-positive capacity selects the default.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &Buffer{
		capacity: capacity,
		index:    make(map[string]*collab.Operation),
	}
}

// Append adds an operation to the log. Operations whose ID is already present
// are ignored, so replays are idempotent. Returns true if the operation was
// stored.
func (b *Buffer) Append(op *collab.Operation) bool {
	if op == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, dup := b.index[op.ID]; dup {
		return false
	}

	if len(b.ops) >= b.capacity {
		oldest := b.ops[0]
		b.ops = b.ops[1:]
		delete(b.index, oldest.ID)
		b.evicted++
		log.Printf("[Offline] buffer full, evicted oldest operation %s (total evicted: %d)", oldest.ID, b.evicted)
	}

	b.ops = append(b.ops, op)
	b.index[op.ID] = op
	return true
}

// Get looks up a buffered operation by ID.
func (b *Buffer) Get(id string) (*collab.Operation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	op, ok := b.index[id]
	return op, ok
}

// OpsSince returns the buffered operations with a version greater than the
// given one, in log order.
func (b *Buffer) OpsSince(version int64) []*collab.Operation {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*collab.Operation
	for _, op := range b.ops {
		if op.Version > version {
			out = append(out, op)
		}
	}
	return out
}

// OpsBetween returns the buffered operations with from < version <= to.
func (b *Buffer) OpsBetween(from, to int64) []*collab.Operation {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*collab.Operation
	for _, op := range b.ops {
		if op.Version > from && op.Version <= to {
			out = append(out, op)
		}
	}
	return out
}

// Len reports how many operations are currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ops)
}

// Evicted reports how many operations have been dropped to make room.
func (b *Buffer) Evicted() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}
