// Package debounce coalesces bursts of inbound message fragments into a single
// conversation turn per sender, using a persistent buffer and a persistent
// per-sender lock so that any number of stateless instances can cooperate.
package debounce

import (
	"context"
	"time"
)

// BufferedMessage is one inbound fragment waiting to be drained.
type BufferedMessage struct {
	ID         int64
	Sender     string
	Text       string
	ReceivedAt time.Time
}

// BufferStore persists fragments until the lock holder drains them.
type BufferStore interface {
	// Append stores a fragment and returns its identifier. Identifiers increase
	// monotonically in arrival order.
	Append(ctx context.Context, sender, text string) (int64, error)
	// Fetch returns every buffered fragment for sender ordered by identifier.
	Fetch(ctx context.Context, sender string) ([]BufferedMessage, error)
	// Delete removes exactly the given fragments.
	Delete(ctx context.Context, ids []int64) error
}

// LockStore holds at most one lock per sender. The lock's existence is the mutex.
type LockStore interface {
	// ReapStale removes locks acquired before olderThan for every sender.
	ReapStale(ctx context.Context, olderThan time.Time) (int64, error)
	// TryAcquire creates the sender's lock if absent. A false result with a nil
	// error means another invocation already holds it.
	TryAcquire(ctx context.Context, sender string, at time.Time) (bool, error)
	Release(ctx context.Context, sender string) error
}

// Processor handles one drained conversation turn.
type Processor interface {
	Process(ctx context.Context, sender, text string) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, sender, text string) error

func (f ProcessorFunc) Process(ctx context.Context, sender, text string) error {
	return f(ctx, sender, text)
}
