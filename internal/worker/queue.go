package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/yinz628/email-filter-sub001/internal/pkg/logger"
)

// OverflowPolicy selects what Enqueue does on a full queue.
type OverflowPolicy string

const (
	// OverflowBlock makes Enqueue wait for space or context cancellation.
	OverflowBlock OverflowPolicy = "block"
	// OverflowDrop makes Enqueue discard the envelope immediately.
	OverflowDrop OverflowPolicy = "drop"
)

var (
	ErrQueueFull   = errors.New("task queue full")
	ErrQueueClosed = errors.New("task queue closed")
)

// Queue is the bounded FIFO between the synchronous filter path and the
// drainer. The channel is never closed; shutdown is signalled through the
// closed flag so racing producers cannot panic.
type Queue struct {
	ch      chan Envelope
	policy  OverflowPolicy
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewQueue creates a queue with the given capacity and overflow policy.
func NewQueue(capacity int, policy OverflowPolicy) *Queue {
	if capacity <= 0 {
		capacity = 10000
	}
	if policy != OverflowBlock {
		policy = OverflowDrop
	}
	return &Queue{ch: make(chan Envelope, capacity), policy: policy}
}

// Enqueue adds one envelope, stamping its id and enqueue time when unset.
// With the drop policy a full queue returns ErrQueueFull; with the block
// policy Enqueue waits for space or ctx cancellation.
func (q *Queue) Enqueue(ctx context.Context, e Envelope) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return ErrQueueClosed
	}

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}

	if q.policy == OverflowBlock {
		select {
		case q.ch <- e:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case q.ch <- e:
		return nil
	default:
		n := q.dropped.Add(1)
		logger.Warn("task envelope dropped", "type", string(e.Type), "total_dropped", n)
		return ErrQueueFull
	}
}

// Close stops accepting new envelopes. Queued envelopes remain drainable.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Len is the current queue depth.
func (q *Queue) Len() int { return len(q.ch) }

// Dropped is the total number of envelopes rejected under the drop policy.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }
