package worker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEnqueueStampsEnvelope(t *testing.T) {
	q := NewQueue(4, OverflowDrop)
	if err := q.Enqueue(context.Background(), Envelope{Type: TaskLog, Data: LogTask{}}); err != nil {
		t.Fatal(err)
	}
	e := <-q.ch
	if e.ID == "" {
		t.Error("envelope id not stamped")
	}
	if e.EnqueuedAt.IsZero() {
		t.Error("enqueue time not stamped")
	}
}

func TestEnqueueDropPolicy(t *testing.T) {
	q := NewQueue(2, OverflowDrop)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := q.Enqueue(ctx, Envelope{Type: TaskLog}); err != nil {
			t.Fatal(err)
		}
	}
	err := q.Enqueue(ctx, Envelope{Type: TaskLog})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if q.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", q.Dropped())
	}
	if q.Len() != 2 {
		t.Errorf("Len = %d, want 2", q.Len())
	}
}

func TestEnqueueBlockPolicyWaitsForSpace(t *testing.T) {
	q := NewQueue(1, OverflowBlock)
	ctx := context.Background()
	if err := q.Enqueue(ctx, Envelope{Type: TaskLog}); err != nil {
		t.Fatal(err)
	}

	// Full queue plus an expiring context: Enqueue returns the context error.
	expired, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(expired, Envelope{Type: TaskLog})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	// Space frees up: a concurrent consumer unblocks the producer.
	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(ctx, Envelope{Type: TaskLog})
	}()
	time.Sleep(10 * time.Millisecond)
	<-q.ch
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("blocked enqueue: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue never unblocked")
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	q := NewQueue(4, OverflowDrop)
	ctx := context.Background()
	if err := q.Enqueue(ctx, Envelope{Type: TaskLog}); err != nil {
		t.Fatal(err)
	}

	q.Close()
	if err := q.Enqueue(ctx, Envelope{Type: TaskLog}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err = %v, want ErrQueueClosed", err)
	}
	// Already-queued envelopes stay drainable.
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}
}

func TestNewQueueDefaults(t *testing.T) {
	q := NewQueue(0, OverflowPolicy("bogus"))
	if cap(q.ch) != 10000 {
		t.Errorf("default capacity = %d", cap(q.ch))
	}
	if q.policy != OverflowDrop {
		t.Errorf("default policy = %s", q.policy)
	}
}
