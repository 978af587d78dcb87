// Package distlock provides a distributed lock used to keep scheduler ticks
// from interleaving when more than one control-plane process runs against the
// same store. When Redis is not configured, NoopLock keeps the single-process
// path lock-free.
package distlock

import (
	"context"
	"time"
)

// Lock is a best-effort mutual exclusion primitive with a TTL.
type Lock interface {
	// Acquire tries to take the lock. Returns true on success.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if still owned.
	Release(ctx context.Context) error
	// Extend pushes the TTL out for long-running holders.
	Extend(ctx context.Context, ttl time.Duration) error
}

// NoopLock always acquires. Used when no Redis address is configured and the
// service is the only writer.
type NoopLock struct{}

func (NoopLock) Acquire(ctx context.Context) (bool, error)          { return true, nil }
func (NoopLock) Release(ctx context.Context) error                  { return nil }
func (NoopLock) Extend(ctx context.Context, ttl time.Duration) error { return nil }
