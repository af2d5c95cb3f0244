// Package limiter bounds the number of simultaneous outbound calls to the
// analytical query service. It is a capacity gate, not a queue: the
// semaphore blocks waiters until a slot frees, with FIFO handoff among
// waiters provided by the underlying semaphore.
package limiter

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent matches the analytical provider's documented
// concurrent-query ceiling. Exceeding it draws HTTP 429s, so the default
// is deliberately conservative.
const DefaultMaxConcurrent = 3

// Limiter caps concurrently in-flight guarded operations.
type Limiter struct {
	sem *semaphore.Weighted
	max int64

	inFlight atomic.Int64
}

// New creates a limiter admitting at most maxConcurrent holders. Values
// below 1 fall back to DefaultMaxConcurrent.
func New(maxConcurrent int) *Limiter {
	if maxConcurrent < 1 {
		maxConcurrent = DefaultMaxConcurrent
	}

	return &Limiter{
		sem: semaphore.NewWeighted(int64(maxConcurrent)),
		max: int64(maxConcurrent),
	}
}

// Acquire blocks until a slot is free or ctx is done. On success the
// caller must Release exactly once, on every path.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	l.inFlight.Add(1)

	return nil
}

// Release frees a slot acquired by Acquire.
func (l *Limiter) Release() {
	l.inFlight.Add(-1)
	l.sem.Release(1)
}

// InFlight returns the number of currently held slots. Instrumentation
// only; the value may be stale by the time the caller reads it.
func (l *Limiter) InFlight() int64 {
	return l.inFlight.Load()
}

// Max returns the configured ceiling.
func (l *Limiter) Max() int64 {
	return l.max
}
