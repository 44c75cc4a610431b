package fanout

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds the number of concurrently-active outbound backend calls.
// One limiter is shared by every connection and every endpoint kind; waiters
// are served in FIFO order and a held slot must be released on every exit
// path, including timeout and transport error.
type Limiter struct {
	sem *semaphore.Weighted
	cap int
}

// NewLimiter creates a limiter admitting at most n concurrent calls.
func NewLimiter(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), cap: n}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// Release frees a previously acquired slot.
func (l *Limiter) Release() {
	l.sem.Release(1)
}

// Cap returns the configured concurrency ceiling.
func (l *Limiter) Cap() int {
	return l.cap
}
