package decode

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	lerrors "github.com/lumaview/lumaview/pkg/errors"
)

// Limiter caps the number of decodes running at once. Waiters are admitted in
// FIFO order and give up when their context is done.
type Limiter struct {
	sem    *semaphore.Weighted
	size   int64
	active atomic.Int64
	wait   atomic.Int64
}

// NewLimiter creates a limiter admitting n concurrent decodes. n <= 0 means
// runtime.NumCPU().
func NewLimiter(n int) *Limiter {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return &Limiter{
		sem:  semaphore.NewWeighted(int64(n)),
		size: int64(n),
	}
}

// Size returns the concurrency limit.
func (l *Limiter) Size() int {
	return int(l.size)
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.wait.Add(1)
	err := l.sem.Acquire(ctx, 1)
	l.wait.Add(-1)
	if err != nil {
		return lerrors.Canceled(err).WithComponent("decode").WithOperation("acquire")
	}
	l.active.Add(1)
	return nil
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release() {
	l.active.Add(-1)
	l.sem.Release(1)
}

// Active returns the number of decodes holding a slot.
func (l *Limiter) Active() int64 { return l.active.Load() }

// Waiting returns the number of callers blocked in Acquire.
func (l *Limiter) Waiting() int64 { return l.wait.Load() }
