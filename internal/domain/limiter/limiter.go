// Package limiter bounds how many agent sessions may run concurrently.
//
// It is a counting semaphore with FIFO waiter order and one extra
// operation the scheduler's shutdown path needs: ClearWaiting, which fails
// every queued waiter immediately so blocked callers cannot hang across a
// reset.
package limiter

import (
	"context"
	"sync"
)

// DefaultCapacity is the default number of concurrently running agents
const DefaultCapacity = 8

// Limiter is a counting semaphore over agent slots
type Limiter struct {
	mu       sync.Mutex
	capacity int
	inUse    int
	waiters  []chan error
}

// New creates a limiter; non-positive capacities fall back to the default
func New(capacity int) *Limiter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Limiter{capacity: capacity}
}

// TryAcquire takes a slot without blocking and reports whether one was
// available
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inUse < l.capacity {
		l.inUse++
		return true
	}
	return false
}

// Acquire blocks until a slot is available, the context is cancelled, or
// ClearWaiting fails the caller. Waiters are served in FIFO order.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.inUse < l.capacity {
		l.inUse++
		l.mu.Unlock()
		return nil
	}

	ready := make(chan error, 1)
	l.waiters = append(l.waiters, ready)
	l.mu.Unlock()

	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ready {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// Already dequeued: either a release handed us a slot or
		// ClearWaiting failed us. Resolve the race from the channel.
		if err := <-ready; err != nil {
			return err
		}
		l.Release()
		return ctx.Err()
	}
}

// Release frees one slot, handing it to the oldest waiter if any
func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.waiters) > 0 {
		// Transfer the slot directly; inUse is unchanged
		ready := l.waiters[0]
		l.waiters = l.waiters[1:]
		ready <- nil
		return
	}

	if l.inUse > 0 {
		l.inUse--
	}
}

// ClearWaiting fails every queued waiter with err without freeing any
// slots, and resets the waiter queue. Used during shutdown.
func (l *Limiter) ClearWaiting(err error) {
	l.mu.Lock()
	waiters := l.waiters
	l.waiters = nil
	l.mu.Unlock()

	for _, ready := range waiters {
		ready <- err
	}
}

// WaitingCount returns the number of queued waiters
func (l *Limiter) WaitingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

// InUse returns the number of held slots
func (l *Limiter) InUse() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inUse
}

// Capacity returns the configured slot count
func (l *Limiter) Capacity() int {
	return l.capacity
}
