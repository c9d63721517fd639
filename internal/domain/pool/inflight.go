package pool

import (
	"context"
	"sync"
)

// inflightTracker counts running turn loops so reset can wait for the
// pool to drain. Await resolves when the count reaches zero; a tracker
// that is already idle resolves immediately.
type inflightTracker struct {
	mu      sync.Mutex
	count   int
	waiters []chan struct{}
}

func newInflightTracker() *inflightTracker {
	return &inflightTracker{}
}

// Enter registers one running loop
func (t *inflightTracker) Enter() {
	t.mu.Lock()
	t.count++
	t.mu.Unlock()
}

// Exit unregisters one loop, resolving all waiters when the count hits
// zero. Each waiter channel is closed exactly once.
func (t *inflightTracker) Exit() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count > 0 {
		t.count--
	}
	if t.count == 0 {
		for _, done := range t.waiters {
			close(done)
		}
		t.waiters = nil
	}
}

// Await blocks until the count reaches zero or the context is cancelled
func (t *inflightTracker) Await(ctx context.Context) error {
	t.mu.Lock()
	if t.count == 0 {
		t.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	t.waiters = append(t.waiters, done)
	t.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Count returns the current number of running loops
func (t *inflightTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
