package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/sorryhyun/yaar/internal/shared/types"
)

// ErrQueueFull is returned when the main queue is at capacity; the caller
// must retry or drop the task
var ErrQueueFull = errors.New("main queue is full")

// DefaultMainCapacity bounds how many main tasks may wait behind the
// running one
const DefaultMainCapacity = 3

// MainQueue is the bounded FIFO for the single main channel
type MainQueue struct {
	mu       sync.Mutex
	entries  []types.QueueEntry
	capacity int
}

// NewMainQueue creates a queue with the given capacity; non-positive
// capacities fall back to the default
func NewMainQueue(capacity int) *MainQueue {
	if capacity <= 0 {
		capacity = DefaultMainCapacity
	}
	return &MainQueue{capacity: capacity}
}

// CanEnqueue reports whether another task fits
func (q *MainQueue) CanEnqueue() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries) < q.capacity
}

// Enqueue appends a task or fails with ErrQueueFull
func (q *MainQueue) Enqueue(task types.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.capacity {
		return ErrQueueFull
	}
	q.entries = append(q.entries, types.QueueEntry{Task: task, EnqueuedAt: time.Now()})
	return nil
}

// Dequeue pops the oldest entry, or returns false when empty
func (q *MainQueue) Dequeue() (types.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return types.QueueEntry{}, false
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	return entry, true
}

// Len returns the number of queued tasks
func (q *MainQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Clear drops all queued tasks
func (q *MainQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
}
