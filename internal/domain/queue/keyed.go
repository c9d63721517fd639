package queue

import "sync"

// KeyedFIFO is an unbounded per-key FIFO. Entries for the same key are
// strictly ordered; entries for different keys have no ordering
// relationship. There is deliberately no capacity limit.
type KeyedFIFO[K comparable, V any] struct {
	mu     sync.Mutex
	queues map[K][]V
}

// NewKeyedFIFO creates an empty keyed FIFO
func NewKeyedFIFO[K comparable, V any]() *KeyedFIFO[K, V] {
	return &KeyedFIFO[K, V]{queues: make(map[K][]V)}
}

// Enqueue appends unconditionally to the key's list, creating it if absent
func (q *KeyedFIFO[K, V]) Enqueue(key K, value V) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[key] = append(q.queues[key], value)
}

// Dequeue pops the oldest entry for the key, or returns false when empty
func (q *KeyedFIFO[K, V]) Dequeue(key K) (V, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.queues[key]
	if len(entries) == 0 {
		var zero V
		return zero, false
	}

	value := entries[0]
	if len(entries) == 1 {
		delete(q.queues, key)
	} else {
		q.queues[key] = entries[1:]
	}
	return value, true
}

// Size returns the number of entries queued for the key
func (q *KeyedFIFO[K, V]) Size(key K) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[key])
}

// TotalSize returns the number of entries across all keys
func (q *KeyedFIFO[K, V]) TotalSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	total := 0
	for _, entries := range q.queues {
		total += len(entries)
	}
	return total
}

// Keys returns the keys that currently have queued entries
func (q *KeyedFIFO[K, V]) Keys() []K {
	q.mu.Lock()
	defer q.mu.Unlock()

	keys := make([]K, 0, len(q.queues))
	for key := range q.queues {
		keys = append(keys, key)
	}
	return keys
}

// Rekey moves all entries from oldKey to the front of newKey's list,
// preserving their relative order. Used when a group's root changes.
func (q *KeyedFIFO[K, V]) Rekey(oldKey, newKey K) {
	q.mu.Lock()
	defer q.mu.Unlock()

	moved := q.queues[oldKey]
	if len(moved) == 0 {
		return
	}
	delete(q.queues, oldKey)
	q.queues[newKey] = append(moved, q.queues[newKey]...)
}

// Clear drops all entries for all keys
func (q *KeyedFIFO[K, V]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues = make(map[K][]V)
}
