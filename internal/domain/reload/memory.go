package reload

import (
	"strings"
	"sync"
)

// MemoryStore is the in-process cache backend. Entries are held in append
// order; FindMatches scans for exact, prefix, or substring fingerprint
// matches.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends an entry
func (s *MemoryStore) Record(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// FindMatches returns entries whose fingerprint contains the query as a
// prefix or substring, in insertion order
func (s *MemoryStore) FindMatches(fingerprint string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, entry := range s.entries {
		if strings.Contains(entry.Fingerprint, fingerprint) {
			out = append(out, entry)
		}
	}
	return out
}

// Len returns the number of recorded entries
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
