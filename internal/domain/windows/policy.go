package windows

import "sync"

// CloseResult reports what should happen to a group's agent after a
// window closes
type CloseResult struct {
	// ShouldDisposeAgent is true when the closed window was the last
	// member of its group (or stand-alone)
	ShouldDisposeAgent bool
	// NewRoot is set when the root closed and a survivor was promoted
	NewRoot string
}

// ConnectionPolicy maintains the window grouping state: a root pointer per
// member window plus the member set per root. Every window belongs to at
// most one group; windows with no recorded relation have no entry.
type ConnectionPolicy struct {
	mu      sync.RWMutex
	rootOf  map[string]string          // windowID -> rootID
	members map[string]map[string]bool // rootID -> member set
}

// NewConnectionPolicy creates an empty policy
func NewConnectionPolicy() *ConnectionPolicy {
	return &ConnectionPolicy{
		rootOf:  make(map[string]string),
		members: make(map[string]map[string]bool),
	}
}

// ConnectWindow records that parent spawned child. If the parent has no
// group yet, a new group rooted at the parent is created. Chained calls
// are transitive: if B was created by A and C by B, C joins A's group.
func (p *ConnectionPolicy) ConnectWindow(parentID, childID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	root, ok := p.rootOf[parentID]
	if !ok {
		root = parentID
		p.rootOf[parentID] = root
		p.members[root] = map[string]bool{parentID: true}
	}

	p.rootOf[childID] = root
	p.members[root][childID] = true
}

// GetGroupID returns the group's root id, or false for a stand-alone window
func (p *ConnectionPolicy) GetGroupID(windowID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	root, ok := p.rootOf[windowID]
	return root, ok
}

// GetRoot is an alias for GetGroupID; the group id is its root's window id
func (p *ConnectionPolicy) GetRoot(windowID string) (string, bool) {
	return p.GetGroupID(windowID)
}

// GetGroupWindows returns a copy of the member set for the given window's
// group. Callers can never mutate internal state through the result.
func (p *ConnectionPolicy) GetGroupWindows(windowID string) map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	root, ok := p.rootOf[windowID]
	if !ok {
		return map[string]bool{}
	}

	out := make(map[string]bool, len(p.members[root]))
	for id := range p.members[root] {
		out[id] = true
	}
	return out
}

// HandleClose removes the window from its group and decides whether the
// owning agent should be disposed. Root closures promote the
// lexicographically smallest survivor and rewrite root pointers.
func (p *ConnectionPolicy) HandleClose(windowID string) CloseResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	root, ok := p.rootOf[windowID]
	if !ok {
		// Stand-alone window: nothing shares its agent
		return CloseResult{ShouldDisposeAgent: true}
	}

	delete(p.rootOf, windowID)
	delete(p.members[root], windowID)

	if len(p.members[root]) == 0 {
		delete(p.members, root)
		return CloseResult{ShouldDisposeAgent: true}
	}

	if windowID != root {
		return CloseResult{ShouldDisposeAgent: false}
	}

	// Root closed with survivors: promote the smallest id deterministically
	var newRoot string
	for id := range p.members[root] {
		if newRoot == "" || id < newRoot {
			newRoot = id
		}
	}

	survivors := p.members[root]
	delete(p.members, root)
	p.members[newRoot] = survivors
	for id := range survivors {
		p.rootOf[id] = newRoot
	}

	return CloseResult{ShouldDisposeAgent: false, NewRoot: newRoot}
}

// Clear drops all group state (used on full workspace reset)
func (p *ConnectionPolicy) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rootOf = make(map[string]string)
	p.members = make(map[string]map[string]bool)
}

// Stats contains grouping statistics
type Stats struct {
	Groups         int `json:"groups"`
	GroupedWindows int `json:"grouped_windows"`
}

// Stats returns counts of groups and grouped windows
func (p *ConnectionPolicy) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return Stats{
		Groups:         len(p.members),
		GroupedWindows: len(p.rootOf),
	}
}
