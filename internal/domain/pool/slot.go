package pool

import "github.com/sorryhyun/yaar/internal/shared/id"

// Slot is one agent seat in the pool. The main slot is a singleton;
// window slots are keyed by their group's root window id; ephemeral
// slots live only for a single overflow turn.
//
// All fields are guarded by the pool mutex. The Session pointer is the
// exception callers must respect: take a local reference under the lock
// before calling into it, so a concurrent reset clearing the slot cannot
// invalidate the call mid-flight.
type Slot struct {
	ID      id.AgentID
	Kind    SlotKind
	Key     string // group root for window slots, empty otherwise
	Busy    bool
	Session AgentSession
}

func newSlot(kind SlotKind, key string) *Slot {
	return &Slot{
		ID:   id.NewAgentID(),
		Kind: kind,
		Key:  key,
	}
}
