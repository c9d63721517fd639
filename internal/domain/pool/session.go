package pool

import (
	"context"

	"github.com/sorryhyun/yaar/internal/shared/types"
)

// Message is one streamed unit of agent output. The pool never inspects
// content beyond appending it to the tape.
type Message struct {
	Role    types.Role `json:"role"`
	Content string     `json:"content"`
}

// QueryOptions carries per-turn options into the session
type QueryOptions struct {
	Images []string
}

// AgentSession is the opaque capability provided by a transport/provider
// layer. The pool owns session lifecycles but never the protocol.
type AgentSession interface {
	// Query starts a turn and streams the agent's output. The returned
	// channel is closed when the turn ends.
	Query(ctx context.Context, prompt string, opts QueryOptions) (<-chan Message, error)
	// Steer injects input into an in-progress turn; reports whether the
	// session accepted it
	Steer(text string) bool
	// Interrupt signals the in-flight turn to stop producing output. The
	// session is not disposed until Dispose is called separately.
	Interrupt() error
	// Dispose releases the session's underlying resources
	Dispose() error
}

// SlotKind classifies an agent slot
type SlotKind string

const (
	SlotMain      SlotKind = "main"
	SlotEphemeral SlotKind = "ephemeral"
	SlotWindow    SlotKind = "window"
)

// SessionFactory creates agent sessions. initialContext is the prompt
// preamble assembled for the new agent (empty for the main agent, the
// recent-conversation block for window agents).
type SessionFactory func(kind SlotKind, initialContext string) (AgentSession, error)
