// Package id provides centralized ID generation for the orchestrator.
//
// ULIDs are used for every identifier the scheduler mints: they sort
// lexicographically by creation time, which keeps agent and task ids
// readable in logs and lets the session log be ordered without extra
// timestamps. Type-specific prefixes (agent_*, task_*, win_*, sess_*)
// make misrouted ids obvious during debugging.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// AgentID identifies a running agent session slot
type AgentID string

// TaskID identifies a scheduled task
type TaskID string

// WindowID identifies a UI window
type WindowID string

// SessionID identifies a persisted workspace session
type SessionID string

const (
	AgentPrefix   = "agent"
	TaskPrefix    = "task"
	WindowPrefix  = "win"
	SessionPrefix = "sess"
	RequestPrefix = "req"
)

// Generator mints ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand entropy
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source,
// useful for deterministic tests
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewAgentID generates a new agent ID
func NewAgentID() AgentID {
	return AgentID(Default().GenerateWithPrefix(AgentPrefix))
}

// NewTaskID generates a new task ID
func NewTaskID() TaskID {
	return TaskID(Default().GenerateWithPrefix(TaskPrefix))
}

// NewWindowID generates a new window ID
func NewWindowID() WindowID {
	return WindowID(Default().GenerateWithPrefix(WindowPrefix))
}

// NewSessionID generates a new session ID
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewRequestID generates a new request ID for tracing
func NewRequestID() string {
	return Default().GenerateWithPrefix(RequestPrefix)
}

func (id AgentID) String() string   { return string(id) }
func (id TaskID) String() string    { return string(id) }
func (id WindowID) String() string  { return string(id) }
func (id SessionID) String() string { return string(id) }

// IsValid checks if an ID string is a valid bare ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Timestamp extracts the creation time from a bare ULID string
func Timestamp(id string) (time.Time, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
