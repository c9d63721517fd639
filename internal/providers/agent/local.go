// Package agent provides agent session runtimes for the pool.
//
// The local runtime is a development stand-in: it acknowledges every
// prompt with a canned streamed reply so the orchestrator's scheduling,
// queueing, and persistence paths can run end to end without an
// external model service. Production deployments inject their own
// pool.SessionFactory instead.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sorryhyun/yaar/internal/domain/pool"
	"github.com/sorryhyun/yaar/internal/shared/types"
)

// ErrDisposed is returned when a disposed session is queried
var ErrDisposed = errors.New("agent session is disposed")

// LocalSession is a loopback agent session for development
type LocalSession struct {
	mu          sync.Mutex
	kind        pool.SlotKind
	initial     string
	steered     []string
	interrupted bool
	disposed    bool
}

// LocalFactory returns a factory minting loopback sessions
func LocalFactory() pool.SessionFactory {
	return func(kind pool.SlotKind, initialContext string) (pool.AgentSession, error) {
		return &LocalSession{kind: kind, initial: initialContext}, nil
	}
}

// Query streams a one-message acknowledgment of the prompt
func (s *LocalSession) Query(ctx context.Context, prompt string, _ pool.QueryOptions) (<-chan pool.Message, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, ErrDisposed
	}
	s.interrupted = false
	steered := len(s.steered)
	kind := s.kind
	s.mu.Unlock()

	out := make(chan pool.Message, 1)
	go func() {
		defer close(out)

		s.mu.Lock()
		cancelled := s.interrupted
		s.mu.Unlock()
		if cancelled {
			return
		}

		reply := fmt.Sprintf("[%s agent] acknowledged: %s", kind, firstLine(prompt))
		if steered > 0 {
			reply += fmt.Sprintf(" (with %d steering notes)", steered)
		}

		select {
		case out <- pool.Message{Role: types.RoleAssistant, Content: reply}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// Steer records the note for the next reply
func (s *LocalSession) Steer(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return false
	}
	s.steered = append(s.steered, text)
	return true
}

// Interrupt stops the in-flight reply
func (s *LocalSession) Interrupt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupted = true
	return nil
}

// Dispose releases the session
func (s *LocalSession) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	return nil
}

// InitialContext returns the context block the session was created with
func (s *LocalSession) InitialContext() string {
	return s.initial
}

func firstLine(prompt string) string {
	if i := strings.IndexByte(prompt, '\n'); i >= 0 {
		return prompt[:i]
	}
	return prompt
}
