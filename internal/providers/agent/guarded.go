package agent

import (
	"github.com/sorryhyun/yaar/internal/domain/pool"
	"github.com/sorryhyun/yaar/internal/infrastructure/resilience"
)

// GuardedFactory wraps a session factory with a circuit breaker.
// Repeated session creation failures trip the breaker so submissions
// fail fast while the agent runtime is down.
func GuardedFactory(inner pool.SessionFactory, breaker *resilience.Breaker) pool.SessionFactory {
	return func(kind pool.SlotKind, initialContext string) (pool.AgentSession, error) {
		var session pool.AgentSession
		err := breaker.Execute(func() error {
			s, ferr := inner(kind, initialContext)
			if ferr != nil {
				return ferr
			}
			session = s
			return nil
		})
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}
