// Package pool is the orchestrator at the center of the workspace: it
// accepts tasks, routes each one to the right agent, tracks in-flight
// work, and drains everything in a strict order on reset.
//
// Routing rules:
//   - A main task runs on the singleton main agent when it is idle. When
//     the main agent is busy, the task overflows to a one-shot ephemeral
//     agent whose output is deferred onto a shared timeline the main agent
//     consumes on its next turn. When no agent slot is free either, the
//     task queues on the bounded main queue.
//   - A window task runs on the agent owned by the window's group,
//     creating one on first use. Tasks for the same group are strictly
//     serialized; different groups run concurrently, bounded overall by
//     the agent limiter.
//
// Reset follows a fixed order: reject new submissions, interrupt every
// session (best-effort), await in-flight drain, dispose sessions, then
// clear queues, groups, and limiter waiters.
package pool
