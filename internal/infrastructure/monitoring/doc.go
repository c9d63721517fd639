// Package monitoring provides Prometheus metrics for the orchestrator.
//
// Metrics cover the scheduling surface (task submissions and rejections by
// channel), the agent pool (active sessions, limiter pressure, resets),
// the conversation tape, and the HTTP/WebSocket API. All metrics are
// registered via promauto and exposed on /metrics.
package monitoring
