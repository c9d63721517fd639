// Package main is the entry point for the yaar orchestrator server.
//
// The server schedules agent work for a shared AI workspace: a single
// main conversation channel, per-window agent groups, and overflow
// ephemeral agents, all recorded on one conversation tape that is
// persisted as JSONL and restored on restart.
//
// The server provides:
//   - REST API for message submission, window lifecycle, and steering
//   - WebSocket streaming of pool events
//   - Workspace reset with ordered drain
//   - Rate limiting, tracing, and Prometheus metrics
//
// Configuration:
//   - Environment variables (12-factor)
//   - Optional YAML file via -config (overrides env)
//   - Defaults for development
//
// Usage:
//
//	./server -port 8700
//	./server -config /etc/yaar/config.yaml
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown (drains the agent pool)
package main
