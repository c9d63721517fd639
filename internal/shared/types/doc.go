// Package types defines shared domain types used across the orchestrator:
// tasks submitted to the scheduler, conversation turns, and the channel
// source tag that distinguishes the main thread from window threads.
package types
