// Package http exposes the orchestrator's REST surface: message
// submission for the main and window channels, window lifecycle,
// steering, reset, and introspection endpoints.
package http
