// Package queue provides the two FIFO policies used by the scheduler: a
// bounded queue for the single main channel, where surplus tasks are
// rejected so the user gets immediate backpressure, and an unbounded
// per-key queue for window channels, where dropping a user-scoped task
// would break the UI flow.
package queue
