// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for human readability
//
// Example:
//
//	logger := logging.NewDefault()
//	logger.Info("Scheduler started", zap.Int("limiter_capacity", 8))
//	logger.Error("Interrupt failed", zap.Error(err))
package logging
