// Package logging provides structured logging using uber/zap.
//
// Two modes are available:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Domain components receive a named child via Logger.Component and log
// with the shared field helpers (session_id, cell_id, path, op).
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	log := logger.Component("dispatch")
//	log.Info("cells enqueued", logging.SessionID(sid), zap.Int("count", n))
package logging
