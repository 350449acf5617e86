// Package logging provides structured logging for the fleet daemon.
//
// This package wraps zap logger with convenience functions for common logging
// patterns used throughout the daemon: staging and delivery of device
// configuration, broker traffic, and acknowledgment tracking.
//
// # Log Levels
//
//   - Debug: detailed debugging info (alias filtering, cache mutations)
//   - Info: normal operations (deliveries, commits, acknowledgments)
//   - Warn: non-fatal issues (uninitialized caches, duplicate acks, retries)
//   - Error: fatal issues (startup failures, broker loss)
//
// # Structured Logging
//
// All log functions use structured fields for queryability:
//
//	logging.Info("settings delivered",
//	    zap.String("device_id", "OTSM-0114"),
//	    zap.String("command_id", id),
//	)
//
// # Configuration
//
// Initialize logging at daemon startup:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// CLI commands that want silent mode by default should use
// InitializeFromEnv, which honors SUBTRONIC_LOG_LEVEL.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. The underlying zap
// logger handles synchronization automatically.
package logging
