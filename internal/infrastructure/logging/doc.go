// Package logging provides structured logging for Home Gate Core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the supervisor, proxy, and
// CoAP server processes.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via config.Config.Logging (a config.LoggingConfig
// with level, format and output). config.Load fills it with its defaults
// (level "info", format "json", output "stdout"); serverconf.json is not
// read for logging settings.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8080)
//	logger.Error("failed to connect", "error", err)
//
// # Error handling
//
// Every failure site in this codebase logs through this package with a
// categorized error kind (see internal/apperrors); none swallow errors
// silently.
package logging
