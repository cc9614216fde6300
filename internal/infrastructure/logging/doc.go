// Package logging provides structured logging for the station simulator.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across every component.
//
// # Features
//
//   - Text output for interactive runs (human-readable, default)
//   - JSON output for log shippers (machine-parsable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error); the upper-case
//     names of the reference simulator (DEBUG, INFO, WARNING, ERROR,
//     CRITICAL) are accepted too
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "stderr"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("published", "topic", topic, "bytes", n)
//	logger.Error("reconnect failed", "error", err)
//
// Never log broker passwords or InfluxDB tokens.
package logging
