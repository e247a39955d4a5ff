// Package logging provides structured logging for the homeapp node.
//
// It wraps log/slog so every entry carries the service name and firmware
// version, and so components can be scoped with a "component" attribute.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("temperature").Info("sensors found", "count", n)
//
// Never log broker passwords or InfluxDB tokens.
package logging
