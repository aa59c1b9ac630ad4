// Package logging provides structured logging for the shims service.
//
// It wraps log/slog so every entry carries the service name and version.
// Other packages depend on a narrow Debug/Info/Warn/Error interface of
// their own, which *Logger satisfies.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("worker started", "poll_interval", cfg.GetPollInterval())
//
// Never log secrets, tokens or passwords.
package logging
