// Package logging constructs the process-wide zerolog root logger.
// Components derive their own child loggers via
// logger.With().Str("component", "...").Logger().
package logging

import (
	"os"
	"strings"
	"time"

	"deriv-trading-bot/config"

	"github.com/rs/zerolog"
)

// New builds the root logger from config. JSON output by default; the
// console writer is for local development only.
func New(cfg config.LoggingConfig, instanceID string) zerolog.Logger {
	level := parseLevel(cfg.Level)

	var logger zerolog.Logger
	if cfg.JSONFormat {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger.Level(level).With().
		Timestamp().
		Str("instance", instanceID).
		Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
