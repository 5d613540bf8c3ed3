// Package slog provides Strata's structured logging, a thin package-level
// wrapper around zerolog. The substrate itself never logs (it has no
// ambient side effects on the hot path); this exists for primitives and
// cmd/strata to report conditions worth surfacing but not worth failing
// an operation over -- an orphaned trace parent, a skipped retention
// sweep, a rejected recovery record.
package slog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance. Init replaces it; until Init is
// called it discards everything, so packages can log unconditionally
// without forcing every embedder to configure logging first.
var Logger = zerolog.New(io.Discard)

// Level is a logging verbosity level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures the global logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init replaces the global logger per cfg.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: output}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with component, for a
// package to attribute its own log lines (e.g. slog.WithComponent("trace")).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
