// Package log provides the process-wide logging sink used by every driver
// and component constructor. Per spec.md §9 the logging context is an
// explicit constructor parameter, not ambient global mutable state: Init
// only sets the process default that cmd/atbu wires into the drivers at
// startup, and every other package accepts a zerolog.Logger directly.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-default logger, set once by Init.
var Logger zerolog.Logger

// Level names accepted on the CLI --log-level flag.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the process-default logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
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
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger tagging its component of the engine,
// e.g. "classifier", "pipeline", "backupdb".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithBackup creates a child logger tagging the specific backup in progress.
func WithBackup(backupName string) zerolog.Logger {
	return Logger.With().Str("backup", backupName).Logger()
}

// WithStorageDef creates a child logger tagging the storage definition name.
func WithStorageDef(name string) zerolog.Logger {
	return Logger.With().Str("storage_def", name).Logger()
}

// Nop returns a logger that discards everything, useful as a zero-value
// default for constructors and in tests that don't care about output.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
