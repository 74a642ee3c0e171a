package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	File   string // optional log file, rotated; empty means stdout only
}

var log = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Init initializes the global logger. With a file configured, output
// goes to both stdout and a rotated file.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var output io.Writer = os.Stdout
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err == nil {
			rotated := &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    100, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			}
			output = io.MultiWriter(os.Stdout, rotated)
		}
	}

	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	log = zerolog.New(output).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
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

// Debug starts a debug-level event.
func Debug() *zerolog.Event { return log.Debug() }

// Info starts an info-level event.
func Info() *zerolog.Event { return log.Info() }

// Warn starts a warn-level event.
func Warn() *zerolog.Event { return log.Warn() }

// Error starts an error-level event.
func Error() *zerolog.Event { return log.Error() }

// Fatal starts a fatal-level event; the program exits after Msg.
func Fatal() *zerolog.Event { return log.Fatal() }
