package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger settings.
type Config struct {
	Level      string // debug, info, warn, error
	File       string // empty disables the file sink
	MaxSizeMB  int64
	MaxBackups int
}

// New builds the root structured logger. Output goes to a console writer on
// stdout and, when a file is configured, to a size-rotated log file.
func New(cfg Config) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}}
	if cfg.File != "" {
		rotator := &Rotator{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB * 1024 * 1024,
			MaxBackups: cfg.MaxBackups,
		}
		writers = append(writers, rotator)
	}

	return zerolog.New(io.MultiWriter(writers...)).
		With().
		Timestamp().
		Logger()
}
