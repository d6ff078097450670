// Package logging builds the process-wide zerolog logger.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/ayusman/signcaption/internal/config"
)

// TimeFormat is the timestamp layout used by console output.
const TimeFormat = "2006-01-02 15:04:05"

// New returns a logger writing to stderr according to cfg.
func New(cfg config.LogConfig) zerolog.Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(out io.Writer, cfg config.LogConfig) zerolog.Logger {
	w := out
	if cfg.Format != config.FormatJSON {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: TimeFormat, NoColor: cfg.NoColor}
	}
	return zerolog.New(w).Level(Level(cfg.Level)).With().Timestamp().Logger()
}

// Level maps a configured level to zerolog. Unknown values mean info.
func Level(l config.LogLevel) zerolog.Level {
	switch l {
	case config.LogDebug:
		return zerolog.DebugLevel
	case config.LogWarn:
		return zerolog.WarnLevel
	case config.LogError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
