package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Log output formats accepted by Config.Format.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config selects the handler built by New.
type Config struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string `yaml:"level"`

	// Format is "console" (colored, human readable) or "json". Defaults to console.
	Format string `yaml:"format"`

	// AddSource adds the caller location to every record.
	AddSource bool `yaml:"addSource"`

	// NoColor disables ANSI colors in console format.
	NoColor bool `yaml:"noColor"`
}

// New builds a SlogLogger writing to w (os.Stdout when nil).
//
// Console format uses tint for colored output with a time-only timestamp; JSON format
// uses the standard slog JSON handler and is meant for log shippers.
//
// Example:
//
//	logger := logging.New(logging.Config{Level: "debug", Format: "json"}, os.Stderr)
func New(cfg Config, w io.Writer) *SlogLogger {
	if w == nil {
		w = os.Stdout
	}
	level := ParseLevel(cfg.Level)

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource})
	default:
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			AddSource:  cfg.AddSource,
			TimeFormat: time.TimeOnly,
			NoColor:    cfg.NoColor,
		})
	}

	return NewSlog(slog.New(handler))
}

// ParseLevel converts a level name to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
