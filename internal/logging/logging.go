// Package logging configures the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Formats.
const (
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

// Config selects the output format and minimum level.
type Config struct {
	// Format is "json" or "pretty". Empty picks pretty on a terminal and json otherwise.
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// ParseLevel accepts debug, info, warn and error in any case.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// NewHandler builds a handler writing to w. colorize only applies to pretty output.
func NewHandler(w io.Writer, format string, level slog.Level, colorize bool) slog.Handler {
	if format == FormatPretty {
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !colorize,
		})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// Setup installs the default logger on stdout and returns it.
func Setup(cfg Config) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	tty := term.IsTerminal(int(os.Stdout.Fd()))

	format := strings.ToLower(cfg.Format)
	switch format {
	case "":
		format = FormatJSON
		if tty {
			format = FormatPretty
		}
	case FormatJSON, FormatPretty:
	default:
		return nil, fmt.Errorf("unknown log format %q (valid: json, pretty)", cfg.Format)
	}

	logger := slog.New(NewHandler(os.Stdout, format, level, tty))
	slog.SetDefault(logger)
	return logger, nil
}
