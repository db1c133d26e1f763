// Package logging builds the process slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
)

// Options select the level and destination of log output.
type Options struct {
	Level string
	// File enables a rotating log file instead of stdout.
	File    string
	MaxSize int // megabytes
	MaxAge  int // days
}

// ParseLevel maps debug, info, warn and error to slog levels. Unknown names
// fall back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// New creates a JSON logger. The returned closer releases the log file and
// is a no-op for stdout.
func New(opts Options) (*slog.Logger, io.Closer) {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		l := &lumberjack.Logger{
			Filename: opts.File,
			MaxSize:  opts.MaxSize,
			MaxAge:   opts.MaxAge,
		}
		out, closer = l, l
	}
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: ParseLevel(opts.Level)})
	return slog.New(handler), closer
}

// Setup installs the logger as the slog default.
func Setup(opts Options) (io.Closer, error) {
	if opts.File != "" && (opts.MaxSize < 0 || opts.MaxAge < 0) {
		return nil, fmt.Errorf("log rotation limits cannot be negative")
	}
	logger, closer := New(opts)
	slog.SetDefault(logger)
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
