// Package logging builds the process-wide JSON slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the level and an optional rotating log file.
type Options struct {
	Level string
	File  string
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New returns a JSON logger writing to stdout and, when a file is set, also
// to a size-rotated copy of that file. The closer releases the file.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	return build(os.Stdout, opts)
}

func build(stdout io.Writer, opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w      = stdout
		closer io.Closer = nopCloser{}
	)
	if opts.File != "" {
		rotation := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100, // megabytes
			MaxAge:     7,   // days
			MaxBackups: 5,
			Compress:   true,
		}
		w = io.MultiWriter(stdout, rotation)
		closer = rotation
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
