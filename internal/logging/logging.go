package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ParseLevel accepts DEBUG, INFO, WARN (or WARNING) and ERROR in any case.
func ParseLevel(in string) (slog.Level, error) {
	s := strings.ToUpper(strings.TrimSpace(in))
	if s == "WARNING" {
		s = "WARN"
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", in)
	}
	return lvl, nil
}

// Setup builds a text logger on stderr at the given level and installs it
// as the slog default. When file is set, output is also written to a
// size-rotated log file. The returned func closes the file.
func Setup(level, file string) (*slog.Logger, func() error, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}

	var (
		w       io.Writer = os.Stderr
		cleanup           = func() error { return nil }
	)
	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		rotation := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100, // megabytes
			MaxAge:     7,   // days
			MaxBackups: 5,
			Compress:   true,
			LocalTime:  true,
		}
		w = io.MultiWriter(os.Stderr, rotation)
		cleanup = rotation.Close
	}

	logger := New(w, lvl)
	slog.SetDefault(logger)
	return logger, cleanup, nil
}

// New returns a text logger writing to w.
func New(w io.Writer, lvl slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// Discard returns a logger that drops everything; useful in tests.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
