package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.RWMutex
	logger *slog.Logger
)

// ParseLevel maps a level name to a slog level, defaulting to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup configures the process logger as a text handler on stderr.
func Setup(level string) {
	SetupWithWriter(level, os.Stderr)
}

// SetupWithWriter configures the process logger to write to w.
func SetupWithWriter(level string, w io.Writer) {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})

	mu.Lock()
	logger = slog.New(handler)
	mu.Unlock()
}

// Get returns the configured logger, or an INFO logger on stderr if Setup hasn't been called.
func Get() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}

	Setup("INFO")
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithDocument returns a logger with the document field set.
func WithDocument(component, document string) *slog.Logger {
	return WithComponent(component).With(slog.String("document", document))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
