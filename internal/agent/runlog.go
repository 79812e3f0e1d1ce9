package agent

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/etna-educacion/etna-chat/internal/domain"
)

// runLogTimeFormat is ISO-8601 with microseconds and the local offset.
const runLogTimeFormat = "2006-01-02T15:04:05.000000-07:00"

// RunLogger records thread and run identifiers.
type RunLogger interface {
	Log(kind domain.LogKind, id string)
	Close() error
}

type noopRunLogger struct{}

func (noopRunLogger) Log(domain.LogKind, string) {}
func (noopRunLogger) Close() error               { return nil }

// NoopRunLogger returns a RunLogger that discards everything.
func NoopRunLogger() RunLogger {
	return noopRunLogger{}
}

// FileRunLogger appends "<timestamp> - <KIND>: <id>" lines to a text file.
// The file is never truncated or rotated.
type FileRunLogger struct {
	mu     sync.Mutex
	file   *os.File
	now    func() time.Time
	logger *slog.Logger
}

// NewFileRunLogger opens path for appending, creating it and its parent
// directory if needed.
func NewFileRunLogger(path string, logger *slog.Logger) (*FileRunLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create run log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log %s: %w", path, err)
	}
	return &FileRunLogger{file: f, now: time.Now, logger: logger}, nil
}

// Log appends one record. Write errors are reported through slog and do not
// interrupt the chat.
func (l *FileRunLogger) Log(kind domain.LogKind, id string) {
	line := fmt.Sprintf("%s - %s: %s\n", l.now().Format(runLogTimeFormat), kind, id)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		l.logger.Warn("run log is closed", "kind", kind, "id", id)
		return
	}
	if _, err := l.file.WriteString(line); err != nil {
		l.logger.Error("failed to write run log", "kind", kind, "id", id, "error", err)
	}
}

// Close closes the underlying file.
func (l *FileRunLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
