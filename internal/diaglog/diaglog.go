// Package diaglog writes the append-only diagnostic log used to debug TLS
// handshakes against self-hosted providers.
package diaglog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TimeFormat is ISO-8601 with millisecond precision.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// DefaultPath returns the log location in the system temp directory.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), "gitaccounts.log")
}

// Logger appends timestamped lines to a file. The file is opened per write
// so external rotation and deletion are harmless. A Logger with an empty
// path discards everything.
type Logger struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// New creates a Logger writing to path.
func New(path string) *Logger {
	return &Logger{path: path, now: time.Now}
}

// Path returns the log file location.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Log appends "<timestamp> - <text>". Write failures are returned but
// callers usually ignore them.
func (l *Logger) Log(text string) error {
	if l == nil || l.path == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open diagnostic log: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s - %s\n", l.now().Format(TimeFormat), text); err != nil {
		return fmt.Errorf("write diagnostic log: %w", err)
	}
	return nil
}

// Logf formats and appends a line.
func (l *Logger) Logf(format string, args ...any) error {
	return l.Log(fmt.Sprintf(format, args...))
}
