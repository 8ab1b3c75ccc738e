// Package actionlog appends every kill decision to the watchdog's
// append-only log file. Single writer, line-buffered: the scheduler is
// the only goroutine that ever calls Append, so each line is flushed as
// it is written and no channel or lock is needed.
package actionlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-ops/memwatchd/internal/model"
)

// DefaultFileName under the invoking user's home directory.
const DefaultFileName = "memory_leak_killer.log"

// Log is the append-only action log.
type Log struct {
	f   *os.File
	w   *bufio.Writer
	now func() time.Time // replaceable in tests
}

// DefaultPath returns ~/memory_leak_killer.log.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultFileName), nil
}

// Open opens (creating if needed) the log at path in append mode. Mode
// 0600: log lines carry other users' command lines. An unwritable log is
// fatal for the whole run, so the error propagates.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open action log %s: %w", path, err)
	}
	return &Log{f: f, w: bufio.NewWriter(f), now: time.Now}, nil
}

// Append writes one kill-decision line and flushes it. The correlation
// id lets all kills taken in one tick be grouped without timestamp
// parsing; the caller mints one id per tick.
func (l *Log) Append(event string, pid int, name string, reason model.KillReason, rssMB, slopeMBPerMin float64, correlationID string) error {
	line := fmt.Sprintf("[%s] %s pid=%d name=%s reason=%s rss=%.0f slope=%.1f id=%s\n",
		l.now().Format("2006-01-02 15:04:05"), event, pid, name, reason, rssMB, slopeMBPerMin, correlationID)
	if _, err := l.w.WriteString(line); err != nil {
		return fmt.Errorf("append action log: %w", err)
	}
	return l.w.Flush()
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	if err := l.w.Flush(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}

// NewCorrelationID mints the per-tick kill correlation id.
func NewCorrelationID() string {
	return uuid.NewString()
}
