package actionlog

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/kestrel-ops/memwatchd/internal/model"
)

func TestAppendWireFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.log")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	l.now = func() time.Time { return time.Date(2026, 8, 1, 12, 30, 5, 0, time.UTC) }

	if err := l.Append("kill", 1234, "hog", model.ReasonLeak, 512, 98.7, "abc-123"); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := strings.TrimRight(string(data), "\n")
	want := "[2026-08-01 12:30:05] kill pid=1234 name=hog reason=leak rss=512 slope=98.7 id=abc-123"
	if got != want {
		t.Errorf("log line\n got %q\nwant %q", got, want)
	}
}

func TestAppendIsDurablePerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.log")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if err := l.Append("kill", 1, "a", model.ReasonPressure, 10, 1.0, "x"); err != nil {
		t.Fatal(err)
	}

	// Visible on disk before Close: every Append flushes its line.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "reason=pressure") {
		t.Errorf("line not flushed before Close: %q", data)
	}
}

func TestOpenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.log")
	for i := 0; i < 2; i++ {
		l, err := Open(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := l.Append("kill", i, "p", model.ReasonLeak, 1, 1, "id"); err != nil {
			t.Fatal(err)
		}
		l.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "\n"); n != 2 {
		t.Errorf("lines = %d, want 2 (reopen must append, not truncate)", n)
	}
}

func TestOpenCreatesPrivateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.log")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("log mode = %o, want 600", perm)
	}
}

func TestNewCorrelationID(t *testing.T) {
	re := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	id := NewCorrelationID()
	if !re.MatchString(id) {
		t.Errorf("correlation id %q is not a UUID", id)
	}
	if NewCorrelationID() == id {
		t.Error("two correlation ids collided")
	}
}
