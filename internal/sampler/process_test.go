package sampler

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// --- helpers ---------------------------------------------------------------

// writeStat writes a /proc/[pid]/stat file into the fake procfs tree.
// Only the fields the sampler reads are meaningful: comm, state, ppid,
// starttime (clock ticks since boot) and rss (pages).
func writeStat(t *testing.T, root string, pid int, comm string, ppid int, starttime, rssPages int64) {
	t.Helper()
	dir := filepath.Join(root, strconv.Itoa(pid))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	rest := make([]string, 22)
	for i := range rest {
		rest[i] = "0"
	}
	rest[0] = "S"
	rest[1] = strconv.Itoa(ppid)
	rest[19] = strconv.FormatInt(starttime, 10)
	rest[21] = strconv.FormatInt(rssPages, 10)

	line := fmt.Sprintf("%d (%s) %s", pid, comm, strings.Join(rest, " "))
	if err := os.WriteFile(filepath.Join(dir, "stat"), []byte(line), 0o644); err != nil {
		t.Fatal(err)
	}
}

// writeCmdline writes the null-separated argv.
func writeCmdline(t *testing.T, root string, pid int, argv ...string) {
	t.Helper()
	dir := filepath.Join(root, strconv.Itoa(pid))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	data := strings.Join(argv, "\x00") + "\x00"
	if err := os.WriteFile(filepath.Join(dir, "cmdline"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

// writeBtime writes /proc/stat with the boot time.
func writeBtime(t *testing.T, root string, btime int64) {
	t.Helper()
	content := fmt.Sprintf("cpu  0 0 0 0\nbtime %d\nprocesses 100\n", btime)
	if err := os.WriteFile(filepath.Join(root, "stat"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// --- tests -----------------------------------------------------------------

func TestSnapshotBasicFields(t *testing.T) {
	root := t.TempDir()
	writeBtime(t, root, 1700000000)
	writeStat(t, root, 100, "hog", 1, 5000, 256)
	writeCmdline(t, root, 100, "/usr/bin/python", "./hog.py")

	s := NewProcessSampler(root)
	snap := s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot length = %d, want 1", len(snap))
	}

	e := snap[0]
	if e.PID != 100 || e.Name != "hog" || e.PPID != 1 {
		t.Errorf("entry = %+v", e)
	}
	if want := int64(256) * int64(os.Getpagesize()); e.RSSBytes != want {
		t.Errorf("rss = %d, want %d", e.RSSBytes, want)
	}
	if e.Cmdline != "/usr/bin/python ./hog.py" {
		t.Errorf("cmdline = %q", e.Cmdline)
	}
	// starttime 5000 ticks at USER_HZ 100 = 50 s after boot.
	if got := e.CreateTime.Unix(); got != 1700000000+50 {
		t.Errorf("create time = %d, want %d", got, 1700000000+50)
	}
}

func TestSnapshotCountsChildren(t *testing.T) {
	root := t.TempDir()
	writeBtime(t, root, 1700000000)
	writeStat(t, root, 10, "parent", 1, 0, 1)
	writeStat(t, root, 11, "childA", 10, 0, 1)
	writeStat(t, root, 12, "childB", 10, 0, 1)

	s := NewProcessSampler(root)
	for _, e := range s.Snapshot() {
		switch e.PID {
		case 10:
			if e.ChildCount != 2 {
				t.Errorf("parent child count = %d, want 2", e.ChildCount)
			}
		case 11, 12:
			if e.ChildCount != 0 {
				t.Errorf("pid %d child count = %d, want 0", e.PID, e.ChildCount)
			}
		}
	}
}

func TestSnapshotSkipsVanishedAndNonPID(t *testing.T) {
	root := t.TempDir()
	writeBtime(t, root, 1700000000)
	writeStat(t, root, 100, "ok", 1, 0, 1)

	// A directory whose stat vanished mid-iteration, and non-PID noise.
	if err := os.MkdirAll(filepath.Join(root, "200"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "sys"), 0o755); err != nil {
		t.Fatal(err)
	}

	s := NewProcessSampler(root)
	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].PID != 100 {
		t.Errorf("snapshot = %+v, want only pid 100", snap)
	}
}

func TestKernelThreadCmdlineFallsBackToComm(t *testing.T) {
	root := t.TempDir()
	writeBtime(t, root, 1700000000)
	writeStat(t, root, 2, "kthreadd", 0, 0, 0)

	s := NewProcessSampler(root)
	snap := s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot length = %d, want 1", len(snap))
	}
	if snap[0].Cmdline != "[kthreadd]" {
		t.Errorf("cmdline = %q, want [kthreadd]", snap[0].Cmdline)
	}
}

func TestCommWithParensAndSpaces(t *testing.T) {
	root := t.TempDir()
	writeBtime(t, root, 1700000000)
	writeStat(t, root, 300, "tmux: server (1)", 1, 0, 10)

	s := NewProcessSampler(root)
	snap := s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot length = %d, want 1", len(snap))
	}
	if snap[0].Name != "tmux: server (1)" {
		t.Errorf("name = %q", snap[0].Name)
	}
}
