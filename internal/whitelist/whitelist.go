// Package whitelist decides which processes may never be killed. The
// static set covers core OS services, window managers, indexing daemons,
// shells and the watchdog itself; on top of that a few structural
// identities (PID 1, the current process, its session leader) are always
// protected regardless of name.
package whitelist

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// defaultNames is the static basename set. Matching is exact and
// case-sensitive.
var defaultNames = []string{
	// init and kernel-adjacent
	"systemd", "init", "launchd", "kthreadd", "kernel_task",
	// session plumbing
	"dbus-daemon", "dbus-broker", "systemd-logind", "systemd-journald",
	"systemd-udevd", "NetworkManager", "wpa_supplicant", "sshd", "loginwindow",
	// display and window management
	"Xorg", "Xwayland", "gnome-shell", "kwin_wayland", "kwin_x11",
	"mutter", "WindowServer", "Dock", "Finder", "SystemUIServer",
	// indexing
	"tracker-miner-fs", "baloo_file", "mds", "mds_stores", "mdworker",
	// shells
	"bash", "zsh", "sh", "fish", "dash", "tmux", "screen",
}

// terminalEmulators are the basenames treated as "the terminal" for
// iterm-only mode: terminal-ancestry marking, and name protection when
// iterm-only is set. The session leader is protected by PID, not by name.
var terminalEmulators = []string{
	"iTerm2", "iTerm", "Terminal", "gnome-terminal-server", "gnome-terminal",
	"konsole", "xterm", "alacritty", "kitty", "wezterm-gui", "foot",
}

// Whitelist is the merged static + structural protection set. It is
// built once at startup and read-only afterwards.
type Whitelist struct {
	names         map[string]struct{}
	terminals     map[string]struct{}
	selfPID       int
	sessionLeader int
}

// New builds the runtime whitelist: the static basenames, any extra
// user-supplied names, this program's own basename, and the structural
// PIDs (self, session leader of the controlling terminal). When itermOnly
// is set the terminal emulators themselves join the name set too.
func New(extra []string, itermOnly bool) *Whitelist {
	w := &Whitelist{
		names:     make(map[string]struct{}, len(defaultNames)+len(extra)+1),
		terminals: make(map[string]struct{}, len(terminalEmulators)),
		selfPID:   os.Getpid(),
	}
	for _, n := range defaultNames {
		w.names[n] = struct{}{}
	}
	for _, n := range extra {
		w.names[n] = struct{}{}
	}
	w.names[filepath.Base(os.Args[0])] = struct{}{}

	for _, t := range terminalEmulators {
		w.terminals[t] = struct{}{}
		if itermOnly {
			w.names[t] = struct{}{}
		}
	}

	if sid, err := unix.Getsid(0); err == nil {
		w.sessionLeader = sid
	}
	return w
}

// ContainsName reports whether basename is in the name set: the static
// basenames, user-supplied extras, this program's own basename and, in
// iterm-only mode, the terminal emulators.
func (w *Whitelist) ContainsName(basename string) bool {
	_, ok := w.names[basename]
	return ok
}

// IsTerminal reports whether basename is a known terminal emulator.
func (w *Whitelist) IsTerminal(basename string) bool {
	_, ok := w.terminals[basename]
	return ok
}

// Protected reports whether (pid, basename) may never be killed: a
// whitelisted name, PID 1, the watchdog itself, or the session leader of
// the controlling terminal.
func (w *Whitelist) Protected(pid int, basename string) bool {
	if pid == 1 || pid == w.selfPID {
		return true
	}
	if w.sessionLeader != 0 && pid == w.sessionLeader {
		return true
	}
	return w.ContainsName(basename)
}

// SelfPID returns the watchdog's own PID.
func (w *Whitelist) SelfPID() int {
	return w.selfPID
}
