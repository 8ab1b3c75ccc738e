// Package external runs the two kinds of subprocess the watchdog ever
// shells out to — the container runtime CLI and the desktop notifier —
// through a single argv-only, timeout-bounded abstraction. No caller ever
// builds a shell string; commands are always passed as argument vectors.
package external

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// AllowedBinaryPaths are the directories a resolved binary is permitted
// to live in.
var AllowedBinaryPaths = []string{
	"/usr/local/sbin",
	"/usr/local/bin",
	"/usr/sbin",
	"/usr/bin",
	"/sbin",
	"/bin",
	"/snap/bin",
}

// SecurityChecker resolves a bare binary name against the allow-listed
// directories and verifies it before it is ever executed.
type SecurityChecker struct {
	allowedPaths []string
}

// NewSecurityChecker creates a SecurityChecker with the default allowed
// paths.
func NewSecurityChecker() *SecurityChecker {
	return &SecurityChecker{allowedPaths: AllowedBinaryPaths}
}

// ResolveBinary finds name in the allowed paths.
func (sc *SecurityChecker) ResolveBinary(name string) (string, error) {
	for _, dir := range sc.allowedPaths {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%q not found in allowed paths: %v", name, sc.allowedPaths)
}

// VerifyBinary checks that path is in an allowed directory, owned by
// root, and not world-writable.
func (sc *SecurityChecker) VerifyBinary(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	dir := filepath.Dir(absPath)
	allowed := false
	for _, allowedDir := range sc.allowedPaths {
		if dir == allowedDir {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("binary %q is not in an allowed directory", absPath)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat %q: %w", absPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%q is a directory", absPath)
	}

	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if stat.Uid != 0 {
			return fmt.Errorf("binary %q is not owned by root (uid=%d)", absPath, stat.Uid)
		}
	}

	if perm := info.Mode().Perm(); perm&0002 != 0 {
		return fmt.Errorf("binary %q is world-writable (mode=%s)", absPath, info.Mode())
	}

	return nil
}

// SanitizeEnv builds a minimal, safe subprocess environment: only a small
// allowlist of variables survives, preventing environment injection into
// whatever the container runtime or notifier does with them. The notifier
// additionally needs a display/session bus reference to reach a desktop
// session, so those are allowed through as well.
func (sc *SecurityChecker) SanitizeEnv() []string {
	safeVars := map[string]bool{
		"PATH":                     true,
		"HOME":                     true,
		"LANG":                     true,
		"LC_ALL":                   true,
		"TERM":                     true,
		"TMPDIR":                   true,
		"XDG_RUNTIME_DIR":          true,
		"DISPLAY":                  true,
		"DBUS_SESSION_BUS_ADDRESS": true,
	}

	var env []string
	for _, e := range os.Environ() {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 && safeVars[parts[0]] {
			env = append(env, e)
		}
	}

	hasPath := false
	for _, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			hasPath = true
			break
		}
	}
	if !hasPath {
		env = append(env, "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin")
	}

	return env
}
