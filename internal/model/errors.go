package model

import "errors"

// Sentinel errors shared across components, matched with errors.Is by
// callers that need to distinguish transient per-process failures from
// fatal ones. Plain stdlib errors, no custom error-stack library.
var (
	// ErrVanished means the target PID or container no longer exists.
	ErrVanished = errors.New("target vanished")
	// ErrPermission means the caller lacks permission to read or signal
	// the target.
	ErrPermission = errors.New("permission denied")
	// ErrRuntimeUnavailable means the external container runtime binary
	// could not be resolved; container mode degrades silently.
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")
	// ErrNoPrivilege means the process cannot signal arbitrary other
	// users' processes; this is fatal at startup (exit code 2).
	ErrNoPrivilege = errors.New("insufficient privilege to signal other processes")
)
