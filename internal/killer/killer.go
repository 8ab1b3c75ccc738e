// Package killer terminates leak targets: OS processes with a graceful
// SIGTERM escalating to SIGKILL, containers with a runtime-level stop.
package killer

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kestrel-ops/memwatchd/internal/model"
)

// DefaultGracePeriod is how long a process gets to exit after SIGTERM
// before SIGKILL follows.
const DefaultGracePeriod = 3 * time.Second

// pollInterval between liveness probes during the grace wait.
const pollInterval = 100 * time.Millisecond

// Signaler delivers a signal to a PID. The production implementation is
// unix.Kill; tests substitute a fake.
type Signaler interface {
	Signal(pid int, sig unix.Signal) error
}

// SignalerFunc adapts a function to the Signaler interface.
type SignalerFunc func(pid int, sig unix.Signal) error

func (f SignalerFunc) Signal(pid int, sig unix.Signal) error { return f(pid, sig) }

// OSSignaler signals real processes.
func OSSignaler() Signaler {
	return SignalerFunc(func(pid int, sig unix.Signal) error {
		return unix.Kill(pid, sig)
	})
}

// ContainerStopper stops a container by id; implemented by the container
// sampler's runtime adapter.
type ContainerStopper interface {
	Stop(ctx context.Context, id string, timeout time.Duration) error
}

// Killer terminates processes and containers.
type Killer struct {
	signaler    Signaler
	gracePeriod time.Duration
	sleep       func(time.Duration) // replaceable in tests
}

// New creates a Killer with the given grace period (0 means the default).
func New(signaler Signaler, gracePeriod time.Duration) *Killer {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	return &Killer{signaler: signaler, gracePeriod: gracePeriod, sleep: time.Sleep}
}

// Kill terminates pid: SIGTERM first, then SIGKILL if the process is
// still alive after the grace period. Killing a vanished PID is a no-op
// reported as KillNotFound. The ctx cancels the grace wait early (the
// escalation still fires so a half-killed target is not left behind).
func (k *Killer) Kill(ctx context.Context, pid int) (model.KillOutcome, error) {
	if err := k.signaler.Signal(pid, unix.SIGTERM); err != nil {
		return classifySignalError(err)
	}

	deadline := time.Now().Add(k.gracePeriod)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			break
		}
		if !k.alive(pid) {
			return model.KillSucceeded, nil
		}
		k.sleep(pollInterval)
	}
	if !k.alive(pid) {
		return model.KillSucceeded, nil
	}

	if err := k.signaler.Signal(pid, unix.SIGKILL); err != nil {
		return classifySignalError(err)
	}
	return model.KillSucceeded, nil
}

// alive probes pid with the null signal.
func (k *Killer) alive(pid int) bool {
	return k.signaler.Signal(pid, 0) == nil
}

func classifySignalError(err error) (model.KillOutcome, error) {
	switch {
	case errors.Is(err, unix.ESRCH):
		return model.KillNotFound, model.ErrVanished
	case errors.Is(err, unix.EPERM):
		return model.KillPermissionDenied, model.ErrPermission
	default:
		return model.KillPermissionDenied, err
	}
}

// StopContainer gracefully stops a container through the runtime,
// bounded by timeout.
func StopContainer(ctx context.Context, stopper ContainerStopper, id string, timeout time.Duration) (model.KillOutcome, error) {
	if err := stopper.Stop(ctx, id, timeout); err != nil {
		if errors.Is(err, model.ErrRuntimeUnavailable) {
			return model.KillNotFound, err
		}
		return model.KillPermissionDenied, err
	}
	return model.KillSucceeded, nil
}
