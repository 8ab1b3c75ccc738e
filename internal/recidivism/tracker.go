// Package recidivism counts kills per command-line fingerprint in a
// rolling window and raises a desktop notification when the same program
// family keeps coming back.
package recidivism

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrel-ops/memwatchd/internal/external"
	"github.com/kestrel-ops/memwatchd/internal/model"
)

// notifyTimeout bounds the notification shell-out.
const notifyTimeout = 2 * time.Second

// Notifier emits one desktop notification. Failures are swallowed by the
// tracker; a missing notifier binary must not affect kill behaviour.
type Notifier interface {
	Notify(title, body string) error
}

// NotifySend is the Linux notifier: an argv-only invocation of
// notify-send through the external command runner.
type NotifySend struct {
	Runner external.Runner
}

// Notify sends one notification, bounded to notifyTimeout.
func (n *NotifySend) Notify(title, body string) error {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	_, err := n.Runner.Run(ctx, "notify-send", title, body)
	return err
}

// Tracker keeps the per-fingerprint kill FIFOs.
type Tracker struct {
	windowSeconds float64
	threshold     int
	notifier      Notifier
	counters      map[string]*model.FingerprintCounter
}

// New creates a Tracker. windowSeconds and threshold follow the
// --notify-window/--notify-threshold flags.
func New(windowSeconds float64, threshold int, notifier Notifier) *Tracker {
	return &Tracker{
		windowSeconds: windowSeconds,
		threshold:     threshold,
		notifier:      notifier,
		counters:      make(map[string]*model.FingerprintCounter),
	}
}

// RecordKill registers one successful kill of fingerprint at monotonic
// time now. Entries older than the window are dropped first; if the
// count then reaches the threshold a single notification fires and the
// FIFO resets so repeated kills cannot storm the desktop. Returns true
// when a notification was emitted.
func (t *Tracker) RecordKill(fingerprint string, now float64) bool {
	c, ok := t.counters[fingerprint]
	if !ok {
		c = &model.FingerprintCounter{Fingerprint: fingerprint}
		t.counters[fingerprint] = c
	}

	c.KillTimes = append(c.KillTimes, now)
	t.expire(c, now)

	if len(c.KillTimes) < t.threshold {
		return false
	}

	if t.notifier != nil {
		body := fmt.Sprintf("%q killed %d times in the last %d minutes",
			fingerprint, len(c.KillTimes), int(t.windowSeconds)/60)
		// Transient external failure: swallowed, the reset happens
		// either way so the next notification needs a fresh run.
		_ = t.notifier.Notify("Process Killer", body)
	}
	c.KillTimes = nil
	return true
}

// Count returns the in-window kill count for fingerprint at time now.
func (t *Tracker) Count(fingerprint string, now float64) int {
	c, ok := t.counters[fingerprint]
	if !ok {
		return 0
	}
	t.expire(c, now)
	return len(c.KillTimes)
}

func (t *Tracker) expire(c *model.FingerprintCounter, now float64) {
	cut := 0
	for cut < len(c.KillTimes) && now-c.KillTimes[cut] > t.windowSeconds {
		cut++
	}
	c.KillTimes = c.KillTimes[cut:]
}
