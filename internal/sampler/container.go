package sampler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kestrel-ops/memwatchd/internal/external"
	"github.com/kestrel-ops/memwatchd/internal/model"
)

// containerRuntimes are the runtime CLIs probed in order; the first one
// resolvable on the allow-listed binary paths wins.
var containerRuntimes = []string{"docker", "podman"}

// psFormat asks the runtime for exactly the fields the watchdog tracks,
// tab-separated, one container per line.
const psFormat = "{{.ID}}\t{{.Names}}\t{{.Image}}\t{{.CreatedAt}}\t{{.MemUsage}}"

// ContainerSampler enumerates running containers through the runtime's
// own ps view. Absence of a runtime is not an error: Snapshot returns an
// empty list and the scheduler silently skips container work.
type ContainerSampler struct {
	runner  external.Runner
	runtime string // resolved lazily, "" until first probe
	probed  bool
}

// NewContainerSampler creates a ContainerSampler backed by runner.
func NewContainerSampler(runner external.Runner) *ContainerSampler {
	return &ContainerSampler{runner: runner}
}

// Runtime returns the resolved runtime CLI name, probing on first call.
// Empty string means no runtime is installed.
func (s *ContainerSampler) Runtime() string {
	if !s.probed {
		s.probed = true
		for _, rt := range containerRuntimes {
			if s.runner.Available(rt) {
				s.runtime = rt
				break
			}
		}
	}
	return s.runtime
}

// Snapshot lists running containers with their RSS. A missing runtime or
// a failed invocation yields an empty slice, never an error — container
// mode degrades silently per the runtime contract.
func (s *ContainerSampler) Snapshot(ctx context.Context) []model.ContainerSnapshotEntry {
	rt := s.Runtime()
	if rt == "" {
		return nil
	}

	out, err := s.runner.Run(ctx, rt, "ps", "--no-trunc", "--format", psFormat)
	if err != nil {
		return nil
	}

	var entries []model.ContainerSnapshotEntry
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 5 {
			continue
		}
		entries = append(entries, model.ContainerSnapshotEntry{
			ID:         fields[0],
			Name:       fields[1],
			Image:      fields[2],
			CreateTime: parseContainerCreated(fields[3]),
			RSSBytes:   parseMemUsage(fields[4]),
		})
	}
	return entries
}

// Stop asks the runtime to stop id gracefully, waiting up to timeout
// before the runtime escalates on its own.
func (s *ContainerSampler) Stop(ctx context.Context, id string, timeout time.Duration) error {
	rt := s.Runtime()
	if rt == "" {
		return model.ErrRuntimeUnavailable
	}
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	if _, err := s.runner.Run(ctx, rt, "stop", "--time", strconv.Itoa(secs), id); err != nil {
		return fmt.Errorf("stop container %s: %w", id, err)
	}
	return nil
}

// parseContainerCreated handles the runtime's CreatedAt formats; docker
// emits "2026-01-02 15:04:05 -0700 MST", podman a close variant.
func parseContainerCreated(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05 -0700 MST",
		"2006-01-02 15:04:05 -0700",
		time.RFC3339,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// parseMemUsage extracts the in-use side of the runtime's "used / limit"
// memory column (e.g. "512MiB / 7.6GiB") and returns it in bytes.
func parseMemUsage(s string) int64 {
	if idx := strings.Index(s, "/"); idx >= 0 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)
	if s == "" || s == "--" {
		return 0
	}

	unitIdx := len(s)
	for i, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			unitIdx = i
			break
		}
	}
	val, err := strconv.ParseFloat(s[:unitIdx], 64)
	if err != nil {
		return 0
	}

	mult := float64(1)
	switch strings.ToLower(strings.TrimSpace(s[unitIdx:])) {
	case "kib", "kb", "k":
		mult = 1 << 10
	case "mib", "mb", "m":
		mult = 1 << 20
	case "gib", "gb", "g":
		mult = 1 << 30
	case "tib", "tb", "t":
		mult = 1 << 40
	}
	return int64(val * mult)
}
