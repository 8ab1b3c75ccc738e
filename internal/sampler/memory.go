package sampler

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MemoryOracle reports aggregate system memory from /proc/meminfo. No
// caching: every call reads the file afresh. The scheduler reads it once
// at the start of a tick and again after kills, so pressure relief sees
// post-kill usage.
type MemoryOracle struct {
	procRoot string
}

// NewMemoryOracle creates a MemoryOracle rooted at procRoot (normally
// "/proc"; tests point it at a fake tree).
func NewMemoryOracle(procRoot string) *MemoryOracle {
	return &MemoryOracle{procRoot: procRoot}
}

// Mem returns total RAM in bytes and the current used percentage.
// used% = (MemTotal - MemAvailable) / MemTotal; kernels without
// MemAvailable fall back to MemTotal - MemFree - Buffers - Cached.
func (o *MemoryOracle) Mem() (totalBytes int64, usedPct float64, err error) {
	f, err := os.Open(filepath.Join(o.procRoot, "meminfo"))
	if err != nil {
		return 0, 0, fmt.Errorf("open meminfo: %w", err)
	}
	defer f.Close()

	var total, free, available, buffers, cached int64
	haveAvailable := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		valStr := strings.TrimSuffix(strings.TrimSpace(parts[1]), " kB")
		val, _ := strconv.ParseInt(strings.TrimSpace(valStr), 10, 64)
		valBytes := val * 1024

		switch key {
		case "MemTotal":
			total = valBytes
		case "MemFree":
			free = valBytes
		case "MemAvailable":
			available = valBytes
			haveAvailable = true
		case "Buffers":
			buffers = valBytes
		case "Cached":
			cached = valBytes
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, fmt.Errorf("read meminfo: %w", err)
	}
	if total <= 0 {
		return 0, 0, fmt.Errorf("meminfo reported MemTotal=%d", total)
	}

	var used int64
	if haveAvailable {
		used = total - available
	} else {
		used = total - free - buffers - cached
	}
	if used < 0 {
		used = 0
	}
	return total, float64(used) / float64(total) * 100, nil
}
