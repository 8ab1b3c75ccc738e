// Package privilege gates startup: the watchdog is useless unless it
// can signal other users' processes, so the check runs before the log
// file is opened or the scheduler starts.
package privilege

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/kestrel-ops/memwatchd/internal/model"
)

// capKill is the CAP_KILL bit index from linux/capability.h.
const capKill = 5

// Check verifies the process can signal arbitrary processes: effective
// UID 0, or CAP_KILL in the effective capability set. Returns
// model.ErrNoPrivilege otherwise (exit code 2 at the CLI boundary).
func Check() error {
	if os.Geteuid() == 0 {
		return nil
	}

	hdr := unix.CapUserHeader{
		Version: unix.LINUX_CAPABILITY_VERSION_3,
		Pid:     int32(os.Getpid()),
	}
	var data [2]unix.CapUserData
	if err := unix.Capget(&hdr, &data[0]); err != nil {
		return model.ErrNoPrivilege
	}
	if data[0].Effective&(1<<capKill) != 0 {
		return nil
	}
	return model.ErrNoPrivilege
}
