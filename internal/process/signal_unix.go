//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in its own process group so the whole
// tree can be signalled at once.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminateGroup(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		// group may be gone while the leader lingers
		return syscall.Kill(pid, syscall.SIGTERM)
	}
	return nil
}

func killGroup(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		return syscall.Kill(pid, syscall.SIGKILL)
	}
	return nil
}

// pidAlive probes pid with signal 0; zombies count as dead.
func pidAlive(pid int) bool {
	if pid <= 0 || isZombie(pid) {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
