//go:build !windows

package execone

import (
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// setProcAttr puts the child in its own process group, so a timeout can
// signal the whole tree rather than just the immediate child.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killGroup sends SIGTERM to the child's process group, then escalates
// to SIGKILL if it hasn't exited within a grace period.
func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid := cmd.Process.Pid
	_ = unix.Kill(-pgid, unix.SIGTERM)

	time.AfterFunc(3*time.Second, func() {
		_ = unix.Kill(-pgid, unix.SIGKILL)
	})
}
