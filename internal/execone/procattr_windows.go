//go:build windows

package execone

import "os/exec"

// setProcAttr is a no-op on Windows; process groups are a POSIX concept.
func setProcAttr(cmd *exec.Cmd) {}

// killGroup kills just the child process; Windows has no process-group
// signal to fan out to descendants without job objects, out of scope here.
func killGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
