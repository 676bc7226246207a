//go:build !windows

package toolchain

import (
	"os/exec"
	"syscall"
)

// configureProcess puts the child in its own process group so cancellation
// also reaches the processes it spawned itself.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
