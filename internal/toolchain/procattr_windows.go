//go:build windows

package toolchain

import (
	"os/exec"
	"syscall"
)

// configureProcess uses the default kill-on-cancel behaviour on Windows where
// process groups are not available.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{}
}
